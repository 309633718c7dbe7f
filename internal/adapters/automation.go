// Package adapters wires the automation modules to each other and to their
// Postgres, CRM and LLM backends.
package adapters

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/agents"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/automation"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/chains"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/conversation"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/email"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/handoff"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/processing"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/triggers"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/ai/llm"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/config"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

// AutomationConfig is every setting the automation modules read.
type AutomationConfig interface {
	config.CRMConfig
	config.LLMConfig
	config.SMTPConfig
	config.AutomationConfig
}

// Automation holds the wired automation services.
type Automation struct {
	Processor *processing.Processor
	Chains    *chains.Engine
	Handoff   *handoff.Service
}

func NewAutomation(cfg AutomationConfig, pool *pgxpool.Pool, log *logger.Logger) *Automation {
	crmSource := crm.NewProvider(crm.NewIntegrationRepository(pool), cfg, log)
	gateway := llm.NewGatewayFromConfig(cfg)
	agentRepo := agents.NewRepository(pool)
	history := conversation.NewRepository(pool)
	recorder := conversation.Recorder{History: history}

	pauses := handoff.NewService(handoff.NewStore(pool), agentRepo, log)
	executor := automation.NewExecutor(crmSource, gateway, pauses, Mailer(email.NewSMTPSenderFromConfig(cfg)), recorder, log)

	engine := chains.NewEngine(chains.NewRepository(pool), executor, agentRepo, chains.OptionsFromConfig(cfg), log)
	triggerSvc := triggers.NewService(
		triggers.NewRepository(pool),
		triggers.NewEvaluator(gateway, log),
		triggers.NewCounter(cfg.GetTriggerCounterStore(), pool),
		executor,
		crmSource,
		log,
	)
	responder := conversation.NewResponder(pauses, nil, nil, gateway, crmSource, recorder, log)

	processor := processing.New(processing.Deps{
		Agents:   agentRepo,
		Pauser:   pauses,
		Chains:   engine,
		Triggers: triggerSvc,
		Replier:  responder,
		History:  history,
		Chats:    history,
		CRM:      crmSource,
	}, log)

	return &Automation{
		Processor: processor,
		Chains:    engine,
		Handoff:   pauses,
	}
}
