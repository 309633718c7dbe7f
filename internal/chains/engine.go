package chains

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/agents"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/automation"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/config"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/telemetry"
)

// ActionRunner executes action sequences.
type ActionRunner interface {
	Execute(ctx context.Context, t automation.Target, actions []automation.Action) automation.Report
}

// AgentReader supplies the agent prompt for steps run by the sweep.
type AgentReader interface {
	GetAgent(ctx context.Context, id uuid.UUID) (agents.Agent, error)
}

type Options struct {
	Location           *time.Location
	InlineWaitMax      time.Duration
	OutsideWindowRetry time.Duration
	SweepBatch         int
	SweepConcurrency   int
	SweepLease         time.Duration
}

// OptionsFromConfig reads the engine settings from the automation config.
func OptionsFromConfig(cfg config.AutomationConfig) Options {
	return Options{
		Location:           cfg.GetBusinessLocation(),
		InlineWaitMax:      cfg.GetChainInlineWaitMax(),
		OutsideWindowRetry: cfg.GetChainOutsideWindowRetry(),
	}
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.InlineWaitMax <= 0 {
		o.InlineWaitMax = 60 * time.Second
	}
	if o.OutsideWindowRetry <= 0 {
		o.OutsideWindowRetry = 15 * time.Minute
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = 100
	}
	if o.SweepConcurrency <= 0 {
		o.SweepConcurrency = 4
	}
	if o.SweepLease <= 0 {
		o.SweepLease = 5 * time.Minute
	}
	return o
}

// LeadContext is the lead a chain is started for.
type LeadContext struct {
	IntegrationID uuid.UUID
	Agent         agents.Agent
	LeadID        int64
	ContactID     int64
	ChatID        string
	PipelineID    int64
	StageID       int64
	Vars          map[string]string
}

type Engine struct {
	store  Store
	runner ActionRunner
	agents AgentReader
	opts   Options
	log    *logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	tracer        trace.Tracer
	stepsExecuted metric.Int64Counter
	runsStarted   metric.Int64Counter
}

func NewEngine(store Store, runner ActionRunner, agentReader AgentReader, opts Options, log *logger.Logger) *Engine {
	meter := telemetry.Meter("chains")
	return &Engine{
		store:         store,
		runner:        runner,
		agents:        agentReader,
		opts:          opts.withDefaults(),
		log:           log,
		now:           time.Now,
		sleep:         sleepContext,
		tracer:        telemetry.Tracer("chains"),
		stepsExecuted: telemetry.Counter(meter, "automation.chain_steps.executed", "Chain steps executed"),
		runsStarted:   telemetry.Counter(meter, "automation.chain_runs.started", "Chain runs started"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnStageEvent cancels the lead's running runs whose chain no longer allows
// the lead's stage, then starts every eligible chain of the agent.
func (e *Engine) OnStageEvent(ctx context.Context, lead LeadContext) error {
	log := e.log.WithContext(ctx).With("leadId", lead.LeadID, "stageId", lead.StageID)

	running, err := e.store.ListRunningRuns(ctx, lead.IntegrationID, lead.LeadID)
	if err != nil {
		return fmt.Errorf("list running runs: %w", err)
	}
	for _, run := range running {
		chain, err := e.store.GetChain(ctx, run.ChainID)
		if err != nil && !errors.Is(err, ErrChainNotFound) {
			return fmt.Errorf("load chain %s: %w", run.ChainID, err)
		}
		if err == nil && chain.AllowsStage(lead.PipelineID, lead.StageID) {
			continue
		}
		if _, err := e.Cancel(ctx, run.ID, "lead moved to stage "+strconv.FormatInt(lead.StageID, 10)); err != nil && !errors.Is(err, ErrInvalidTransition) {
			log.Error("failed to cancel chain run on stage change", "runId", run.ID, "error", err)
		}
	}

	chains, err := e.store.ListActiveChains(ctx, lead.Agent.ID)
	if err != nil {
		return fmt.Errorf("list chains: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, chain := range chains {
		g.Go(func() error {
			if _, err := e.Start(gctx, chain, lead); err != nil {
				log.Error("chain start failed", "chainId", chain.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Start runs the chain for the lead if every gate passes. A failed gate is a
// silent skip and returns a nil run.
func (e *Engine) Start(ctx context.Context, chain Chain, lead LeadContext) (*Run, error) {
	ctx, span := e.tracer.Start(ctx, "chains.start", trace.WithAttributes(
		attribute.String("chain.id", chain.ID.String()),
		attribute.Int64("lead.id", lead.LeadID),
	))
	defer span.End()

	log := e.log.WithContext(ctx).With("chainId", chain.ID, "leadId", lead.LeadID)
	now := e.now()

	switch {
	case !chain.IsActive:
		log.Debug("chain skipped: inactive")
		return nil, nil
	case len(chain.Steps) == 0:
		log.Debug("chain skipped: no steps")
		return nil, nil
	case !chain.AllowsStage(lead.PipelineID, lead.StageID):
		log.Debug("chain skipped: stage not allowed", "pipelineId", lead.PipelineID, "stageId", lead.StageID)
		return nil, nil
	case !chain.Schedule.Open(now, e.opts.Location):
		log.Debug("chain skipped: outside schedule window")
		return nil, nil
	}

	if chain.RunLimit > 0 {
		count, err := e.store.CountRuns(ctx, chain.ID, lead.LeadID)
		if err != nil {
			return nil, fmt.Errorf("count runs: %w", err)
		}
		if count >= chain.RunLimit {
			log.Debug("chain skipped: run limit reached", "runs", count, "limit", chain.RunLimit)
			return nil, nil
		}
	}

	if err := checkTransition(StatusPending, StatusRunning); err != nil {
		return nil, err
	}
	run := Run{
		ID:            uuid.New(),
		ChainID:       chain.ID,
		LeadID:        lead.LeadID,
		ContactID:     lead.ContactID,
		ChatID:        lead.ChatID,
		IntegrationID: lead.IntegrationID,
		AgentID:       lead.Agent.ID,
		Status:        StatusRunning,
		StartedAt:     now.UTC(),
	}
	claimed, err := e.store.ClaimRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	if !claimed {
		log.Debug("chain skipped: run already in progress")
		return nil, nil
	}

	e.runsStarted.Add(ctx, 1)
	log.Info("chain run started", "runId", run.ID, "steps", len(chain.Steps))

	if err := e.advance(ctx, chain, run, 0, lead.Agent.SystemPrompt, lead.Vars); err != nil {
		return &run, err
	}
	return &run, nil
}

// advance runs steps from index from onwards until a step must be scheduled
// or the run ends.
func (e *Engine) advance(ctx context.Context, chain Chain, run Run, from int, systemPrompt string, vars map[string]string) error {
	log := e.log.WithContext(ctx).With("runId", run.ID, "chainId", chain.ID)

	for i := from; i < len(chain.Steps); i++ {
		step := chain.Steps[i]
		delay, err := step.Delay()
		if err != nil {
			log.Warn("invalid step delay, running without delay", "stepId", step.ID, "error", err)
			delay = 0
		}

		if delay > e.opts.InlineWaitMax {
			return e.schedule(ctx, run, step, e.now().Add(delay))
		}
		if delay > 0 {
			executeAt := e.now().Add(delay)
			if err := e.sleep(ctx, delay); err != nil {
				// Keep the step so the sweep finishes the run.
				return e.schedule(context.WithoutCancel(ctx), run, step, executeAt)
			}
		}

		status, err := e.runStatus(ctx, run.ID)
		if err != nil {
			return err
		}
		if status != StatusRunning {
			log.Info("chain run no longer running, stopping", "status", status)
			return nil
		}

		report := e.executeStep(ctx, run, step, systemPrompt, vars)
		if report.Halted {
			return nil
		}
		if err := e.store.AdvanceRun(ctx, run.ID, i+1); err != nil {
			return fmt.Errorf("advance run: %w", err)
		}
	}

	completed, err := e.store.CompleteRun(ctx, run.ID, e.now().UTC())
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if completed {
		log.Info("chain run completed")
	}
	return nil
}

func (e *Engine) schedule(ctx context.Context, run Run, step Step, executeAt time.Time) error {
	err := e.store.ScheduleStep(ctx, ScheduledStep{
		ID:        uuid.New(),
		RunID:     run.ID,
		StepID:    step.ID,
		ExecuteAt: executeAt.UTC(),
		Status:    StepPending,
	})
	if err != nil {
		return fmt.Errorf("schedule step: %w", err)
	}
	e.log.WithContext(ctx).Info("chain step scheduled", "runId", run.ID, "stepId", step.ID, "executeAt", executeAt.UTC())
	return nil
}

func (e *Engine) executeStep(ctx context.Context, run Run, step Step, systemPrompt string, vars map[string]string) automation.Report {
	report := e.runner.Execute(ctx, automation.Target{
		IntegrationID: run.IntegrationID,
		AgentID:       run.AgentID,
		LeadID:        run.LeadID,
		ContactID:     run.ContactID,
		ChatID:        run.ChatID,
		SystemPrompt:  systemPrompt,
		Vars:          vars,
		Proceed: func(ctx context.Context) error {
			status, err := e.runStatus(ctx, run.ID)
			if err != nil {
				return err
			}
			if status != StatusRunning {
				return fmt.Errorf("chain run %s", status)
			}
			return nil
		},
	}, step.Actions)

	e.stepsExecuted.Add(ctx, 1, metric.WithAttributes(attribute.Bool("halted", report.Halted)))
	e.log.WithContext(ctx).Info("chain step executed",
		"runId", run.ID, "stepId", step.ID, "order", step.Order,
		"executed", report.Executed(), "failed", report.Failed(), "halted", report.Halted)
	return report
}

func (e *Engine) runStatus(ctx context.Context, runID uuid.UUID) (RunStatus, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("load run: %w", err)
	}
	return run.Status, nil
}

// Cancel marks the run cancelled and cancels its pending steps. Executed
// steps are left as they are.
func (e *Engine) Cancel(ctx context.Context, runID uuid.UUID, reason string) (int, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	if err := checkTransition(run.Status, StatusCancelled); err != nil {
		return 0, err
	}
	cancelled, err := e.store.CancelRun(ctx, runID, reason, e.now().UTC())
	if err != nil {
		return 0, err
	}
	e.log.WithContext(ctx).Info("chain run cancelled", "runId", runID, "reason", reason, "stepsCancelled", cancelled)
	return cancelled, nil
}

// RunDetails returns the run with its scheduled steps.
func (e *Engine) RunDetails(ctx context.Context, runID uuid.UUID) (Run, []ScheduledStep, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return Run{}, nil, err
	}
	steps, err := e.store.ListScheduledSteps(ctx, runID)
	if err != nil {
		return Run{}, nil, err
	}
	return run, steps, nil
}
