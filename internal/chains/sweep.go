package chains

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Sweep executes scheduled steps that are due. It returns how many steps it
// claimed. Steps are never executed before their executeAt.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	now := e.now()
	due, err := e.store.ClaimDueSteps(ctx, now, e.opts.SweepBatch, e.opts.SweepLease)
	if err != nil {
		return 0, fmt.Errorf("claim due steps: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.SweepConcurrency)
	for _, step := range due {
		g.Go(func() error {
			e.runDue(gctx, step, now)
			return nil
		})
	}
	_ = g.Wait()
	return len(due), nil
}

func (e *Engine) runDue(ctx context.Context, due ScheduledStep, now time.Time) {
	ctx, span := e.tracer.Start(ctx, "chains.run_due_step", trace.WithAttributes(
		attribute.String("run.id", due.RunID.String()),
		attribute.String("step.id", due.StepID.String()),
	))
	defer span.End()

	log := e.log.WithContext(ctx).With("scheduledStepId", due.ID, "runId", due.RunID)

	if due.ExecuteAt.After(now) {
		log.Warn("claimed step is not due yet, leaving it", "executeAt", due.ExecuteAt)
		return
	}

	finish := func(status StepStatus, msg string) {
		if err := e.store.FinishStep(ctx, due.ID, status, msg, e.now().UTC()); err != nil {
			log.Error("failed to finish scheduled step", "status", status, "error", err)
		}
	}

	run, err := e.store.GetRun(ctx, due.RunID)
	if errors.Is(err, ErrRunNotFound) {
		finish(StepCancelled, "run not found")
		return
	}
	if err != nil {
		log.Error("failed to load run for due step", "error", err)
		return
	}
	if run.Status != StatusRunning {
		finish(StepCancelled, "run "+string(run.Status))
		return
	}

	chain, err := e.store.GetChain(ctx, run.ChainID)
	if errors.Is(err, ErrChainNotFound) {
		finish(StepFailed, "chain not found")
		return
	}
	if err != nil {
		log.Error("failed to load chain for due step", "error", err)
		return
	}

	if !chain.Schedule.Open(now, e.opts.Location) {
		next := now.Add(e.opts.OutsideWindowRetry).UTC()
		if err := e.store.RescheduleStep(ctx, due.ID, next); err != nil {
			log.Error("failed to reschedule step outside window", "error", err)
			return
		}
		log.Info("chain step outside schedule window, rescheduled", "executeAt", next)
		return
	}

	idx := chain.stepIndex(due.StepID)
	if idx < 0 {
		finish(StepFailed, "step no longer part of chain")
		return
	}

	systemPrompt := ""
	if e.agents != nil {
		if agent, err := e.agents.GetAgent(ctx, run.AgentID); err == nil {
			systemPrompt = agent.SystemPrompt
		}
	}
	vars := runVars(run)

	report := e.executeStep(ctx, run, chain.Steps[idx], systemPrompt, vars)
	if report.Halted {
		finish(StepCancelled, "run stopped during step")
		return
	}
	finish(StepExecuted, "")
	if err := e.store.AdvanceRun(ctx, run.ID, idx+1); err != nil {
		log.Error("failed to advance run", "error", err)
		return
	}

	if err := e.advance(ctx, chain, run, idx+1, systemPrompt, vars); err != nil {
		log.Error("failed to continue chain run", "error", err)
	}
}

func runVars(run Run) map[string]string {
	return map[string]string{
		"lead_id": fmt.Sprintf("%d", run.LeadID),
	}
}
