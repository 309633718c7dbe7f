package scheduler

import (
	"context"
	"time"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

const defaultChainSweepInterval = 30 * time.Second

// Sweeper runs due chain steps.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// ChainSweep polls for due chain steps.
type ChainSweep struct {
	sweeper  Sweeper
	interval time.Duration
	log      *logger.Logger
}

func NewChainSweep(sweeper Sweeper, interval time.Duration, log *logger.Logger) *ChainSweep {
	if interval <= 0 {
		interval = defaultChainSweepInterval
	}
	return &ChainSweep{sweeper: sweeper, interval: interval, log: log}
}

func (s *ChainSweep) Run(ctx context.Context) {
	if s == nil || s.sweeper == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ChainSweep) sweep(ctx context.Context) {
	n, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.log.Warn("chain sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("chain sweep ran due steps", "steps", n)
	}
}
