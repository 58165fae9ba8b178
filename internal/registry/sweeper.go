package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/advocon/chatgate/internal/infrastructure/logging"
)

// Sweeper periodically evicts stale connections from a registry. It runs
// independently of any single connection's lifecycle.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *logging.Logger
}

// NewSweeper creates a sweeper over the given registry.
func NewSweeper(registry *Registry, interval time.Duration, logger *logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{registry: registry, interval: interval, logger: logger}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.registry.Sweep(now); n > 0 {
				s.logger.Info("sweep completed", zap.Int("evicted", n))
			}
		}
	}
}
