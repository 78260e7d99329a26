// Package worker hosts the background loops of the API server.
package worker

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Expirer releases expired pending orders; implemented by the order service.
type Expirer interface {
	ExpirePending(ctx context.Context, now time.Time, limit int) (int, error)
}

// SweeperConfig tunes the expiry loop.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// BatchSize caps pending orders released per sweep so a backlog cannot
	// monopolize the pool.
	BatchSize int
}

// Sweeper periodically releases stock held by pending orders whose payment
// window elapsed without confirmation.
type Sweeper struct {
	expirer Expirer
	cfg     SweeperConfig
}

// NewSweeper creates a Sweeper with sane defaults for zero config values.
func NewSweeper(expirer Expirer, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{expirer: expirer, cfg: cfg}
}

// Run sweeps until ctx is cancelled. Errors are logged and the loop keeps
// going: a failed sweep only delays expiry until the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.sweep(ctx, now)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	lg := zctx.From(ctx)
	swept, err := s.expirer.ExpirePending(ctx, now.UTC(), s.cfg.BatchSize)
	if err != nil {
		lg.Error("sweep expired pending orders", zap.Error(err))
		return
	}
	if swept > 0 {
		lg.Info("released expired pending orders", zap.Int("count", swept))
	}
}
