package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck flags a goroutine leak once the count passes threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// PingCheck adapts a Ping-style dependency probe, e.g. pgxpool.Pool.Ping.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// GCMaxPauseCheck flags memory pressure when any observed GC pause exceeded
// threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		for _, pause := range stats.PauseNs {
			if time.Duration(pause) > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", time.Duration(pause), threshold)
			}
		}
		return nil
	}
}
