package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than limit goroutines are running.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds %d", n, limit)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when any recent GC pause exceeded limit.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if worst := maxPause(stats.Pause); worst > limit {
			return errors.Errorf("GC pause %s exceeds %s", worst, limit)
		}
		return nil
	}
}

func maxPause(pauses []time.Duration) time.Duration {
	var worst time.Duration
	for _, p := range pauses {
		worst = max(worst, p)
	}
	return worst
}

// PingCheck adapts a store ping, such as (*pgxpool.Pool).Ping or
// (*sql.DB).PingContext.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}
