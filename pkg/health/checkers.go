package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails while more than limit goroutines are running.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit %d", n, limit)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when the most recent stop-the-world pause took
// longer than limit.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if stats.NumGC == 0 {
			return nil
		}
		if last := stats.Pause[0]; last > limit {
			return errors.Errorf("last GC pause %s, limit %s", last, limit)
		}
		return nil
	}
}

// Pinger is implemented by the Postgres pool wrapper and the Kafka broker
// list.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck pings p. A nil p passes, so optional dependencies can be
// registered unconditionally.
func PingCheck(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		if err := p.Ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}
