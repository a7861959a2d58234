// Package schedule runs the engine's periodic activities.
//
// Every loop gets its own goroutine and its own timer, so a slow tick in one
// loop never delays another. All loops stop when the context is cancelled,
// and a fake clock drives them in tests.
package schedule

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	rlog "github.com/recomma/spotmaker/log"
)

// Loop is one periodic activity.
type Loop struct {
	Name     string
	Interval time.Duration
	// Jitter adds a random delay in [0, Jitter) to every wait.
	Jitter time.Duration
	// Immediate runs the first tick right away instead of after Interval.
	Immediate bool
	Tick      func(ctx context.Context)
}

// Run blocks until ctx is cancelled, running every loop concurrently. Each
// tick receives a context carrying a logger tagged with the loop name and
// the tick number.
func Run(ctx context.Context, clk clock.WithTicker, logger *slog.Logger, loops ...Loop) error {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("schedule")

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		if l.Tick == nil || l.Interval <= 0 {
			logger.Warn("skipping loop without tick or interval", slog.String("loop", l.Name))
			continue
		}
		g.Go(func() error {
			runLoop(gctx, clk, logger.With(slog.String("loop", l.Name)), l)
			return nil
		})
	}
	return g.Wait()
}

func runLoop(ctx context.Context, clk clock.WithTicker, logger *slog.Logger, l Loop) {
	logger.Debug("loop started", slog.Duration("interval", l.Interval), slog.Duration("jitter", l.Jitter))
	defer logger.Debug("loop stopped")

	ctx = rlog.ContextWithLogger(ctx, logger)
	var n int64
	tick := func() {
		n++
		tickCtx, _ := rlog.With(ctx, slog.Int64("tick", n))
		l.Tick(tickCtx)
	}

	if l.Immediate {
		tick()
	}

	if l.Jitter <= 0 {
		ticker := clk.NewTicker(l.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				tick()
			}
		}
	}

	for {
		timer := clk.NewTimer(l.Interval + rand.N(l.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
			tick()
		}
	}
}
