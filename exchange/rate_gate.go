package exchange

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// RateGate paces outbound REST calls that share the account's request
// budget. Implementations must be safe for concurrent use.
type RateGate interface {
	Wait(ctx context.Context) error
	Cooldown(d time.Duration)
}

const defaultRequestSpacing = 100 * time.Millisecond

// NewRateGate returns a RateGate that enforces a minimum spacing between
// requests. A non-positive spacing falls back to the default.
func NewRateGate(minSpacing time.Duration, clk clock.Clock) RateGate {
	if minSpacing <= 0 {
		minSpacing = defaultRequestSpacing
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &rateGate{
		clock:      clk,
		minSpacing: minSpacing,
		next:       clk.Now(),
	}
}

type rateGate struct {
	clock      clock.Clock
	mu         sync.Mutex
	minSpacing time.Duration
	next       time.Time
}

func (g *rateGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.clock.Now()
		wait := g.next.Sub(now)
		if wait <= 0 {
			g.next = now.Add(g.minSpacing)
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		timer := g.clock.NewTimer(wait)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Cooldown pushes the next slot out by d, typically after the exchange
// answered 429.
func (g *rateGate) Cooldown(d time.Duration) {
	if d <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.clock.Now().Add(d)
	if next.After(g.next) {
		g.next = next
	}
}
