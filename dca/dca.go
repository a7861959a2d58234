// Package dca places the daily dollar-cost-averaging market buys.
package dca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/recomma/spotmaker/orderid"
	"github.com/recomma/spotmaker/schedule"
	"github.com/recomma/spotmaker/spot"
)

// DefaultInterval is the cadence at which the trigger time is checked.
const DefaultInterval = 60 * time.Second

var ErrInvalidTrigger = errors.New("dca: invalid trigger time")

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req spot.OrderRequest) (spot.OrderAck, error)
}

// Fire describes one trigger firing.
type Fire struct {
	Trigger string    `json:"trigger"`
	At      time.Time `json:"at"`
	Placed  int       `json:"placed"`
	Failed  int       `json:"failed"`
}

type Scheduler struct {
	gw     OrderPlacer
	pairs  []spot.Pair
	hour   int
	minute int
	loc    *time.Location
	clock  clock.PassiveClock
	newID  func(spot.Strategy) string
	logger *slog.Logger

	mu   sync.Mutex
	last Fire
}

type Option func(*Scheduler)

// WithLocation sets the zone the trigger time is read in. Defaults to
// time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(c clock.PassiveClock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.WithGroup("dca")
		}
	}
}

func WithIDGenerator(fn func(spot.Strategy) string) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New returns a scheduler that buys every pair's DCA notional once a day at
// hour:minute.
func New(gw OrderPlacer, pairs []spot.Pair, hour, minute int, opts ...Option) (*Scheduler, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("%w: %02d:%02d", ErrInvalidTrigger, hour, minute)
	}
	s := &Scheduler{
		gw:     gw,
		pairs:  pairs,
		hour:   hour,
		minute: minute,
		loc:    time.Local,
		clock:  clock.RealClock{},
		newID:  orderid.New,
		logger: slog.Default().WithGroup("dca"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) Loop() schedule.Loop {
	return schedule.Loop{
		Name:      "dca",
		Interval:  DefaultInterval,
		Immediate: true,
		Tick: func(ctx context.Context) {
			s.Tick(ctx)
		},
	}
}

// Tick checks the trigger against the current time and fires when due. It
// reports whether buys were attempted.
func (s *Scheduler) Tick(ctx context.Context) bool {
	return s.TickAt(ctx, s.clock.Now())
}

// TickAt fires when now, in the configured zone, falls in the trigger minute
// and that date's trigger has not fired yet.
func (s *Scheduler) TickAt(ctx context.Context, now time.Time) bool {
	local := now.In(s.loc)
	if local.Hour() != s.hour || local.Minute() != s.minute {
		return false
	}
	key := local.Format("2006-01-02 15:04")

	s.mu.Lock()
	if s.last.Trigger == key {
		s.mu.Unlock()
		return false
	}
	// Latched before placing; ticks during a slow fire see it as done.
	s.last = Fire{Trigger: key, At: now}
	s.mu.Unlock()

	fire := s.fire(ctx, key, now)

	s.mu.Lock()
	s.last = fire
	s.mu.Unlock()
	return true
}

func (s *Scheduler) fire(ctx context.Context, key string, now time.Time) Fire {
	fire := Fire{Trigger: key, At: now}
	for _, pair := range s.pairs {
		size := pair.DCASize()
		if !size.IsPositive() {
			s.logger.Warn("skipping pair without dca amount", slog.String("symbol", pair.Symbol))
			continue
		}
		req := spot.OrderRequest{
			Symbol:        spot.NormalizeSymbol(pair.Symbol),
			Side:          spot.Buy,
			Type:          spot.Market,
			Quantity:      size.String(),
			ClientOrderID: s.newID(spot.StrategyDCA),
		}
		ack, err := s.gw.PlaceOrder(ctx, req)
		if err != nil {
			fire.Failed++
			s.logger.Error("dca buy failed",
				slog.String("symbol", req.Symbol),
				slog.String("amount", req.Quantity),
				slog.String("error", err.Error()),
			)
			continue
		}
		fire.Placed++
		s.logger.Info("dca buy placed",
			slog.String("symbol", req.Symbol),
			slog.String("amount", req.Quantity),
			slog.String("client-order-id", req.ClientOrderID),
			slog.String("order-id", ack.OrderID),
		)
	}
	return fire
}

// LastFire reports the most recent firing. The zero value means none yet.
func (s *Scheduler) LastFire() Fire {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
