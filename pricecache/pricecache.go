// Package pricecache holds the latest polled best bid per symbol.
//
// The quote loop is the only writer. Each refresh swaps in a new immutable
// snapshot, so readers never block and never observe a partial update.
package pricecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/recomma/spotmaker/spot"
)

// Snapshot is a point-in-time view of best bids. Treat it as read-only.
type Snapshot struct {
	Bids      map[string]decimal.Decimal
	UpdatedAt time.Time
}

// Mirror receives every snapshot after it is installed, e.g. to publish it to
// an external store.
type Mirror interface {
	Publish(ctx context.Context, snap Snapshot) error
}

type Cache struct {
	current atomic.Pointer[Snapshot]
	mirror  Mirror
	logger  *slog.Logger
}

type Option func(*Cache)

func WithMirror(m Mirror) Option {
	return func(c *Cache) { c.mirror = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger.WithGroup("pricecache")
		}
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{logger: slog.Default().WithGroup("pricecache")}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(&Snapshot{Bids: map[string]decimal.Decimal{}})
	return c
}

// Replace installs bids wholesale. Symbols absent from bids disappear.
func (c *Cache) Replace(ctx context.Context, bids map[string]decimal.Decimal, at time.Time) {
	snap := &Snapshot{Bids: maps.Clone(bids), UpdatedAt: at}
	if snap.Bids == nil {
		snap.Bids = map[string]decimal.Decimal{}
	}
	c.current.Store(snap)

	if c.mirror == nil {
		return
	}
	if err := c.mirror.Publish(ctx, *snap); err != nil {
		c.logger.Warn("could not mirror price snapshot", slog.String("error", err.Error()))
	}
}

func (c *Cache) Get(symbol string) (decimal.Decimal, bool) {
	bid, ok := c.current.Load().Bids[spot.NormalizeSymbol(symbol)]
	return bid, ok
}

// Snapshot returns the current snapshot. The map is shared; do not modify it.
func (c *Cache) Snapshot() Snapshot {
	return *c.current.Load()
}

// BidsFromTickers extracts best bids. When symbols is non-empty only those
// symbols are kept. Unparseable or non-positive bids are skipped and reported
// in the returned error alongside the usable entries.
func BidsFromTickers(tickers []spot.BookTicker, symbols []string) (map[string]decimal.Decimal, error) {
	var want map[string]struct{}
	if len(symbols) > 0 {
		want = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			want[spot.NormalizeSymbol(s)] = struct{}{}
		}
	}

	out := make(map[string]decimal.Decimal, len(tickers))
	var errs []error
	for _, t := range tickers {
		sym := spot.NormalizeSymbol(t.Symbol)
		if want != nil {
			if _, ok := want[sym]; !ok {
				continue
			}
		}
		bid, err := t.BestBid.Decimal()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: bid %q: %w", sym, t.BestBid, err))
			continue
		}
		if !bid.IsPositive() {
			errs = append(errs, fmt.Errorf("%s: non-positive bid %q", sym, t.BestBid))
			continue
		}
		out[sym] = bid
	}
	return out, errors.Join(errs...)
}
