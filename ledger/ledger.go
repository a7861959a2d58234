// Package ledger reconciles buy fills with the sells placed against them.
//
// The Ledger is the only writer of trade rows and of their persisted copies.
// Every mutation is persisted while the lock is held, so a store never sees
// two writers and readers never observe a half-applied change.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrDuplicateKey = errors.New("ledger: duplicate key")
	ErrMissingKey   = errors.New("ledger: buy fill has no key")
)

// Store persists the full row set. Save replaces whatever was stored before.
type Store interface {
	Save(ctx context.Context, rows []Row) error
	Load(ctx context.Context) ([]Row, error)
}

type Ledger struct {
	mu     sync.Mutex
	rows   []Row
	index  map[string]int
	stores []Store
	logger *slog.Logger
}

type Option func(*Ledger)

// WithStore adds a persistence target. The first store added is the one Load
// reads from.
func WithStore(s Store) Option {
	return func(l *Ledger) {
		if s != nil {
			l.stores = append(l.stores, s)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger.WithGroup("ledger")
		}
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		index:  make(map[string]int),
		logger: slog.Default().WithGroup("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load replaces the in-memory rows with the persisted copy.
func (l *Ledger) Load(ctx context.Context) error {
	if len(l.stores) == 0 {
		return nil
	}
	rows, err := l.stores[0].Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rows = rows
	l.index = make(map[string]int, len(rows))
	for i, r := range rows {
		if r.Orphan() {
			continue
		}
		if _, dup := l.index[r.BuyID]; dup {
			l.logger.Warn("duplicate buy id in persisted ledger", slog.String("buy-id", r.BuyID), slog.Int("row", i))
			continue
		}
		l.index[r.BuyID] = i
	}

	l.logger.Info("ledger loaded", slog.Int("rows", len(rows)), slog.Int("open", l.openLocked()))
	return nil
}

// RecordBuyFill inserts a row keyed by f.ID. An existing key is never
// overwritten; ErrDuplicateKey is returned instead. A fill without a key
// fails with ErrMissingKey, since an empty buy id marks an orphan row.
func (l *Ledger) RecordBuyFill(ctx context.Context, f Fill) error {
	if f.ID == "" {
		return fmt.Errorf("%w: %s", ErrMissingKey, f.Symbol)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.index[f.ID]; exists {
		l.logger.Warn("ignoring duplicate buy fill", slog.String("buy-id", f.ID), slog.String("symbol", f.Symbol))
		return fmt.Errorf("%w: %s", ErrDuplicateKey, f.ID)
	}

	l.rows = append(l.rows, Row{
		Strategy: string(f.Strategy),
		Symbol:   f.Symbol,
		BuyTime:  formatTime(f.Time),
		BuyID:    f.ID,
		BuyQty:   f.Qty,
		BuyPrice: f.Price,
		BuyFee:   f.Fee,
		BuyTotal: f.Total,
	})
	l.index[f.ID] = len(l.rows) - 1

	l.logger.Info("buy fill recorded",
		slog.String("buy-id", f.ID),
		slog.String("symbol", f.Symbol),
		slog.String("qty", f.Qty),
		slog.String("price", f.Price),
	)
	return l.persistLocked(ctx)
}

// RecordSellFill completes the row whose buy key is key. Without a match the
// sell is appended as an orphan row. It reports whether a row was matched.
func (l *Ledger) RecordSellFill(ctx context.Context, key string, f Fill) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[key]
	if !ok {
		l.rows = append(l.rows, sellSide(Row{Strategy: string(f.Strategy), Symbol: f.Symbol}, f))
		l.logger.Info("orphan sell fill recorded",
			slog.String("sell-id", f.ID),
			slog.String("symbol", f.Symbol),
		)
		return false, l.persistLocked(ctx)
	}

	row := l.rows[i]
	if row.Closed() {
		l.logger.Warn("ignoring duplicate sell fill", slog.String("buy-id", key), slog.String("sell-id", f.ID))
		return true, fmt.Errorf("%w: sell for %s", ErrDuplicateKey, key)
	}

	row = sellSide(row, f)
	if pnl, err := realized(row); err != nil {
		l.logger.Warn("could not compute pnl", slog.String("buy-id", key), slog.String("error", err.Error()))
	} else {
		row.PnL = pnl.String()
	}
	l.rows[i] = row

	l.logger.Info("sell fill matched",
		slog.String("buy-id", key),
		slog.String("symbol", row.Symbol),
		slog.String("pnl", row.PnL),
	)
	return true, l.persistLocked(ctx)
}

func sellSide(r Row, f Fill) Row {
	r.SellTime = formatTime(f.Time)
	r.SellID = f.ID
	r.SellQty = f.Qty
	r.SellPrice = f.Price
	r.SellFee = f.Fee
	r.SellTotal = f.Total
	return r
}

// Lookup returns the row keyed by a buy-side key.
func (l *Ledger) Lookup(key string) (Row, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[key]
	if !ok {
		return Row{}, false
	}
	return l.rows[i], true
}

// Rows returns a copy of all rows in insertion order.
func (l *Ledger) Rows() []Row {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Row(nil), l.rows...)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// Persist writes the current rows to every store.
func (l *Ledger) Persist(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persistLocked(ctx)
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	var errs []error
	for _, s := range l.stores {
		if err := s.Save(ctx, l.rows); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		l.logger.Error("could not persist ledger", slog.String("error", err.Error()))
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

func (l *Ledger) openLocked() int {
	open := 0
	for _, r := range l.rows {
		if !r.Orphan() && !r.Closed() {
			open++
		}
	}
	return open
}

// SymbolSummary aggregates realised P&L for one symbol.
type SymbolSummary struct {
	Symbol   string          `json:"symbol"`
	Closed   int             `json:"closed"`
	Open     int             `json:"open"`
	Orphans  int             `json:"orphans"`
	Realized decimal.Decimal `json:"realized"`
}

// Summary returns per-symbol totals sorted by symbol.
func (l *Ledger) Summary() []SymbolSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	by := map[string]*SymbolSummary{}
	for _, r := range l.rows {
		s, ok := by[r.Symbol]
		if !ok {
			s = &SymbolSummary{Symbol: r.Symbol}
			by[r.Symbol] = s
		}
		switch {
		case r.Orphan():
			s.Orphans++
		case r.Closed():
			s.Closed++
			if pnl, err := decimal.NewFromString(r.PnL); err == nil {
				s.Realized = s.Realized.Add(pnl)
			}
		default:
			s.Open++
		}
	}

	out := make([]SymbolSummary, 0, len(by))
	for _, s := range by {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
