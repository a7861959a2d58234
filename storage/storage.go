// Package storage mirrors the trade ledger into SQLite.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/recomma/spotmaker/ledger"
	"github.com/recomma/spotmaker/storage/sqlcgen"
)

//go:generate go tool sqlc generate

//go:embed sqlc/schema.sql
var schemaDDL string

// Storage implements ledger.Store.
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

var _ ledger.Store = (*Storage)(nil)

type Option func(*Storage)

// WithLogger logs every statement at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger.WithGroup("storage")
		}
	}
}

func New(path string, opts ...Option) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Storage{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Save replaces the stored rows inside one transaction, so a crash leaves
// either the previous or the new table.
func (s *Storage) Save(ctx context.Context, rows []ledger.Row) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := s.queries(tx)
	if err = q.DeleteLedgerRows(ctx); err != nil {
		return fmt.Errorf("clear ledger rows: %w", err)
	}
	for i, r := range rows {
		if err = q.InsertLedgerRow(ctx, insertParams(i, r)); err != nil {
			return fmt.Errorf("insert ledger row %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger rows: %w", err)
	}
	return nil
}

func (s *Storage) Load(ctx context.Context) ([]ledger.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.queries(s.db).ListLedgerRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger rows: %w", err)
	}

	out := make([]ledger.Row, 0, len(stored))
	for _, r := range stored {
		out = append(out, ledger.Row{
			Strategy:  r.Strategy,
			Symbol:    r.Symbol,
			BuyTime:   r.BuyTime,
			BuyID:     r.BuyID,
			BuyQty:    r.BuyQty,
			BuyPrice:  r.BuyPrice,
			BuyFee:    r.BuyFee,
			BuyTotal:  r.BuyTotal,
			SellTime:  r.SellTime,
			SellID:    r.SellID,
			SellQty:   r.SellQty,
			SellPrice: r.SellPrice,
			SellFee:   r.SellFee,
			SellTotal: r.SellTotal,
			PnL:       r.Pnl,
		})
	}
	return out, nil
}

func insertParams(position int, r ledger.Row) sqlcgen.InsertLedgerRowParams {
	return sqlcgen.InsertLedgerRowParams{
		Position:  int64(position),
		Strategy:  r.Strategy,
		Symbol:    r.Symbol,
		BuyTime:   r.BuyTime,
		BuyID:     r.BuyID,
		BuyQty:    r.BuyQty,
		BuyPrice:  r.BuyPrice,
		BuyFee:    r.BuyFee,
		BuyTotal:  r.BuyTotal,
		SellTime:  r.SellTime,
		SellID:    r.SellID,
		SellQty:   r.SellQty,
		SellPrice: r.SellPrice,
		SellFee:   r.SellFee,
		SellTotal: r.SellTotal,
		Pnl:       r.PnL,
	}
}

// queries logs through the inner handle when a logger is set, so statements
// run inside a transaction are logged too.
func (s *Storage) queries(inner sqlcgen.DBTX) *sqlcgen.Queries {
	if s.logger == nil {
		return sqlcgen.New(inner)
	}
	return sqlcgen.New(loggingDB{inner: inner, logger: s.logger})
}
