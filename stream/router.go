package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/recomma/spotmaker/ledger"
	"github.com/recomma/spotmaker/orderid"
	"github.com/recomma/spotmaker/spot"
)

// Ledger records fills. *ledger.Ledger satisfies it.
type Ledger interface {
	RecordBuyFill(ctx context.Context, f ledger.Fill) error
	RecordSellFill(ctx context.Context, key string, f ledger.Fill) (bool, error)
}

// Quoter places the orders that react to fills. *quote.Engine satisfies it.
type Quoter interface {
	PlaceOppositeSell(ctx context.Context, report spot.ExecutionReport, tag, qty string) error
	ResubmitSell(ctx context.Context, report spot.ExecutionReport) error
}

// Router applies the fill rules to execution reports.
type Router struct {
	ledger Ledger
	quoter Quoter
	logger *slog.Logger

	handled atomic.Int64
	failed  atomic.Int64
}

func NewRouter(l Ledger, q Quoter, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{ledger: l, quoter: q, logger: logger.WithGroup("router")}
}

// HandleBatch processes reports in order. A failing report is logged and
// does not stop the rest of the batch.
func (r *Router) HandleBatch(ctx context.Context, reports []spot.ExecutionReport) {
	for _, report := range reports {
		if err := r.Handle(ctx, report); err != nil {
			r.failed.Add(1)
			r.logger.Warn("could not handle execution report",
				slog.String("symbol", report.Symbol),
				slog.String("side", string(report.Side)),
				slog.String("type", string(report.OrderType)),
				slog.String("status", string(report.Status)),
				slog.String("order-id", string(report.OrderID)),
				slog.String("client-order-id", report.ClientOrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.handled.Add(1)
	}
}

// Handle applies the rule matching the report's side, type and status.
// Unmatched reports are ignored.
func (r *Router) Handle(ctx context.Context, report spot.ExecutionReport) error {
	if report.EventType != spot.EventExecutionReport {
		return nil
	}

	switch {
	case report.Is(spot.Buy, spot.Limit, spot.StatusFilled):
		return r.buyFilled(ctx, report, report.Tag(), report.Filled())
	case report.Is(spot.Buy, spot.Limit, spot.StatusPartiallyCanceled):
		qty := report.Filled()
		if d, err := decimal.NewFromString(qty); err != nil || !d.IsPositive() {
			r.logger.Debug("partially canceled order has nothing filled", slog.String("order-id", string(report.OrderID)))
			return nil
		}
		return r.buyFilled(ctx, report, report.ExecutionTag(), qty)
	case report.Is(spot.Sell, spot.Limit, spot.StatusFilled):
		return r.sellFilled(ctx, report)
	case report.Is(spot.Sell, spot.Limit, spot.StatusRejected):
		if err := r.quoter.ResubmitSell(ctx, report); err != nil {
			return fmt.Errorf("resubmit rejected sell: %w", err)
		}
		return nil
	case report.Is(spot.Buy, spot.Market, spot.StatusFilled):
		return r.dcaFilled(ctx, report)
	}
	return nil
}

func (r *Router) buyFilled(ctx context.Context, report spot.ExecutionReport, tag, qty string) error {
	fill := ledger.FillFromReport(report, orderid.StrategyOf(tag), tag, qty)
	if err := r.ledger.RecordBuyFill(ctx, fill); err != nil {
		if errors.Is(err, ledger.ErrDuplicateKey) || errors.Is(err, ledger.ErrMissingKey) {
			return err
		}
		// the row is held in memory; hedge regardless of the failed write
		r.logger.Error("buy fill not persisted", slog.String("tag", tag), slog.String("error", err.Error()))
	}

	if err := r.quoter.PlaceOppositeSell(ctx, report, tag, qty); err != nil {
		return fmt.Errorf("place opposite sell for %s: %w", tag, err)
	}
	return nil
}

func (r *Router) sellFilled(ctx context.Context, report spot.ExecutionReport) error {
	tag := report.Tag()
	id := string(report.OrderID)
	if id == "" {
		id = tag
	}
	fill := ledger.FillFromReport(report, orderid.StrategyOf(tag), id, report.Filled())
	matched, err := r.ledger.RecordSellFill(ctx, tag, fill)
	if err != nil {
		return fmt.Errorf("record sell fill %s: %w", tag, err)
	}
	if !matched {
		r.logger.Info("sell fill has no matching buy", slog.String("tag", tag), slog.String("symbol", report.Symbol))
	}
	return nil
}

func (r *Router) dcaFilled(ctx context.Context, report spot.ExecutionReport) error {
	tag := report.Tag()
	if orderid.StrategyOf(tag) != spot.StrategyDCA {
		r.logger.Debug("ignoring market buy not placed by the scheduler", slog.String("tag", tag))
		return nil
	}
	fill := ledger.FillFromReport(report, spot.StrategyDCA, tag, report.Filled())
	if err := r.ledger.RecordBuyFill(ctx, fill); err != nil {
		return fmt.Errorf("record dca fill %s: %w", tag, err)
	}
	return nil
}

// RouterStats counts processed reports.
type RouterStats struct {
	Handled int64 `json:"handled"`
	Failed  int64 `json:"failed"`
}

func (r *Router) Stats() RouterStats {
	return RouterStats{Handled: r.handled.Load(), Failed: r.failed.Load()}
}
