// Package quote keeps one resting margin-priced buy per managed pair and
// places the sells that close filled buys.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"k8s.io/utils/clock"

	"github.com/recomma/spotmaker/ledger"
	rlog "github.com/recomma/spotmaker/log"
	"github.com/recomma/spotmaker/orderid"
	"github.com/recomma/spotmaker/pricecache"
	"github.com/recomma/spotmaker/schedule"
	"github.com/recomma/spotmaker/spot"
)

const DefaultSellRetryLimit = 3

var (
	ErrRetryBudgetExhausted = errors.New("quote: sell retry budget exhausted")
	ErrUnknownPair          = errors.New("quote: symbol is not configured")
)

// Gateway is the subset of the exchange gateway the engine uses.
type Gateway interface {
	PlaceOrder(ctx context.Context, req spot.OrderRequest) (spot.OrderAck, error)
	CancelAllBuyOrders(ctx context.Context, symbols []string) error
	FetchBestBids(ctx context.Context) ([]spot.BookTicker, error)
}

// LedgerReader looks up the buy that a sell closes.
type LedgerReader interface {
	Lookup(key string) (ledger.Row, bool)
}

// CycleResult summarises one cancel/refresh/requote pass.
type CycleResult struct {
	StartedAt time.Time `json:"started_at"`
	Placed    int       `json:"placed"`
	Failed    int       `json:"failed"`
	Err       string    `json:"error,omitempty"`
}

type Engine struct {
	gw      Gateway
	prices  *pricecache.Cache
	ledger  LedgerReader
	pairs   spot.Pairs
	symbols []string
	newID   func(spot.Strategy) string
	clock   clock.PassiveClock
	logger  *slog.Logger

	retryLimit int
	mu         sync.Mutex
	retries    map[string]int
	last       CycleResult
}

type Option func(*Engine)

func WithClock(c clock.PassiveClock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.WithGroup("quote")
		}
	}
}

// WithSellRetryLimit bounds resubmissions of a rejected sell per tag.
func WithSellRetryLimit(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.retryLimit = n
		}
	}
}

// WithIDGenerator replaces orderid.New.
func WithIDGenerator(fn func(spot.Strategy) string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New builds an engine quoting the given pairs, in order.
func New(gw Gateway, prices *pricecache.Cache, l LedgerReader, pairs []spot.Pair, opts ...Option) *Engine {
	e := &Engine{
		gw:         gw,
		prices:     prices,
		ledger:     l,
		pairs:      spot.NewPairs(pairs...),
		newID:      orderid.New,
		clock:      clock.RealClock{},
		logger:     slog.Default().WithGroup("quote"),
		retryLimit: DefaultSellRetryLimit,
		retries:    make(map[string]int),
	}
	for _, p := range pairs {
		e.symbols = append(e.symbols, spot.NormalizeSymbol(p.Symbol))
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Loop returns the requote activity for the scheduler.
func (e *Engine) Loop(interval time.Duration) schedule.Loop {
	return schedule.Loop{
		Name:      "quote",
		Interval:  interval,
		Immediate: true,
		Tick: func(ctx context.Context) {
			if _, err := e.Cycle(ctx); err != nil {
				rlog.LoggerFromContext(ctx).Warn("quote cycle abandoned", slog.String("error", err.Error()))
			}
		},
	}
}

// Cycle cancels every open buy, refreshes the price cache and places one
// buy per pair at round(bestBid × buyMarginFactor). A failed cancel or price
// poll abandons the cycle; a failed placement skips only that pair.
func (e *Engine) Cycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{StartedAt: e.clock.Now()}
	err := e.cycle(ctx, &res)
	if err != nil {
		res.Err = err.Error()
	}
	e.mu.Lock()
	e.last = res
	e.mu.Unlock()
	return res, err
}

func (e *Engine) cycle(ctx context.Context, res *CycleResult) error {
	if len(e.symbols) == 0 {
		return nil
	}

	if err := e.gw.CancelAllBuyOrders(ctx, e.symbols); err != nil {
		return err
	}

	if err := e.RefreshPrices(ctx); err != nil {
		return err
	}

	var errs []error
	for _, sym := range e.symbols {
		if err := e.placeBuy(ctx, sym); err != nil {
			res.Failed++
			errs = append(errs, err)
			e.logger.Warn("could not place buy", slog.String("symbol", sym), slog.String("error", err.Error()))
			continue
		}
		res.Placed++
	}

	e.logger.Info("quote cycle complete", slog.Int("placed", res.Placed), slog.Int("failed", res.Failed))
	return errors.Join(errs...)
}

// RefreshPrices overwrites the price cache with the managed pairs' best
// bids.
func (e *Engine) RefreshPrices(ctx context.Context) error {
	tickers, err := e.gw.FetchBestBids(ctx)
	if err != nil {
		return err
	}
	bids, perr := pricecache.BidsFromTickers(tickers, e.symbols)
	if perr != nil {
		e.logger.Warn("skipping unusable tickers", slog.String("error", perr.Error()))
	}
	e.prices.Replace(ctx, bids, e.clock.Now())
	return nil
}

func (e *Engine) placeBuy(ctx context.Context, symbol string) error {
	pair, ok := e.pairs.Lookup(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPair, symbol)
	}
	bid, ok := e.prices.Get(symbol)
	if !ok {
		return fmt.Errorf("no best bid for %s", symbol)
	}
	price := pair.BuyPrice(bid)
	if !price.IsPositive() {
		return fmt.Errorf("buy price %s for %s is not positive", price, symbol)
	}

	req := spot.OrderRequest{
		Symbol:        symbol,
		Side:          spot.Buy,
		Type:          spot.Limit,
		Price:         price.String(),
		Quantity:      pair.BuyQuantity.String(),
		ClientOrderID: e.newID(spot.StrategyMarketMaker),
	}
	ack, err := e.gw.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	e.logger.Debug("buy placed",
		slog.String("symbol", symbol),
		slog.String("price", req.Price),
		slog.String("qty", req.Quantity),
		slog.String("client-order-id", req.ClientOrderID),
		slog.String("order-id", ack.OrderID),
	)
	return nil
}

// PlaceOppositeSell closes a filled buy with a limit sell at
// round(fillPrice × sellMarginFactor) for qty, tagged with the buy's tag.
func (e *Engine) PlaceOppositeSell(ctx context.Context, report spot.ExecutionReport, tag, qty string) error {
	fillPrice, err := report.Price.Decimal()
	if err != nil {
		return fmt.Errorf("parse fill price %q: %w", report.Price, err)
	}
	return e.placeSell(ctx, report.Symbol, fillPrice, tag, qty)
}

// ResubmitSell replaces a rejected sell. The price is recomputed from the
// recorded buy price; each tag is resubmitted at most the retry limit.
func (e *Engine) ResubmitSell(ctx context.Context, report spot.ExecutionReport) error {
	tag := report.Tag()

	e.mu.Lock()
	attempts := e.retries[tag]
	if attempts >= e.retryLimit {
		e.mu.Unlock()
		e.logger.Error("not resubmitting rejected sell",
			slog.String("tag", tag),
			slog.String("symbol", report.Symbol),
			slog.Int("attempts", attempts),
		)
		return fmt.Errorf("%w: %s after %d attempts", ErrRetryBudgetExhausted, tag, attempts)
	}
	e.retries[tag] = attempts + 1
	e.mu.Unlock()

	row, ok := e.ledger.Lookup(tag)
	if !ok {
		return fmt.Errorf("no recorded buy for rejected sell %s", tag)
	}
	buyPrice, err := decimal.NewFromString(row.BuyPrice)
	if err != nil {
		return fmt.Errorf("parse recorded buy price %q: %w", row.BuyPrice, err)
	}
	qty := string(report.Quantity)
	if qty == "" {
		qty = row.BuyQty
	}

	e.logger.Info("resubmitting rejected sell", slog.String("tag", tag), slog.Int("attempt", attempts+1))
	return e.placeSell(ctx, report.Symbol, buyPrice, tag, qty)
}

func (e *Engine) placeSell(ctx context.Context, symbol string, fillPrice decimal.Decimal, tag, qty string) error {
	pair, ok := e.pairs.Lookup(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPair, symbol)
	}
	price := pair.SellPrice(fillPrice)
	if !price.IsPositive() {
		return fmt.Errorf("sell price %s for %s is not positive", price, symbol)
	}

	req := spot.OrderRequest{
		Symbol:        spot.NormalizeSymbol(symbol),
		Side:          spot.Sell,
		Type:          spot.Limit,
		Price:         price.String(),
		Quantity:      qty,
		ClientOrderID: tag,
	}
	ack, err := e.gw.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	e.logger.Info("sell placed",
		slog.String("symbol", req.Symbol),
		slog.String("price", req.Price),
		slog.String("qty", qty),
		slog.String("tag", tag),
		slog.String("order-id", ack.OrderID),
	)
	return nil
}

// LastCycle reports the most recent Cycle.
func (e *Engine) LastCycle() CycleResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
