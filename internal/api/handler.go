// Package api serves the read-only status endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"k8s.io/utils/clock"

	"github.com/recomma/spotmaker/dca"
	"github.com/recomma/spotmaker/ledger"
	"github.com/recomma/spotmaker/pricecache"
	"github.com/recomma/spotmaker/quote"
	"github.com/recomma/spotmaker/session"
	"github.com/recomma/spotmaker/spot"
	"github.com/recomma/spotmaker/stream"
)

type StreamSource interface {
	State() stream.State
	LastInbound() time.Time
	Connects() int64
}

type SessionSource interface {
	Token() (session.Token, bool)
}

type RouterSource interface {
	Stats() stream.RouterStats
}

type QuoteSource interface {
	LastCycle() quote.CycleResult
}

type DCASource interface {
	LastFire() dca.Fire
}

type LedgerSource interface {
	Rows() []ledger.Row
	Summary() []ledger.SymbolSummary
}

type PriceSource interface {
	Snapshot() pricecache.Snapshot
}

//go:generate go tool oapi-codegen -config oapi-codegen.yaml openapi.yaml

// ApiHandler implements StrictServerInterface over the running components.
// Every source is optional; a missing source leaves its section out of the
// status and turns its endpoint into a 503.
type ApiHandler struct {
	stream  StreamSource
	session SessionSource
	router  RouterSource
	quote   QuoteSource
	dca     DCASource
	ledger  LedgerSource
	prices  PriceSource
	clock   clock.PassiveClock
	logger  *slog.Logger
	mux     http.Handler
}

var _ StrictServerInterface = (*ApiHandler)(nil)

type HandlerOption func(*ApiHandler)

func WithStream(s StreamSource) HandlerOption   { return func(h *ApiHandler) { h.stream = s } }
func WithSession(s SessionSource) HandlerOption { return func(h *ApiHandler) { h.session = s } }
func WithRouter(s RouterSource) HandlerOption   { return func(h *ApiHandler) { h.router = s } }
func WithQuote(s QuoteSource) HandlerOption     { return func(h *ApiHandler) { h.quote = s } }
func WithDCA(s DCASource) HandlerOption         { return func(h *ApiHandler) { h.dca = s } }
func WithLedger(s LedgerSource) HandlerOption   { return func(h *ApiHandler) { h.ledger = s } }
func WithPrices(s PriceSource) HandlerOption    { return func(h *ApiHandler) { h.prices = s } }

func WithClock(c clock.PassiveClock) HandlerOption {
	return func(h *ApiHandler) {
		if c != nil {
			h.clock = c
		}
	}
}

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *ApiHandler) {
		if logger != nil {
			h.logger = logger.WithGroup("api")
		}
	}
}

func NewHandler(opts ...HandlerOption) *ApiHandler {
	h := &ApiHandler{
		clock:  clock.RealClock{},
		logger: slog.Default().WithGroup("api"),
	}
	for _, opt := range opts {
		opt(h)
	}

	strict := NewStrictHandlerWithOptions(h, []StrictMiddlewareFunc{h.logOperation}, StrictHTTPServerOptions{
		RequestErrorHandlerFunc:  h.requestError,
		ResponseErrorHandlerFunc: h.responseError,
	})
	h.mux = HandlerWithOptions(strict, StdHTTPServerOptions{
		BaseRouter:       http.NewServeMux(),
		ErrorHandlerFunc: h.requestError,
	})
	return h
}

func (h *ApiHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *ApiHandler) logOperation(next StrictHandlerFunc, operationID string) StrictHandlerFunc {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		resp, err := next(ctx, w, r, request)
		h.logger.Debug("api request", slog.String("operation", operationID), slog.String("query", r.URL.RawQuery))
		return resp, err
	}
}

func (h *ApiHandler) Status() SystemStatus {
	now := h.clock.Now().UTC()
	out := SystemStatus{Now: now}

	if h.stream != nil || h.router != nil {
		st := &StreamStatus{State: stream.Disconnected.String()}
		if h.stream != nil {
			st.State = h.stream.State().String()
			st.Connects = h.stream.Connects()
			if last := h.stream.LastInbound(); !last.IsZero() {
				last = last.UTC()
				st.LastInbound = &last
			}
		}
		if h.router != nil {
			stats := h.router.Stats()
			st.Handled, st.Failed = stats.Handled, stats.Failed
		}
		out.Stream = st
	}

	if h.session != nil {
		ss := &SessionStatus{}
		if tok, ok := h.session.Token(); ok {
			created, renewed := tok.CreatedAt.UTC(), tok.LastRenewedAt.UTC()
			ss.Active = true
			ss.CreatedAt = &created
			ss.LastRenewedAt = &renewed
			ss.AgeSeconds = int64(now.Sub(created) / time.Second)
		}
		out.Session = ss
	}

	if h.quote != nil {
		if c := h.quote.LastCycle(); !c.StartedAt.IsZero() {
			out.LastQuoteCycle = quoteCycle(c)
		}
	}
	if h.dca != nil {
		if f := h.dca.LastFire(); f.Trigger != "" {
			out.LastDca = &DCAFire{At: f.At, Trigger: f.Trigger, Placed: f.Placed, Failed: f.Failed}
		}
	}
	if h.ledger != nil {
		n := len(h.ledger.Rows())
		out.LedgerRows = &n
	}
	return out
}

func quoteCycle(c quote.CycleResult) *QuoteCycle {
	qc := &QuoteCycle{StartedAt: c.StartedAt, Placed: c.Placed, Failed: c.Failed}
	if c.Err != "" {
		msg := c.Err
		qc.Error = &msg
	}
	return qc
}

func (h *ApiHandler) GetStatus(context.Context, GetStatusRequestObject) (GetStatusResponseObject, error) {
	return GetStatus200JSONResponse(h.Status()), nil
}

// ListTrades lists ledger rows, optionally filtered by symbol and row state.
func (h *ApiHandler) ListTrades(_ context.Context, req ListTradesRequestObject) (ListTradesResponseObject, error) {
	if h.ledger == nil {
		return ListTrades503JSONResponse{Error: "ledger unavailable"}, nil
	}

	var symbol string
	if req.Params.Symbol != nil {
		symbol = spot.NormalizeSymbol(*req.Params.Symbol)
	}
	var state ListTradesParamsState
	if req.Params.State != nil {
		state = ListTradesParamsState(strings.ToLower(string(*req.Params.State)))
	}
	switch state {
	case "", ListTradesParamsStateOpen, ListTradesParamsStateClosed, ListTradesParamsStateOrphan:
	default:
		return ListTrades400JSONResponse{Error: "state must be one of open, closed, orphan"}, nil
	}

	trades := make([]Trade, 0)
	for _, row := range h.ledger.Rows() {
		if symbol != "" && row.Symbol != symbol {
			continue
		}
		if !matchState(row, state) {
			continue
		}
		trades = append(trades, trade(row))
	}
	return ListTrades200JSONResponse{Trades: trades}, nil
}

func matchState(row ledger.Row, state ListTradesParamsState) bool {
	switch state {
	case ListTradesParamsStateOpen:
		return !row.Orphan() && !row.Closed()
	case ListTradesParamsStateClosed:
		return !row.Orphan() && row.Closed()
	case ListTradesParamsStateOrphan:
		return row.Orphan()
	}
	return true
}

func trade(r ledger.Row) Trade {
	return Trade{
		Strategy:  r.Strategy,
		Symbol:    r.Symbol,
		BuyTime:   r.BuyTime,
		BuyId:     r.BuyID,
		BuyQty:    r.BuyQty,
		BuyPrice:  r.BuyPrice,
		BuyFee:    r.BuyFee,
		BuyTotal:  r.BuyTotal,
		SellTime:  r.SellTime,
		SellId:    r.SellID,
		SellQty:   r.SellQty,
		SellPrice: r.SellPrice,
		SellFee:   r.SellFee,
		SellTotal: r.SellTotal,
		Pnl:       r.PnL,
	}
}

func (h *ApiHandler) GetPnL(context.Context, GetPnLRequestObject) (GetPnLResponseObject, error) {
	if h.ledger == nil {
		return GetPnL503JSONResponse{Error: "ledger unavailable"}, nil
	}

	summary := h.ledger.Summary()
	resp := GetPnL200JSONResponse{Symbols: make([]SymbolPnL, 0, len(summary))}
	total := decimal.Zero
	for _, s := range summary {
		resp.Symbols = append(resp.Symbols, SymbolPnL{
			Symbol:   s.Symbol,
			Closed:   s.Closed,
			Open:     s.Open,
			Orphans:  s.Orphans,
			Realized: s.Realized.String(),
		})
		total = total.Add(s.Realized)
	}
	resp.Realized = total.String()
	return resp, nil
}

func (h *ApiHandler) GetPrices(context.Context, GetPricesRequestObject) (GetPricesResponseObject, error) {
	if h.prices == nil {
		return GetPrices503JSONResponse{Error: "price cache unavailable"}, nil
	}

	snap := h.prices.Snapshot()
	resp := GetPrices200JSONResponse{Bids: make(map[string]string, len(snap.Bids))}
	for symbol, bid := range snap.Bids {
		resp.Bids[symbol] = bid.String()
	}
	if !snap.UpdatedAt.IsZero() {
		at := snap.UpdatedAt.UTC()
		resp.UpdatedAt = &at
	}
	return resp, nil
}

func (h *ApiHandler) requestError(w http.ResponseWriter, _ *http.Request, err error) {
	h.writeError(w, http.StatusBadRequest, err.Error())
}

func (h *ApiHandler) responseError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("api response failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	h.writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *ApiHandler) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: msg}); err != nil {
		h.logger.Warn("could not write response", slog.String("error", err.Error()))
	}
}
