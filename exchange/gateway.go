// Package exchange wraps the REST endpoints the trading engine consumes.
//
// The gateway performs no retries. Callers log failures and let their own
// cadence retry on the next tick.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/recomma/spotmaker/signer"
	"github.com/recomma/spotmaker/spot"
)

const (
	pathUserDataStream = "/api/v1/userDataStream"
	pathOrder          = "/api/v1/spot/order"
	pathOpenOrders     = "/api/v1/spot/openOrders"
	pathBookTicker     = "/quote/v1/ticker/bookTicker"

	headerAPIKey = "X-HK-APIKEY"

	defaultTimeout     = 10 * time.Second
	defaultCooldown    = 2 * time.Second
	maxErrorBodyLength = 4096
)

var ErrMissingListenKey = errors.New("exchange: response has no listenKey")

// APIError is returned for non-2xx responses and for 2xx bodies carrying an
// error code.
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Code == "" && e.Msg == "" {
		return fmt.Sprintf("exchange: http %d", e.Status)
	}
	return fmt.Sprintf("exchange: http %d: code %s: %s", e.Status, e.Code, e.Msg)
}

// Credentials are the account's API key pair. They render redacted in logs.
type Credentials struct {
	APIKey string
	Secret string
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("api-key", redact(c.APIKey)),
		slog.String("secret", "[redacted]"),
	)
}

func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.Secret) != ""
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// Gateway issues signed REST requests against the exchange.
type Gateway struct {
	baseURL *url.URL
	creds   Credentials
	client  *http.Client
	gate    RateGate
	clock   clock.PassiveClock
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.client = c
		}
	}
}

func WithRateGate(gate RateGate) Option {
	return func(g *Gateway) {
		if gate != nil {
			g.gate = gate
		}
	}
}

// WithTimeout bounds every request, including the body read.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithClock(c clock.PassiveClock) Option {
	return func(g *Gateway) {
		if c != nil {
			g.clock = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger.WithGroup("exchange")
		}
	}
}

// New builds a Gateway for the REST base URL, e.g. https://api-pro.hashkey.com.
func New(baseURL string, creds Credentials, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse rest url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rest url %q must be absolute", baseURL)
	}

	g := &Gateway{
		baseURL: u,
		creds:   creds,
		clock:   clock.RealClock{},
		timeout: defaultTimeout,
		logger:  slog.Default().WithGroup("exchange"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: g.timeout}
	}
	if g.gate == nil {
		g.gate = NewRateGate(0, nil)
	}
	return g, nil
}

// PlaceOrder submits a new order. Parameters are signed in the order symbol,
// price, side, type, quantity, timestamp, newClientOrderId.
func (g *Gateway) PlaceOrder(ctx context.Context, req spot.OrderRequest) (spot.OrderAck, error) {
	var p signer.Params
	p.Add("symbol", req.Symbol).
		AddIfSet("price", req.Price).
		Add("side", string(req.Side)).
		Add("type", string(req.Type)).
		Add("quantity", req.Quantity).
		Add("timestamp", g.timestamp()).
		AddIfSet("newClientOrderId", req.ClientOrderID)

	var ack spot.OrderAck
	if err := g.do(ctx, http.MethodPost, pathOrder, p, true, &ack); err != nil {
		return spot.OrderAck{}, fmt.Errorf("place %s %s %s: %w", req.Side, req.Type, req.Symbol, err)
	}
	return ack, nil
}

// CancelAllBuyOrders cancels every open BUY order in one call. An empty
// symbol list cancels across all symbols.
func (g *Gateway) CancelAllBuyOrders(ctx context.Context, symbols []string) error {
	var p signer.Params
	p.Add("side", string(spot.Buy)).
		AddIfSet("symbol", strings.Join(symbols, ",")).
		Add("timestamp", g.timestamp())

	if err := g.do(ctx, http.MethodDelete, pathOpenOrders, p, true, nil); err != nil {
		return fmt.Errorf("cancel open buy orders: %w", err)
	}
	return nil
}

// FetchBestBids reads the public book ticker. The call is unsigned.
func (g *Gateway) FetchBestBids(ctx context.Context) ([]spot.BookTicker, error) {
	var tickers []spot.BookTicker
	if err := g.do(ctx, http.MethodGet, pathBookTicker, signer.Params{}, false, &tickers); err != nil {
		return nil, fmt.Errorf("fetch book ticker: %w", err)
	}
	return tickers, nil
}

func (g *Gateway) CreateListenKey(ctx context.Context) (string, error) {
	var p signer.Params
	p.Add("timestamp", g.timestamp())

	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := g.do(ctx, http.MethodPost, pathUserDataStream, p, true, &resp); err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	if resp.ListenKey == "" {
		return "", ErrMissingListenKey
	}
	return resp.ListenKey, nil
}

func (g *Gateway) RenewListenKey(ctx context.Context, listenKey string) error {
	var p signer.Params
	p.Add("listenKey", listenKey).Add("timestamp", g.timestamp())
	if err := g.do(ctx, http.MethodPut, pathUserDataStream, p, true, nil); err != nil {
		return fmt.Errorf("renew listen key: %w", err)
	}
	return nil
}

func (g *Gateway) DeleteListenKey(ctx context.Context, listenKey string) error {
	var p signer.Params
	p.Add("listenKey", listenKey).Add("timestamp", g.timestamp())
	if err := g.do(ctx, http.MethodDelete, pathUserDataStream, p, true, nil); err != nil {
		return fmt.Errorf("delete listen key: %w", err)
	}
	return nil
}

func (g *Gateway) timestamp() string {
	return strconv.FormatInt(g.clock.Now().UnixMilli(), 10)
}

func (g *Gateway) do(ctx context.Context, method, path string, params signer.Params, signed bool, out any) error {
	if signed {
		params = signer.Signed(g.creds.Secret, params)
	}

	if err := g.gate.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	u := *g.baseURL
	u.Path += path

	var body io.Reader
	encoded := params.Encode()
	switch method {
	case http.MethodPost, http.MethodPut:
		body = strings.NewReader(encoded)
	default:
		u.RawQuery = encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		req.Header.Set(headerAPIKey, g.creds.APIKey)
	}

	start := g.clock.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	g.logger.Debug("request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", g.clock.Since(start)),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		g.gate.Cooldown(retryAfter(resp.Header.Get("Retry-After")))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if apiErr := embeddedError(resp.StatusCode, raw); apiErr != nil {
		return apiErr
	}

	if out == nil || len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type errorEnvelope struct {
	Code spot.NumString `json:"code"`
	Msg  string         `json:"msg"`
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{Status: status}
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		apiErr.Code = string(env.Code)
		apiErr.Msg = env.Msg
	} else if len(raw) > 0 {
		if len(raw) > maxErrorBodyLength {
			raw = raw[:maxErrorBodyLength]
		}
		apiErr.Msg = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// embeddedError detects an error object returned with a 2xx status.
func embeddedError(status int, raw []byte) error {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	switch env.Code {
	case "", "0", "200":
		return nil
	}
	if env.Msg == "" {
		return nil
	}
	return &APIError{Status: status, Code: string(env.Code), Msg: env.Msg}
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultCooldown
}
