package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/recomma/spotmaker/cmd/spotmaker/internal/config"
	"github.com/recomma/spotmaker/session"
)

// fillBatch carries no client order id; the exchange order id is the tag.
const fillBatch = `[{"e":"executionReport","S":"BUY","o":"LIMIT","X":"FILLED","s":"BTCUSD","p":"100","q":"2","i":"42","n":"0.1","Z":"200","E":"1700000000000"}]`

// fakeExchange serves the REST endpoints and the private stream.
type fakeExchange struct {
	mu        sync.Mutex
	orders    []url.Values
	cancels   int
	deleted   []string
	subscribe []map[string]any
	badKey    bool
}

func (f *fakeExchange) sells() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []url.Values
	for _, o := range f.orders {
		if o.Get("side") == "SELL" {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeExchange) buys() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.orders {
		if o.Get("side") == "BUY" {
			n++
		}
	}
	return n
}

func (f *fakeExchange) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeExchange) handler() http.Handler {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/userDataStream", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch r.Method {
		case http.MethodPost:
			if f.badKey {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"code":-2015,"msg":"Invalid API-key"}`)
				return
			}
			_, _ = io.WriteString(w, `{"listenKey":"lk1"}`)
		case http.MethodDelete:
			f.mu.Lock()
			f.deleted = append(f.deleted, r.Form.Get("listenKey"))
			f.mu.Unlock()
			_, _ = io.WriteString(w, `{}`)
		default:
			_, _ = io.WriteString(w, `{}`)
		}
	})
	mux.HandleFunc("DELETE /api/v1/spot/openOrders", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"code":0}`)
	})
	mux.HandleFunc("GET /quote/v1/ticker/bookTicker", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"s":"BTCUSD","b":"100","a":"100.5","t":1700000000000}]`)
	})
	mux.HandleFunc("POST /api/v1/spot/order", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.orders = append(f.orders, r.PostForm)
		n := len(f.orders)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{
			"orderId":       "9" + strings.Repeat("0", n),
			"clientOrderId": r.PostForm.Get("newClientOrderId"),
			"symbol":        r.PostForm.Get("symbol"),
			"status":        "NEW",
		})
	})
	mux.HandleFunc("/api/v1/ws/lk1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		f.mu.Lock()
		f.subscribe = append(f.subscribe, sub)
		f.mu.Unlock()

		if err := conn.WriteMessage(websocket.TextMessage, []byte(fillBatch)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	return mux
}

func testConfig(t *testing.T, srv *httptest.Server) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Access, cfg.Secret = "key", "secret"
	cfg.RESTURL = srv.URL
	cfg.StreamURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	cfg.TradeInterval = time.Hour
	cfg.TradePairs = []string{"BTCUSD"}
	cfg.DCATimezone = "UTC"
	cfg.Pairs = map[string]config.PairConfig{
		"BTCUSD": {BuyLimitMargin: "0.99", SellLimitMargin: "1.01", TradeQuantity: "2"},
	}
	cfg.LedgerPath = filepath.Join(dir, "trades.csv")
	cfg.StoragePath = filepath.Join(dir, "spotmaker.sqlite3")
	cfg.HTTPListen = ""
	cfg.RequestSpacing = time.Millisecond
	cfg.ReconnectMaxAttempts = 1
	require.NoError(t, config.ValidateConfig(cfg))
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuyFillPlacesOppositeSell(t *testing.T) {
	fx := &fakeExchange{}
	srv := httptest.NewServer(fx.handler())
	defer srv.Close()

	cfg := testConfig(t, srv)
	app, err := NewApp(context.Background(), AppOptions{Config: cfg, Logger: discardLogger()})
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return len(fx.sells()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return fx.buys() == 1 }, 5*time.Second, 10*time.Millisecond)

	sell := fx.sells()[0]
	require.Equal(t, "BTCUSD", sell.Get("symbol"))
	require.Equal(t, "101", sell.Get("price"))
	require.Equal(t, "SELL", sell.Get("side"))
	require.Equal(t, "LIMIT", sell.Get("type"))
	require.Equal(t, "2", sell.Get("quantity"))
	require.Equal(t, "42", sell.Get("newClientOrderId"))
	require.NotEmpty(t, sell.Get("signature"))

	row, ok := app.Ledger.Lookup("42")
	require.True(t, ok)
	require.Equal(t, "MM", row.Strategy)
	require.Equal(t, "42", row.BuyID)
	require.Equal(t, "2", row.BuyQty)
	require.Equal(t, "100", row.BuyPrice)
	require.Empty(t, row.SellID)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}

	require.Equal(t, []string{"lk1"}, fx.deletedKeys())

	csv, err := os.ReadFile(cfg.LedgerPath)
	require.NoError(t, err)
	require.Contains(t, string(csv), "Strategy,Symbol,Buy_Time")
	require.Contains(t, string(csv), ",42,2,100,")

	stored, err := app.Store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "42", stored[0].BuyID)

	fx.mu.Lock()
	require.NotEmpty(t, fx.subscribe)
	require.Equal(t, "BTCUSD", fx.subscribe[0]["symbol"])
	require.Equal(t, "trade", fx.subscribe[0]["topic"])
	require.Equal(t, "sub", fx.subscribe[0]["event"])
	require.GreaterOrEqual(t, fx.cancels, 1)
	fx.mu.Unlock()
}

func TestRunFailsOnRejectedCredentials(t *testing.T) {
	fx := &fakeExchange{badKey: true}
	srv := httptest.NewServer(fx.handler())
	defer srv.Close()

	app, err := NewApp(context.Background(), AppOptions{Config: testConfig(t, srv), Logger: discardLogger()})
	require.NoError(t, err)
	defer app.Close()

	err = app.Run(context.Background())
	require.ErrorIs(t, err, session.ErrAuth)
	require.Zero(t, fx.buys())
}

func TestNewAppRejectsUnknownPair(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := testConfig(t, srv)
	cfg.TradePairs = []string{"DOGEUSD"}
	_, err := NewApp(context.Background(), AppOptions{Config: cfg, Logger: discardLogger()})
	require.Error(t, err)
}

func TestStatusServerAllowsLocalOrigin(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := testConfig(t, srv)
	cfg.HTTPListen = "127.0.0.1:8080"
	app, err := NewApp(context.Background(), AppOptions{Config: cfg, Logger: discardLogger()})
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.Server)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))

	var status struct {
		Stream struct {
			State string `json:"state"`
		} `json:"stream"`
		LedgerRows int `json:"ledger_rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "DISCONNECTED", status.Stream.State)
	require.Zero(t, status.LedgerRows)

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
