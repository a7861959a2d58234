package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/recomma/spotmaker/signer"
	"github.com/recomma/spotmaker/spot"
)

type capturedRequest struct {
	Method string
	Path   string
	APIKey string
	Query  url.Values
	Body   string
}

type fakeExchange struct {
	t       *testing.T
	mu      sync.Mutex
	reqs    []capturedRequest
	handler func(w http.ResponseWriter, r capturedRequest)
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)
	c := capturedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		APIKey: r.Header.Get(headerAPIKey),
		Query:  r.URL.Query(),
		Body:   string(body),
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, c)
	f.mu.Unlock()
	f.handler(w, c)
}

func (f *fakeExchange) requests() []capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedRequest(nil), f.reqs...)
}

type recordingGate struct {
	mu        sync.Mutex
	waits     int
	cooldowns []time.Duration
}

func (g *recordingGate) Wait(context.Context) error {
	g.mu.Lock()
	g.waits++
	g.mu.Unlock()
	return nil
}

func (g *recordingGate) Cooldown(d time.Duration) {
	g.mu.Lock()
	g.cooldowns = append(g.cooldowns, d)
	g.mu.Unlock()
}

var testNow = time.UnixMilli(1_700_000_000_000)

func newTestGateway(t *testing.T, handler func(w http.ResponseWriter, r capturedRequest)) (*Gateway, *fakeExchange, *recordingGate) {
	t.Helper()
	fake := &fakeExchange{t: t, handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	gate := &recordingGate{}
	gw, err := New(srv.URL, Credentials{APIKey: "key", Secret: "secret"},
		WithRateGate(gate),
		WithClock(testingclock.NewFakePassiveClock(testNow)),
		WithTimeout(time.Second),
	)
	require.NoError(t, err)
	return gw, fake, gate
}

func TestPlaceOrderSignsFormBody(t *testing.T) {
	t.Parallel()

	gw, fake, gate := newTestGateway(t, func(w http.ResponseWriter, r capturedRequest) {
		_, _ = io.WriteString(w, `{"orderId":"9001","clientOrderId":"42","symbol":"BTCUSD","status":"NEW"}`)
	})

	ack, err := gw.PlaceOrder(context.Background(), spot.OrderRequest{
		Symbol:        "BTCUSD",
		Side:          spot.Sell,
		Type:          spot.Limit,
		Price:         "101",
		Quantity:      "2",
		ClientOrderID: "42",
	})
	require.NoError(t, err)
	require.Equal(t, spot.OrderAck{OrderID: "9001", ClientOrderID: "42", Symbol: "BTCUSD", Status: "NEW"}, ack)

	reqs := fake.requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, pathOrder, req.Path)
	require.Equal(t, "key", req.APIKey)

	const unsigned = "symbol=BTCUSD&price=101&side=SELL&type=LIMIT&quantity=2&timestamp=1700000000000&newClientOrderId=42"
	require.Equal(t, unsigned+"&signature=0b269374931fabc88cb2a437d306383917af8568d8a3efd69c452fa4222858ca", req.Body)
	require.Equal(t, 1, gate.waits)
}

func TestPlaceMarketOrderOmitsPrice(t *testing.T) {
	t.Parallel()

	gw, fake, _ := newTestGateway(t, func(w http.ResponseWriter, r capturedRequest) {
		_, _ = io.WriteString(w, `{"orderId":"1"}`)
	})

	_, err := gw.PlaceOrder(context.Background(), spot.OrderRequest{
		Symbol: "ETHUSD", Side: spot.Buy, Type: spot.Market, Quantity: "50",
	})
	require.NoError(t, err)

	form, err := url.ParseQuery(fake.requests()[0].Body)
	require.NoError(t, err)
	require.False(t, form.Has("price"))
	require.False(t, form.Has("newClientOrderId"))
	require.Equal(t, "MARKET", form.Get("type"))
}

func TestCancelAllBuyOrdersUsesQuery(t *testing.T) {
	t.Parallel()

	gw, fake, _ := newTestGateway(t, func(w http.ResponseWriter, r capturedRequest) {
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	require.NoError(t, gw.CancelAllBuyOrders(context.Background(), []string{"BTCUSD", "ETHUSD"}))

	req := fake.requests()[0]
	require.Equal(t, http.MethodDelete, req.Method)
	require.Equal(t, pathOpenOrders, req.Path)
	require.Empty(t, req.Body)
	require.Equal(t, "BUY", req.Query.Get("side"))
	require.Equal(t, "BTCUSD,ETHUSD", req.Query.Get("symbol"))

	var p signer.Params
	p.Add("side", "BUY").Add("symbol", "BTCUSD,ETHUSD").Add("timestamp", "1700000000000")
	require.Equal(t, signer.Sign("secret", p), req.Query.Get("signature"))
}

func TestFetchBestBidsIsUnsigned(t *testing.T) {
	t.Parallel()

	gw, fake, _ := newTestGateway(t, func(w http.ResponseWriter, r capturedRequest) {
		_, _ = io.WriteString(w, `[{"t":1700000000000,"s":"BTCUSD","b":"100.5","a":"101"},{"t":"1700000000001","s":"ETHUSD","b":2000,"a":"2001"}]`)
	})

	tickers, err := gw.FetchBestBids(context.Background())
	require.NoError(t, err)

	want := []spot.BookTicker{
		{Symbol: "BTCUSD", BestBid: "100.5", BestAsk: "101", Time: 1700000000000},
		{Symbol: "ETHUSD", BestBid: "2000", BestAsk: "2001", Time: 1700000000001},
	}
	if diff := cmp.Diff(want, tickers); diff != "" {
		t.Fatalf("tickers mismatch (-want +got):\n%s", diff)
	}

	req := fake.requests()[0]
	require.Empty(t, req.APIKey)
	require.False(t, req.Query.Has("signature"))
}

func TestListenKeyLifecycle(t *testing.T) {
	t.Parallel()

	gw, fake, _ := newTestGateway(t, func(w http.ResponseWriter, r capturedRequest) {
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, `{"listenKey":"lk-1"}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	})

	ctx := context.Background()
	key, err := gw.CreateListenKey(ctx)
	require.NoError(t, err)
	require.Equal(t, "lk-1", key)
	require.NoError(t, gw.RenewListenKey(ctx, key))
	require.NoError(t, gw.DeleteListenKey(ctx, key))

	reqs := fake.requests()
	require.Len(t, reqs, 3)
	require.Equal(t, http.MethodPut, reqs[1].Method)
	renew, err := url.ParseQuery(reqs[1].Body)
	require.NoError(t, err)
	require.Equal(t, "lk-1", renew.Get("listenKey"))
	require.Equal(t, http.MethodDelete, reqs[2].Method)
	require.Equal(t, "lk-1", reqs[2].Query.Get("listenKey"))
}

func TestCreateListenKeyMissing(t *testing.T) {
	t.Parallel()

	gw, _, _ := newTestGateway(t, func(w http.ResponseWriter, r capturedRequest) {
		_, _ = io.WriteString(w, `{}`)
	})

	_, err := gw.CreateListenKey(context.Background())
	require.ErrorIs(t, err, ErrMissingListenKey)
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		want    APIError
		cooling bool
	}{
		{
			name:   "non-2xx with envelope",
			status: http.StatusBadRequest,
			body:   `{"code":-1121,"msg":"Invalid symbol."}`,
			want:   APIError{Status: 400, Code: "-1121", Msg: "Invalid symbol."},
		},
		{
			name:   "2xx with error code",
			status: http.StatusOK,
			body:   `{"code":"-2010","msg":"Balance insufficient"}`,
			want:   APIError{Status: 200, Code: "-2010", Msg: "Balance insufficient"},
		},
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			body:    `too many`,
			want:    APIError{Status: 429, Msg: "too many"},
			cooling: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			gw, _, gate := newTestGateway(t, func(w http.ResponseWriter, r capturedRequest) {
				if tc.cooling {
					w.Header().Set("Retry-After", "3")
				}
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})

			_, err := gw.PlaceOrder(context.Background(), spot.OrderRequest{Symbol: "BTCUSD", Side: spot.Buy, Type: spot.Limit, Price: "1", Quantity: "1"})
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			require.Equal(t, tc.want, *apiErr)

			if tc.cooling {
				require.Equal(t, []time.Duration{3 * time.Second}, gate.cooldowns)
			} else {
				require.Empty(t, gate.cooldowns)
			}
		})
	}
}

func TestCredentialsRedacted(t *testing.T) {
	t.Parallel()

	v := Credentials{APIKey: "abcdefgh", Secret: "topsecret"}.LogValue().String()
	require.NotContains(t, v, "topsecret")
	require.NotContains(t, v, "abcdefgh")
	require.Contains(t, v, "abcd****")
}

func TestNewRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	_, err := New("api.example.com", Credentials{})
	require.Error(t, err)
}
