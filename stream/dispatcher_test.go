package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/recomma/spotmaker/session"
	"github.com/recomma/spotmaker/spot"
)

// recorder keeps an ordered log shared by the fake session and the fake
// server.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, e := range r.snapshot() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type fakeSession struct {
	rec      *recorder
	mu       sync.Mutex
	token    session.Token
	hasToken bool
	ensured  int
	renewDue bool
}

func (s *fakeSession) Token() (session.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.hasToken
}

func (s *fakeSession) Ensure(context.Context) (session.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured++
	s.token = session.Token{Key: fmt.Sprintf("key-%d", s.ensured+1)}
	s.hasToken = true
	s.rec.add("ensure")
	return s.token, nil
}

func (s *fakeSession) RenewIfDue(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.renewDue {
		return false, nil
	}
	s.renewDue = false
	s.rec.add("renew")
	return true, nil
}

type batchHandler struct {
	batches chan []spot.ExecutionReport
}

func (h *batchHandler) HandleBatch(_ context.Context, reports []spot.ExecutionReport) {
	h.batches <- reports
}

type fakeStream struct {
	t        *testing.T
	rec      *recorder
	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    int
	paths    []string
	// script runs after the subscriptions were read; it owns writes on conn.
	script func(conn *websocket.Conn, n int)
	subs   int
}

func (f *fakeStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	n := f.conns
	f.conns++
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	for i := 0; i < f.subs; i++ {
		if !f.readOne(conn, n) {
			return
		}
	}
	if f.script != nil {
		go f.script(conn, n)
	}
	for f.readOne(conn, n) {
	}
}

func (f *fakeStream) readOne(conn *websocket.Conn, n int) bool {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err != nil {
		f.t.Errorf("client sent invalid json: %s", msg)
		return false
	}
	switch {
	case m["ping"] != nil:
		f.rec.add(fmt.Sprintf("ping:%d", n))
	case m["event"] != nil:
		f.rec.add(fmt.Sprintf("%s:%d:%s:%s", m["event"], n, m["topic"], m["symbol"]))
	default:
		f.rec.add(fmt.Sprintf("other:%d", n))
	}
	return true
}

func (f *fakeStream) requestPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeStream) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

func startStream(t *testing.T, f *fakeStream) string {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
}

func runDispatcher(t *testing.T, d *Dispatcher) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- d.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, ch
}

func TestDispatcherSubscribesAndRoutes(t *testing.T) {
	rec := &recorder{}
	stream := &fakeStream{t: t, rec: rec, subs: 2}
	stream.script = func(conn *websocket.Conn, n int) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"pong":1}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"e":"executionReport","S":"BUY","o":"LIMIT","X":"FILLED","s":"BTCUSD","p":"100","q":"2","i":"42","n":"0.1","Z":"200","E":"1700000000000"}]`))
	}
	url := startStream(t, stream)

	sess := &fakeSession{rec: rec, token: session.Token{Key: "key-1"}, hasToken: true}
	h := &batchHandler{batches: make(chan []spot.ExecutionReport, 4)}
	d := NewDispatcher(Config{URL: url, Topics: []string{"trade"}, Symbols: []string{"BTCUSD", "ETHUSD"}}, sess, h)
	require.Equal(t, Disconnected, d.State())

	cancel, done := runDispatcher(t, d)

	select {
	case batch := <-h.batches:
		require.Len(t, batch, 1)
		require.Equal(t, "42", batch[0].Tag())
	case <-time.After(5 * time.Second):
		t.Fatal("no batch routed")
	}

	require.Equal(t, Subscribed, d.State())
	require.Equal(t, []string{"/api/v1/ws/key-1"}, stream.requestPaths())
	require.Equal(t, []string{"sub:0:trade:BTCUSD", "sub:0:trade:ETHUSD"}, rec.snapshot()[:2])
	require.Zero(t, rec.count("ensure"), "first connection uses the startup session")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	require.Equal(t, Disconnected, d.State())
	require.Eventually(t, func() bool { return rec.count("cancel_all:0") == 2 }, 2*time.Second, 5*time.Millisecond,
		"unsubscribes on shutdown")
}

func TestHeartbeatRenewsBeforePing(t *testing.T) {
	rec := &recorder{}
	stream := &fakeStream{t: t, rec: rec, subs: 1}
	url := startStream(t, stream)

	clk := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	sess := &fakeSession{rec: rec, token: session.Token{Key: "key-1"}, hasToken: true}
	d := NewDispatcher(Config{URL: url, Symbols: []string{"BTCUSD"}}, sess, &batchHandler{batches: make(chan []spot.ExecutionReport, 1)}, WithClock(clk))

	runDispatcher(t, d)
	require.Eventually(t, func() bool { return d.State() == Subscribed && clk.HasWaiters() }, 5*time.Second, time.Millisecond)

	clk.Step(DefaultHeartbeatInterval)
	require.Eventually(t, func() bool { return rec.count("ping:0") == 1 }, 5*time.Second, time.Millisecond)
	require.Equal(t, []string{"sub:0:trade:BTCUSD"}, rec.snapshot())

	sess.mu.Lock()
	sess.renewDue = true
	sess.mu.Unlock()

	clk.Step(DefaultHeartbeatInterval)
	require.Eventually(t, func() bool { return rec.count("ping:0") == 2 }, 5*time.Second, time.Millisecond)
	require.Equal(t, []string{"sub:0:trade:BTCUSD", "ping:0", "renew", "ping:0"}, rec.snapshot())
}

func TestReconnectsAfterServerClose(t *testing.T) {
	rec := &recorder{}
	stream := &fakeStream{t: t, rec: rec, subs: 1}
	stream.script = func(conn *websocket.Conn, n int) {
		if n == 0 {
			_ = conn.Close()
		}
	}
	url := startStream(t, stream)

	sess := &fakeSession{rec: rec, token: session.Token{Key: "key-1"}, hasToken: true}
	d := NewDispatcher(Config{URL: url, Symbols: []string{"BTCUSD"}, BaseBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond},
		sess, &batchHandler{batches: make(chan []spot.ExecutionReport, 1)})

	runDispatcher(t, d)
	require.Eventually(t, func() bool { return d.Connects() == 2 && d.State() == Subscribed }, 5*time.Second, time.Millisecond)

	require.Equal(t, []string{"/api/v1/ws/key-1", "/api/v1/ws/key-2"}, stream.requestPaths())
	require.Equal(t, 1, rec.count("ensure"), "reconnect refreshes the session")
	require.Equal(t, 1, rec.count("sub:1:trade:BTCUSD"), "resubscribes on the new connection")
}

func TestStaleStreamForcesReconnect(t *testing.T) {
	rec := &recorder{}
	stream := &fakeStream{t: t, rec: rec, subs: 1}
	url := startStream(t, stream)

	sess := &fakeSession{rec: rec, token: session.Token{Key: "key-1"}, hasToken: true}
	d := NewDispatcher(Config{
		URL:               url,
		Symbols:           []string{"BTCUSD"},
		HeartbeatInterval: 10 * time.Millisecond,
		StaleAfter:        30 * time.Millisecond,
		BaseBackoff:       time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
	}, sess, &batchHandler{batches: make(chan []spot.ExecutionReport, 1)})

	runDispatcher(t, d)
	require.Eventually(t, func() bool { return stream.connections() >= 2 }, 5*time.Second, time.Millisecond)
	require.GreaterOrEqual(t, rec.count("ensure"), 1)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	rec := &recorder{}
	sess := &fakeSession{rec: rec, token: session.Token{Key: "key-1"}, hasToken: true}
	d := NewDispatcher(Config{URL: url, Symbols: []string{"BTCUSD"}, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 3},
		sess, &batchHandler{batches: make(chan []spot.ExecutionReport, 1)})

	_, done := runDispatcher(t, d)
	select {
	case err := <-done:
		require.True(t, errors.Is(err, ErrGaveUp), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher kept retrying")
	}
	require.Equal(t, 2, rec.count("ensure"), "every retry refreshes the session")
	require.Zero(t, d.Connects())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "DISCONNECTED", Disconnected.String())
	require.Equal(t, "CONNECTING", Connecting.String())
	require.Equal(t, "SUBSCRIBED", Subscribed.String())
}
