// Package stream maintains the private event connection and routes the
// execution reports it delivers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/utils/clock"

	"github.com/recomma/spotmaker/session"
	"github.com/recomma/spotmaker/spot"
)

// State of the connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Subscribed:
		return "SUBSCRIBED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	// ErrStale is returned when no frame arrived within the staleness
	// window. It usually means the listen key expired silently.
	ErrStale = errors.New("stream: no inbound traffic")
	// ErrGaveUp is returned by Run after the reconnect budget is spent.
	ErrGaveUp = errors.New("stream: reconnect attempts exhausted")
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultStaleAfter        = 6 * DefaultHeartbeatInterval
	DefaultBaseBackoff       = time.Second
	DefaultMaxBackoff        = time.Minute

	writeTimeout  = 5 * time.Second
	reconnectItem = "stream"
)

// Session is the listen key source. *session.Manager satisfies it.
type Session interface {
	Token() (session.Token, bool)
	Ensure(ctx context.Context) (session.Token, error)
	RenewIfDue(ctx context.Context) (bool, error)
}

// Handler consumes parsed reports. It runs on the read loop, so reports are
// handled one batch at a time in arrival order.
type Handler interface {
	HandleBatch(ctx context.Context, reports []spot.ExecutionReport)
}

type Config struct {
	// URL is the stream endpoint without the listen key, e.g.
	// wss://stream-pro.hashkey.com/api/v1/ws
	URL     string
	Topics  []string
	Symbols []string

	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	// MaxAttempts caps consecutive failed connection attempts; zero retries
	// forever.
	MaxAttempts      int
	HandshakeTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 6 * c.HeartbeatInterval
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = DefaultMaxBackoff
		if c.MaxBackoff < c.BaseBackoff {
			c.MaxBackoff = c.BaseBackoff
		}
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if len(c.Topics) == 0 {
		c.Topics = []string{"trade"}
	}
}

// Dispatcher owns the websocket connection: it connects with the current
// listen key, subscribes, keeps the session and the socket alive, routes
// inbound reports and reconnects with exponential backoff.
type Dispatcher struct {
	cfg     Config
	session Session
	handler Handler
	clock   clock.WithTicker
	dialer  *websocket.Dialer
	backoff workqueue.TypedRateLimiter[string]
	logger  *slog.Logger

	state       atomic.Int32
	lastInbound atomic.Int64
	connects    atomic.Int64

	writeMu sync.Mutex
	nextID  int
}

type Option func(*Dispatcher)

func WithClock(c clock.WithTicker) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger.WithGroup("stream")
		}
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(d *Dispatcher) {
		if dialer != nil {
			d.dialer = dialer
		}
	}
}

func NewDispatcher(cfg Config, s Session, h Handler, opts ...Option) *Dispatcher {
	cfg.setDefaults()
	d := &Dispatcher{
		cfg:     cfg,
		session: s,
		handler: h,
		clock:   clock.RealClock{},
		logger:  slog.Default().WithGroup("stream"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.dialer == nil {
		d.dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	d.backoff = workqueue.NewTypedItemExponentialFailureRateLimiter[string](cfg.BaseBackoff, cfg.MaxBackoff)
	return d
}

func (d *Dispatcher) State() State { return State(d.state.Load()) }

// LastInbound is the time the last frame was received.
func (d *Dispatcher) LastInbound() time.Time {
	ns := d.lastInbound.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Connects counts successful subscriptions, including reconnects.
func (d *Dispatcher) Connects() int64 { return d.connects.Load() }

func (d *Dispatcher) setState(s State) {
	if prev := State(d.state.Swap(int32(s))); prev != s {
		d.logger.Debug("state", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Run keeps the stream connected until ctx is cancelled. It returns nil on
// cancellation and ErrGaveUp once MaxAttempts consecutive attempts failed.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		err := d.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		failures := d.backoff.NumRequeues(reconnectItem) + 1
		if d.cfg.MaxAttempts > 0 && failures >= d.cfg.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, failures, err)
		}

		delay := d.backoff.When(reconnectItem)
		d.logger.Warn("stream disconnected",
			slog.String("error", errString(err)),
			slog.Int("attempt", failures),
			slog.Duration("retry-in", delay),
		)

		timer := d.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) error {
	d.setState(Connecting)
	defer d.setState(Disconnected)

	tok, err := d.token(ctx)
	if err != nil {
		return err
	}

	url := strings.TrimRight(d.cfg.URL, "/") + "/" + tok.Key
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	d.touch()
	if err := d.sendSubscriptions(conn, eventSubscribe); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	d.setState(Subscribed)
	d.backoff.Forget(reconnectItem)
	d.connects.Add(1)
	d.logger.Info("stream subscribed",
		slog.Any("topics", d.cfg.Topics),
		slog.Any("symbols", d.cfg.Symbols),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.readLoop(gctx, conn) })
	g.Go(func() error { return d.heartbeat(gctx, conn) })
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			d.shutdown(conn)
		}
		// unblocks the read loop
		return conn.Close()
	})
	return g.Wait()
}

// token returns the session to connect with. The first connection reuses the
// key created at startup; reconnects renew it or create a fresh one.
func (d *Dispatcher) token(ctx context.Context) (session.Token, error) {
	if d.connects.Load() == 0 && d.backoff.NumRequeues(reconnectItem) == 0 {
		if tok, ok := d.session.Token(); ok {
			return tok, nil
		}
	}
	tok, err := d.session.Ensure(ctx)
	if err != nil {
		return session.Token{}, fmt.Errorf("ensure session: %w", err)
	}
	return tok, nil
}

func (d *Dispatcher) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		d.touch()

		reports, errs, err := ParseBatch(msg)
		if err != nil {
			d.logger.Warn("could not parse frame", slog.String("error", err.Error()))
			continue
		}
		for _, e := range errs {
			d.logger.Warn("could not parse execution report", slog.String("error", e.Error()))
		}
		if len(reports) == 0 {
			continue
		}
		d.handler.HandleBatch(ctx, reports)
	}
}

// heartbeat renews the session when due, then pings, then checks for
// staleness.
func (d *Dispatcher) heartbeat(ctx context.Context, conn *websocket.Conn) error {
	ticker := d.clock.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		if renewed, err := d.session.RenewIfDue(ctx); err != nil {
			d.logger.Warn("session renewal failed", slog.String("error", err.Error()))
		} else if renewed {
			d.logger.Info("session renewed")
		}

		if err := d.writeJSON(conn, ping{Ping: d.clock.Now().UnixMilli()}); err != nil {
			return fmt.Errorf("ping: %w", err)
		}

		if idle := d.clock.Since(d.LastInbound()); idle > d.cfg.StaleAfter {
			return fmt.Errorf("%w for %s", ErrStale, idle.Round(time.Millisecond))
		}
	}
}

func (d *Dispatcher) sendSubscriptions(conn *websocket.Conn, event string) error {
	for _, topic := range d.cfg.Topics {
		for _, symbol := range d.cfg.Symbols {
			d.nextID++
			msg := subscription{
				Symbol: symbol,
				Topic:  topic,
				Event:  event,
				Params: subscribeParams{Binary: false},
				ID:     d.nextID,
			}
			if err := d.writeJSON(conn, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// shutdown unsubscribes and sends a close frame. Both are best effort.
func (d *Dispatcher) shutdown(conn *websocket.Conn) {
	if err := d.sendSubscriptions(conn, eventUnsubscribe); err != nil {
		d.logger.Debug("unsubscribe failed", slog.String("error", err.Error()))
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (d *Dispatcher) writeJSON(conn *websocket.Conn, v any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (d *Dispatcher) touch() {
	d.lastInbound.Store(d.clock.Now().UnixNano())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
