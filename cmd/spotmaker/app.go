package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/recomma/spotmaker/cmd/spotmaker/internal/config"
	"github.com/recomma/spotmaker/dca"
	"github.com/recomma/spotmaker/exchange"
	"github.com/recomma/spotmaker/internal/api"
	"github.com/recomma/spotmaker/internal/origin"
	"github.com/recomma/spotmaker/ledger"
	rlog "github.com/recomma/spotmaker/log"
	"github.com/recomma/spotmaker/pricecache"
	"github.com/recomma/spotmaker/pricecache/redis"
	"github.com/recomma/spotmaker/quote"
	"github.com/recomma/spotmaker/schedule"
	"github.com/recomma/spotmaker/session"
	"github.com/recomma/spotmaker/spot"
	"github.com/recomma/spotmaker/storage"
	"github.com/recomma/spotmaker/stream"
)

// App holds every long-lived component of the agent.
type App struct {
	Config config.AppConfig
	Logger *slog.Logger

	Gateway    *exchange.Gateway
	Session    *session.Manager
	Ledger     *ledger.Ledger
	Store      *storage.Storage
	Prices     *pricecache.Cache
	Redis      *redis.Mirror
	Router     *stream.Router
	Dispatcher *stream.Dispatcher
	Quote      *quote.Engine
	DCA        *dca.Scheduler
	Server     *http.Server

	clock clock.WithTicker
}

// AppOptions configures application creation. Everything except Config is
// optional and exists for tests.
type AppOptions struct {
	Config     config.AppConfig
	Logger     *slog.Logger
	Clock      clock.WithTicker
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// NewApp builds and wires the components. It loads the ledger but makes no
// exchange calls.
func NewApp(ctx context.Context, opts AppOptions) (*App, error) {
	cfg := opts.Config

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	mmPairs, err := cfg.MarketMakingPairs()
	if err != nil {
		return nil, err
	}
	dcaPairs, err := cfg.DCAPairList()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger, clock: clk}

	gwOpts := []exchange.Option{
		exchange.WithRateGate(exchange.NewRateGate(cfg.RequestSpacing, clk)),
		exchange.WithTimeout(cfg.RequestTimeout),
		exchange.WithClock(clk),
		exchange.WithLogger(logger),
	}
	if opts.HTTPClient != nil {
		gwOpts = append(gwOpts, exchange.WithHTTPClient(opts.HTTPClient))
	}
	app.Gateway, err = exchange.New(cfg.RESTURL, exchange.Credentials{APIKey: cfg.Access, Secret: cfg.Secret}, gwOpts...)
	if err != nil {
		return nil, fmt.Errorf("exchange gateway: %w", err)
	}

	app.Session = session.NewManager(app.Gateway,
		session.WithClock(clk),
		session.WithRenewAfter(cfg.RenewAfter),
		session.WithLogger(logger),
	)

	ledgerOpts := []ledger.Option{
		ledger.WithStore(ledger.NewCSVStore(cfg.LedgerPath)),
		ledger.WithLogger(logger),
	}
	if cfg.StoragePath != "" {
		app.Store, err = storage.New(cfg.StoragePath, storage.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("storage init failed: %w", err)
		}
		ledgerOpts = append(ledgerOpts, ledger.WithStore(app.Store))
	}
	app.Ledger = ledger.New(ledgerOpts...)
	if err := app.Ledger.Load(ctx); err != nil {
		app.closeStores()
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	logger.Info("ledger loaded", slog.Int("rows", app.Ledger.Len()), slog.String("path", cfg.LedgerPath))

	cacheOpts := []pricecache.Option{pricecache.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		mirror, err := redis.New(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, logger)
		if err != nil {
			logger.Warn("price mirror disabled", slog.String("error", err.Error()))
		} else {
			app.Redis = mirror
			cacheOpts = append(cacheOpts, pricecache.WithMirror(mirror))
		}
	}
	app.Prices = pricecache.New(cacheOpts...)

	app.Quote = quote.New(app.Gateway, app.Prices, app.Ledger, mmPairs,
		quote.WithClock(clk),
		quote.WithLogger(logger),
		quote.WithSellRetryLimit(cfg.SellRetryLimit),
	)

	if len(dcaPairs) > 0 {
		app.DCA, err = dca.New(app.Gateway, dcaPairs, cfg.DCAHour, cfg.DCAMinute,
			dca.WithLocation(loc),
			dca.WithClock(clk),
			dca.WithLogger(logger),
		)
		if err != nil {
			app.closeStores()
			return nil, err
		}
	}

	app.Router = stream.NewRouter(app.Ledger, app.Quote, logger)

	dispatcherOpts := []stream.Option{stream.WithClock(clk), stream.WithLogger(logger)}
	if opts.Dialer != nil {
		dispatcherOpts = append(dispatcherOpts, stream.WithDialer(opts.Dialer))
	}
	app.Dispatcher = stream.NewDispatcher(stream.Config{
		URL:               cfg.StreamURL,
		Symbols:           streamSymbols(mmPairs, dcaPairs),
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleAfter:        cfg.StaleAfter,
		MaxBackoff:        cfg.ReconnectMaxBackoff,
		MaxAttempts:       cfg.ReconnectMaxAttempts,
	}, app.Session, app.Router, dispatcherOpts...)

	if cfg.HTTPListen != "" {
		app.Server = app.newServer()
	}

	return app, nil
}

func streamSymbols(groups ...[]spot.Pair) []string {
	var out []string
	for _, pairs := range groups {
		for _, p := range pairs {
			if !slices.Contains(out, p.Symbol) {
				out = append(out, p.Symbol)
			}
		}
	}
	return out
}

func (a *App) newServer() *http.Server {
	handlerOpts := []api.HandlerOption{
		api.WithStream(a.Dispatcher),
		api.WithRouter(a.Router),
		api.WithSession(a.Session),
		api.WithQuote(a.Quote),
		api.WithLedger(a.Ledger),
		api.WithPrices(a.Prices),
		api.WithClock(a.clock),
		api.WithLogger(a.Logger),
	}
	if a.DCA != nil {
		handlerOpts = append(handlerOpts, api.WithDCA(a.DCA))
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: origin.Allowed(a.Config.HTTPListen, a.Config.PublicOrigin),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:              a.Config.HTTPListen,
		Handler:           corsMiddleware.Handler(api.NewHandler(handlerOpts...)),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run opens the session and runs the stream, the schedulers and the status
// API until ctx is cancelled. A failed session open is returned before
// anything else starts.
func (a *App) Run(ctx context.Context) error {
	ctx = rlog.ContextWithLogger(ctx, a.Logger)

	tok, err := a.Session.Create(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	a.Logger.Info("session opened", slog.Any("token", tok))
	defer a.closeSession()

	var listener net.Listener
	if a.Server != nil {
		listener, err = net.Listen("tcp", a.Server.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", a.Server.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Dispatcher.Run(gctx)
	})

	var loops []schedule.Loop
	if len(a.Config.TradePairs) > 0 {
		loops = append(loops, a.Quote.Loop(a.Config.TradeInterval))
	}
	if a.DCA != nil {
		loops = append(loops, a.DCA.Loop())
	}
	g.Go(func() error {
		return schedule.Run(gctx, a.clock, a.Logger, loops...)
	})

	if listener != nil {
		g.Go(func() error {
			a.Logger.Info("HTTP API listening", slog.String("addr", listener.Addr().String()))
			if err := a.Server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return a.Server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *App) closeSession() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Session.Close(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
		a.Logger.Warn("could not delete listen key", slog.String("error", err.Error()))
	}
}

// Close releases storage and the price mirror.
func (a *App) Close() error {
	return a.closeStores()
}

func (a *App) closeStores() error {
	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	return errors.Join(errs...)
}
