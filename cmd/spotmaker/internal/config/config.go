package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	rlog "github.com/recomma/spotmaker/log"
	"github.com/recomma/spotmaker/spot"
)

// PairConfig holds the per-symbol trading parameters. Values stay as text so
// the decimal form written in the file is kept exactly.
type PairConfig struct {
	BuyLimitMargin  string `yaml:"buy_limit_margin"`
	SellLimitMargin string `yaml:"sell_limit_margin"`
	TradeQuantity   string `yaml:"trade_quantity"`
	DCAAmount       string `yaml:"dca_amount"`
	PricePrecision  int32  `yaml:"price_precision"`
}

type AppConfig struct {
	ConfigFile string

	Access string
	Secret string

	RESTURL   string
	StreamURL string

	TradeInterval time.Duration
	TradePairs    []string
	DCAPairs      []string
	DCAHour       int
	DCAMinute     int
	DCATimezone   string
	Pairs         map[string]PairConfig

	LedgerPath    string
	StoragePath   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HTTPListen   string
	PublicOrigin string

	HeartbeatInterval    time.Duration
	RenewAfter           time.Duration
	StaleAfter           time.Duration
	ReconnectMaxBackoff  time.Duration
	ReconnectMaxAttempts int
	SellRetryLimit       int
	RequestTimeout       time.Duration
	RequestSpacing       time.Duration

	LogLevel      string
	LogFormatJSON bool
	LogFile       string
	LogComponents []string
}

func DefaultConfig() AppConfig {
	return AppConfig{
		RESTURL:             "https://api-pro.hashkey.com",
		StreamURL:           "wss://stream-pro.hashkey.com/api/v1/ws",
		TradeInterval:       10 * time.Second,
		DCAHour:             9,
		DCAMinute:           30,
		DCATimezone:         "Local",
		LedgerPath:          "trades.csv",
		StoragePath:         "spotmaker.sqlite3",
		HTTPListen:          ":8080",
		HeartbeatInterval:   5 * time.Second,
		RenewAfter:          1800 * time.Second,
		StaleAfter:          30 * time.Second,
		ReconnectMaxBackoff: time.Minute,
		SellRetryLimit:      3,
		RequestTimeout:      10 * time.Second,
		RequestSpacing:      100 * time.Millisecond,
		LogLevel:            "info",
	}
}

// NewConfigFlagSet declares the flags against the provided struct but does not parse.
func NewConfigFlagSet(cfg *AppConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("spotmaker", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "YAML trading config file (env: SPOTMAKER_CONFIG)")

	fs.StringVar(&cfg.Access, "access", cfg.Access, "Exchange API key (env: SPOTMAKER_ACCESS)")
	fs.StringVar(&cfg.Secret, "secret", cfg.Secret, "Exchange API secret (env: SPOTMAKER_SECRET)")
	fs.StringVar(&cfg.RESTURL, "rest-url", cfg.RESTURL, "Exchange REST base URL (env: SPOTMAKER_REST_URL)")
	fs.StringVar(&cfg.StreamURL, "stream-url", cfg.StreamURL, "Private stream URL without the listen key (env: SPOTMAKER_STREAM_URL)")

	fs.DurationVar(&cfg.TradeInterval, "trade-interval", cfg.TradeInterval, "Interval between quote cycles (env: SPOTMAKER_TRADE_INTERVAL)")
	fs.StringSliceVar(&cfg.TradePairs, "trade-pairs", cfg.TradePairs, "Market-making pairs (env: SPOTMAKER_TRADE_PAIRS)")
	fs.StringSliceVar(&cfg.DCAPairs, "dca-pairs", cfg.DCAPairs, "DCA pairs (env: SPOTMAKER_DCA_PAIRS)")
	fs.IntVar(&cfg.DCAHour, "dca-hour", cfg.DCAHour, "Hour of the daily DCA buy (env: SPOTMAKER_DCA_HOUR)")
	fs.IntVar(&cfg.DCAMinute, "dca-minute", cfg.DCAMinute, "Minute of the daily DCA buy (env: SPOTMAKER_DCA_MINUTE)")
	fs.StringVar(&cfg.DCATimezone, "dca-timezone", cfg.DCATimezone, "IANA zone the DCA time is read in (env: SPOTMAKER_DCA_TIMEZONE)")

	fs.StringVar(&cfg.LedgerPath, "ledger-path", cfg.LedgerPath, "Trade ledger CSV path (env: SPOTMAKER_LEDGER_PATH)")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "SQLite ledger mirror path, empty disables (env: SPOTMAKER_STORAGE_PATH)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the best bid mirror, empty disables (env: SPOTMAKER_REDIS_ADDR)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "Redis password (env: SPOTMAKER_REDIS_PASSWORD)")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database (env: SPOTMAKER_REDIS_DB)")

	fs.StringVar(&cfg.HTTPListen, "http-listen", cfg.HTTPListen, "Status API listen address, empty disables (env: SPOTMAKER_HTTP_LISTEN)")
	fs.StringVar(&cfg.PublicOrigin, "public-origin", cfg.PublicOrigin, "Browser origins allowed to read the status API (env: SPOTMAKER_PUBLIC_ORIGIN)")

	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "Stream ping interval (env: SPOTMAKER_HEARTBEAT_INTERVAL)")
	fs.DurationVar(&cfg.RenewAfter, "renew-after", cfg.RenewAfter, "Listen key renewal interval (env: SPOTMAKER_RENEW_AFTER)")
	fs.DurationVar(&cfg.StaleAfter, "stale-after", cfg.StaleAfter, "Reconnect when the stream is silent this long (env: SPOTMAKER_STALE_AFTER)")
	fs.DurationVar(&cfg.ReconnectMaxBackoff, "reconnect-max-backoff", cfg.ReconnectMaxBackoff, "Ceiling of the reconnect backoff (env: SPOTMAKER_RECONNECT_MAX_BACKOFF)")
	fs.IntVar(&cfg.ReconnectMaxAttempts, "reconnect-max-attempts", cfg.ReconnectMaxAttempts, "Consecutive failed connects before giving up, 0 retries forever (env: SPOTMAKER_RECONNECT_MAX_ATTEMPTS)")
	fs.IntVar(&cfg.SellRetryLimit, "sell-retry-limit", cfg.SellRetryLimit, "Resubmissions of a rejected sell (env: SPOTMAKER_SELL_RETRY_LIMIT)")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "REST request timeout (env: SPOTMAKER_REQUEST_TIMEOUT)")
	fs.DurationVar(&cfg.RequestSpacing, "request-spacing", cfg.RequestSpacing, "Minimum gap between REST requests (env: SPOTMAKER_REQUEST_SPACING)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (env: SPOTMAKER_LOG_LEVEL)")
	fs.BoolVar(&cfg.LogFormatJSON, "log-json", cfg.LogFormatJSON, "Emit logs as JSON (env: SPOTMAKER_LOG_JSON)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write JSON logs to this file (env: SPOTMAKER_LOG_FILE)")
	fs.StringSliceVar(&cfg.LogComponents, "log-components", cfg.LogComponents, "Only log these components below warn, e.g. stream,quote (env: SPOTMAKER_LOG_COMPONENTS)")

	return fs
}

type fileConfig struct {
	Access    *string `yaml:"access"`
	Secret    *string `yaml:"secret"`
	RESTURL   *string `yaml:"rest_url"`
	StreamURL *string `yaml:"stream_url"`

	TradeIntervalSeconds *int     `yaml:"trade_interval_s"`
	TradePairs           []string `yaml:"trade_pairs"`
	DCAPairs             []string `yaml:"dca_pairs"`
	DCAHour              *int     `yaml:"dca_hour"`
	DCAMinute            *int     `yaml:"dca_minute"`
	DCATimezone          *string  `yaml:"dca_timezone"`

	Pairs map[string]PairConfig `yaml:"pairs"`

	LedgerPath    *string `yaml:"ledger_path"`
	StoragePath   *string `yaml:"storage_path"`
	RedisAddr     *string `yaml:"redis_addr"`
	RedisPassword *string `yaml:"redis_password"`
	RedisDB       *int    `yaml:"redis_db"`
	HTTPListen    *string `yaml:"http_listen"`
	PublicOrigin  *string `yaml:"public_origin"`

	HeartbeatInterval    *time.Duration `yaml:"heartbeat_interval"`
	RenewAfter           *time.Duration `yaml:"renew_after"`
	StaleAfter           *time.Duration `yaml:"stale_after"`
	ReconnectMaxBackoff  *time.Duration `yaml:"reconnect_max_backoff"`
	ReconnectMaxAttempts *int           `yaml:"reconnect_max_attempts"`
	SellRetryLimit       *int           `yaml:"sell_retry_limit"`
	RequestTimeout       *time.Duration `yaml:"request_timeout"`
	RequestSpacing       *time.Duration `yaml:"request_spacing"`

	LogLevel      *string  `yaml:"log_level"`
	LogFormatJSON *bool    `yaml:"log_json"`
	LogFile       *string  `yaml:"log_file"`
	LogComponents []string `yaml:"log_components"`
}

func visited(fs *pflag.FlagSet) map[string]struct{} {
	set := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = struct{}{} })
	return set
}

// ApplyFileDefaults reads the YAML config file, if one is configured, and
// applies every key whose flag was not given on the command line. The pair
// table is only read from the file.
func ApplyFileDefaults(fs *pflag.FlagSet, cfg *AppConfig) error {
	if _, ok := visited(fs)["config"]; !ok {
		if v, ok := os.LookupEnv("SPOTMAKER_CONFIG"); ok && v != "" {
			cfg.ConfigFile = v
		}
	}
	if cfg.ConfigFile == "" {
		return nil
	}

	f, err := os.Open(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return applyFile(fs, cfg, f)
}

func applyFile(fs *pflag.FlagSet, cfg *AppConfig, r io.Reader) error {
	var fc fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file: %w", err)
	}

	flagSet := visited(fs)
	set := func(name string, apply func()) {
		if _, ok := flagSet[name]; !ok {
			apply()
		}
	}
	str := func(name string, src *string, dst *string) {
		if src != nil {
			set(name, func() { *dst = *src })
		}
	}
	num := func(name string, src *int, dst *int) {
		if src != nil {
			set(name, func() { *dst = *src })
		}
	}
	dur := func(name string, src *time.Duration, dst *time.Duration) {
		if src != nil {
			set(name, func() { *dst = *src })
		}
	}
	list := func(name string, src []string, dst *[]string) {
		if src != nil {
			set(name, func() { *dst = src })
		}
	}

	str("access", fc.Access, &cfg.Access)
	str("secret", fc.Secret, &cfg.Secret)
	str("rest-url", fc.RESTURL, &cfg.RESTURL)
	str("stream-url", fc.StreamURL, &cfg.StreamURL)
	if fc.TradeIntervalSeconds != nil {
		set("trade-interval", func() { cfg.TradeInterval = time.Duration(*fc.TradeIntervalSeconds) * time.Second })
	}
	list("trade-pairs", fc.TradePairs, &cfg.TradePairs)
	list("dca-pairs", fc.DCAPairs, &cfg.DCAPairs)
	num("dca-hour", fc.DCAHour, &cfg.DCAHour)
	num("dca-minute", fc.DCAMinute, &cfg.DCAMinute)
	str("dca-timezone", fc.DCATimezone, &cfg.DCATimezone)

	if len(fc.Pairs) > 0 {
		cfg.Pairs = make(map[string]PairConfig, len(fc.Pairs))
		for sym, p := range fc.Pairs {
			cfg.Pairs[spot.NormalizeSymbol(sym)] = p
		}
	}

	str("ledger-path", fc.LedgerPath, &cfg.LedgerPath)
	str("storage-path", fc.StoragePath, &cfg.StoragePath)
	str("redis-addr", fc.RedisAddr, &cfg.RedisAddr)
	str("redis-password", fc.RedisPassword, &cfg.RedisPassword)
	num("redis-db", fc.RedisDB, &cfg.RedisDB)
	str("http-listen", fc.HTTPListen, &cfg.HTTPListen)
	str("public-origin", fc.PublicOrigin, &cfg.PublicOrigin)

	dur("heartbeat-interval", fc.HeartbeatInterval, &cfg.HeartbeatInterval)
	dur("renew-after", fc.RenewAfter, &cfg.RenewAfter)
	dur("stale-after", fc.StaleAfter, &cfg.StaleAfter)
	dur("reconnect-max-backoff", fc.ReconnectMaxBackoff, &cfg.ReconnectMaxBackoff)
	num("reconnect-max-attempts", fc.ReconnectMaxAttempts, &cfg.ReconnectMaxAttempts)
	num("sell-retry-limit", fc.SellRetryLimit, &cfg.SellRetryLimit)
	dur("request-timeout", fc.RequestTimeout, &cfg.RequestTimeout)
	dur("request-spacing", fc.RequestSpacing, &cfg.RequestSpacing)

	str("log-level", fc.LogLevel, &cfg.LogLevel)
	if fc.LogFormatJSON != nil {
		set("log-json", func() { cfg.LogFormatJSON = *fc.LogFormatJSON })
	}
	str("log-file", fc.LogFile, &cfg.LogFile)
	list("log-components", fc.LogComponents, &cfg.LogComponents)
	return nil
}

// ApplyEnvDefaults inspects flags that were not given and pulls from env.
func ApplyEnvDefaults(fs *pflag.FlagSet, cfg *AppConfig) error {
	flagSet := visited(fs)
	var errs []error

	lookup := func(name, envKey string) (string, bool) {
		if _, ok := flagSet[name]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(envKey)
		return v, ok && v != ""
	}
	setString := func(name, envKey string, target *string) {
		if v, ok := lookup(name, envKey); ok {
			*target = v
		}
	}
	setList := func(name, envKey string, target *[]string) {
		if v, ok := lookup(name, envKey); ok {
			*target = splitList(v)
		}
	}
	setInt := func(name, envKey string, target *int) {
		if v, ok := lookup(name, envKey); ok {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", envKey, err))
				return
			}
			*target = parsed
		}
	}
	setBool := func(name, envKey string, target *bool) {
		if v, ok := lookup(name, envKey); ok {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", envKey, err))
				return
			}
			*target = parsed
		}
	}
	setDuration := func(name, envKey string, target *time.Duration) {
		if v, ok := lookup(name, envKey); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", envKey, err))
				return
			}
			*target = parsed
		}
	}

	setString("access", "SPOTMAKER_ACCESS", &cfg.Access)
	setString("secret", "SPOTMAKER_SECRET", &cfg.Secret)
	setString("rest-url", "SPOTMAKER_REST_URL", &cfg.RESTURL)
	setString("stream-url", "SPOTMAKER_STREAM_URL", &cfg.StreamURL)

	setDuration("trade-interval", "SPOTMAKER_TRADE_INTERVAL", &cfg.TradeInterval)
	setList("trade-pairs", "SPOTMAKER_TRADE_PAIRS", &cfg.TradePairs)
	setList("dca-pairs", "SPOTMAKER_DCA_PAIRS", &cfg.DCAPairs)
	setInt("dca-hour", "SPOTMAKER_DCA_HOUR", &cfg.DCAHour)
	setInt("dca-minute", "SPOTMAKER_DCA_MINUTE", &cfg.DCAMinute)
	setString("dca-timezone", "SPOTMAKER_DCA_TIMEZONE", &cfg.DCATimezone)

	setString("ledger-path", "SPOTMAKER_LEDGER_PATH", &cfg.LedgerPath)
	setString("storage-path", "SPOTMAKER_STORAGE_PATH", &cfg.StoragePath)
	setString("redis-addr", "SPOTMAKER_REDIS_ADDR", &cfg.RedisAddr)
	setString("redis-password", "SPOTMAKER_REDIS_PASSWORD", &cfg.RedisPassword)
	setInt("redis-db", "SPOTMAKER_REDIS_DB", &cfg.RedisDB)
	setString("http-listen", "SPOTMAKER_HTTP_LISTEN", &cfg.HTTPListen)
	setString("public-origin", "SPOTMAKER_PUBLIC_ORIGIN", &cfg.PublicOrigin)

	setDuration("heartbeat-interval", "SPOTMAKER_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	setDuration("renew-after", "SPOTMAKER_RENEW_AFTER", &cfg.RenewAfter)
	setDuration("stale-after", "SPOTMAKER_STALE_AFTER", &cfg.StaleAfter)
	setDuration("reconnect-max-backoff", "SPOTMAKER_RECONNECT_MAX_BACKOFF", &cfg.ReconnectMaxBackoff)
	setInt("reconnect-max-attempts", "SPOTMAKER_RECONNECT_MAX_ATTEMPTS", &cfg.ReconnectMaxAttempts)
	setInt("sell-retry-limit", "SPOTMAKER_SELL_RETRY_LIMIT", &cfg.SellRetryLimit)
	setDuration("request-timeout", "SPOTMAKER_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	setDuration("request-spacing", "SPOTMAKER_REQUEST_SPACING", &cfg.RequestSpacing)

	setString("log-level", "SPOTMAKER_LOG_LEVEL", &cfg.LogLevel)
	setBool("log-json", "SPOTMAKER_LOG_JSON", &cfg.LogFormatJSON)
	setString("log-file", "SPOTMAKER_LOG_FILE", &cfg.LogFile)
	setList("log-components", "SPOTMAKER_LOG_COMPONENTS", &cfg.LogComponents)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func ValidateConfig(cfg AppConfig) error {
	var missing []string
	if cfg.Access == "" {
		missing = append(missing, "access")
	}
	if cfg.Secret == "" {
		missing = append(missing, "secret")
	}
	if len(cfg.TradePairs) == 0 && len(cfg.DCAPairs) == 0 {
		missing = append(missing, "trade-pairs or dca-pairs")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	var errs []error
	for _, raw := range []struct{ name, value string }{{"rest-url", cfg.RESTURL}, {"stream-url", cfg.StreamURL}} {
		u, err := url.Parse(raw.value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q must be an absolute URL", raw.name, raw.value))
		}
	}
	if len(cfg.TradePairs) > 0 && cfg.TradeInterval <= 0 {
		errs = append(errs, errors.New("trade-interval must be positive"))
	}
	if cfg.DCAHour < 0 || cfg.DCAHour > 23 || cfg.DCAMinute < 0 || cfg.DCAMinute > 59 {
		errs = append(errs, fmt.Errorf("dca time %02d:%02d is out of range", cfg.DCAHour, cfg.DCAMinute))
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, err)
	}
	if cfg.SellRetryLimit < 0 {
		errs = append(errs, errors.New("sell-retry-limit must not be negative"))
	}
	if _, err := cfg.MarketMakingPairs(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.DCAPairList(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves DCATimezone. "Local" and empty mean the process zone.
func (cfg AppConfig) Location() (*time.Location, error) {
	if cfg.DCATimezone == "" || cfg.DCATimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(cfg.DCATimezone)
	if err != nil {
		return nil, fmt.Errorf("dca-timezone: %w", err)
	}
	return loc, nil
}

// MarketMakingPairs resolves trade-pairs against the pair table. Each pair
// needs both margins and a trade quantity.
func (cfg AppConfig) MarketMakingPairs() ([]spot.Pair, error) {
	return cfg.resolve(cfg.TradePairs, func(sym string, p spot.Pair) error {
		if !p.BuyMarginFactor.IsPositive() || !p.SellMarginFactor.IsPositive() {
			return fmt.Errorf("pair %s: buy_limit_margin and sell_limit_margin are required", sym)
		}
		if !p.BuyQuantity.IsPositive() {
			return fmt.Errorf("pair %s: trade_quantity is required", sym)
		}
		return nil
	})
}

// DCAPairList resolves dca-pairs against the pair table. Each pair needs a
// DCA amount.
func (cfg AppConfig) DCAPairList() ([]spot.Pair, error) {
	return cfg.resolve(cfg.DCAPairs, func(sym string, p spot.Pair) error {
		if !p.DCANotional.IsPositive() {
			return fmt.Errorf("pair %s: dca_amount is required", sym)
		}
		return nil
	})
}

func (cfg AppConfig) resolve(symbols []string, check func(string, spot.Pair) error) ([]spot.Pair, error) {
	var (
		out  []spot.Pair
		errs []error
	)
	for _, raw := range symbols {
		sym := spot.NormalizeSymbol(raw)
		pc, ok := cfg.Pairs[sym]
		if !ok {
			errs = append(errs, fmt.Errorf("pair %s: no entry in pairs", sym))
			continue
		}
		p, err := pc.toPair(sym)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := check(sym, p); err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

func (pc PairConfig) toPair(sym string) (spot.Pair, error) {
	p := spot.Pair{Symbol: sym, PricePrecision: pc.PricePrecision}
	if pc.PricePrecision < 0 {
		return p, fmt.Errorf("pair %s: price_precision must not be negative", sym)
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"buy_limit_margin", pc.BuyLimitMargin, &p.BuyMarginFactor},
		{"sell_limit_margin", pc.SellLimitMargin, &p.SellMarginFactor},
		{"trade_quantity", pc.TradeQuantity, &p.BuyQuantity},
		{"dca_amount", pc.DCAAmount, &p.DCANotional},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return p, fmt.Errorf("pair %s: %s: %w", sym, f.name, err)
		}
		*f.dst = d
	}
	return p, nil
}

// GetLogHandler builds the stderr handler and, when file is non-nil, a JSON
// handler writing to it. --log-components narrows both below warn.
func GetLogHandler(cfg AppConfig, file io.Writer) slog.Handler {
	var level slog.Level
	if cfg.LogLevel == "" {
		level = slog.LevelInfo
	} else if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
		log.Printf("unknown log level %q, defaulting to info", cfg.LogLevel)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	if file != nil {
		handler = rlog.NewFanoutHandler(handler, slog.NewJSONHandler(file, handlerOpts))
	}

	return rlog.NewComponentFilterHandler(handler, cfg.LogComponents, slog.LevelWarn)
}
