// Package redis mirrors price snapshots into a Redis hash for external
// consumers.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/recomma/spotmaker/pricecache"
)

const (
	DefaultKey = "spotmaker:bestbid"
	DefaultTTL = 2 * time.Minute

	updatedAtField = "_updated_at"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// Mirror implements pricecache.Mirror.
type Mirror struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// New connects and pings Redis.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	m := &Mirror{
		client: client,
		key:    cfg.Key,
		ttl:    cfg.TTL,
		logger: logger.WithGroup("redis"),
	}
	if m.key == "" {
		m.key = DefaultKey
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	return m, nil
}

// Publish replaces the hash with the snapshot in one transaction.
func (m *Mirror) Publish(ctx context.Context, snap pricecache.Snapshot) error {
	values := hashFields(snap)

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.key)
	pipe.HSet(ctx, m.key, values)
	pipe.Expire(ctx, m.key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	m.logger.Debug("snapshot published", slog.Int("symbols", len(snap.Bids)))
	return nil
}

func (m *Mirror) Close() error {
	return m.client.Close()
}

func hashFields(snap pricecache.Snapshot) map[string]any {
	out := make(map[string]any, len(snap.Bids)+1)
	for sym, bid := range snap.Bids {
		out[sym] = bid.String()
	}
	out[updatedAtField] = strconv.FormatInt(snap.UpdatedAt.UnixMilli(), 10)
	return out
}
