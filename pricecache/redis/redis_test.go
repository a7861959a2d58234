package redis

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/recomma/spotmaker/pricecache"
)

func TestHashFields(t *testing.T) {
	t.Parallel()

	got := hashFields(pricecache.Snapshot{
		Bids: map[string]decimal.Decimal{
			"BTCUSD": decimal.RequireFromString("100.50"),
			"ETHUSD": decimal.RequireFromString("2000"),
		},
		UpdatedAt: time.UnixMilli(1_700_000_000_000),
	})

	require.Equal(t, map[string]any{
		"BTCUSD":      "100.5",
		"ETHUSD":      "2000",
		"_updated_at": "1700000000000",
	}, got)
}

func TestNewFailsWithoutServer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(ctx, Config{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
}
