package storage

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/recomma/spotmaker/ledger"
	"github.com/recomma/spotmaker/spot"
)

func newTestStorage(t *testing.T, opts ...Option) *Storage {
	t.Helper()

	store, err := New(":memory:", opts...)
	if err != nil {
		t.Fatalf("open sqlite storage: %v", err)
	}

	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close sqlite storage: %v", err)
		}
	})

	return store
}

func sampleRows() []ledger.Row {
	return []ledger.Row{
		{
			Strategy: "MM", Symbol: "BTCUSD",
			BuyTime: "2023-11-14 22:13:20.000", BuyID: "42", BuyQty: "2", BuyPrice: "100", BuyFee: "0.1", BuyTotal: "200",
			SellTime: "2023-11-14 22:14:20.000", SellID: "42", SellQty: "2", SellPrice: "101", SellFee: "0.2", SellTotal: "202",
			PnL: "1.7",
		},
		{Strategy: "DCA", Symbol: "ETHUSD", BuyTime: "2023-11-15 09:30:01.000", BuyID: "DCA01", BuyQty: "0.01", BuyPrice: "2000", BuyTotal: "20"},
		{Strategy: "MM", Symbol: "BTCUSD", SellID: "orphan", SellQty: "1", SellPrice: "99"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()

	rows, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)

	want := sampleRows()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveReplacesTable(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleRows()))
	require.NoError(t, store.Save(ctx, sampleRows()[:1]))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSaveRollsBackOnCancel(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	require.NoError(t, store.Save(context.Background(), sampleRows()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, store.Save(ctx, nil))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3, "previous table survives a failed save")
}

func TestLedgerMirror(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	store, err := New(filepath.Join(dir, "spotmaker.db"), WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	l := ledger.New(ledger.WithStore(store), ledger.WithStore(ledger.NewCSVStore(filepath.Join(dir, "trades.csv"))))
	report := spot.ExecutionReport{
		EventTime: 1_700_000_000_000, Symbol: "BTCUSD", OrderID: "42",
		Side: spot.Buy, OrderType: spot.Limit, Status: spot.StatusFilled,
		Price: "100", Quantity: "2", Fee: "0.1", FilledTotal: "200",
	}
	require.NoError(t, l.RecordBuyFill(ctx, ledger.FillFromReport(report, spot.StrategyMarketMaker, report.Tag(), report.Filled())))

	rows, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, l.Rows(), rows)
	require.Contains(t, logs.String(), "sql exec")
	require.Contains(t, logs.String(), "InsertLedgerRow", "statements inside the save transaction are logged")

	csvRows, err := ledger.NewCSVStore(filepath.Join(dir, "trades.csv")).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, rows, csvRows)
}
