package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/recomma/spotmaker/exchange"
)

type fakeGateway struct {
	mu        sync.Mutex
	keys      []string
	createErr error
	renewErr  error
	created   int
	renewed   []string
	deleted   []string
}

func (f *fakeGateway) CreateListenKey(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	key := fmt.Sprintf("listen-key-%d", f.created)
	f.keys = append(f.keys, key)
	return key, nil
}

func (f *fakeGateway) RenewListenKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewed = append(f.renewed, key)
	return f.renewErr
}

func (f *fakeGateway) DeleteListenKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func newTestManager(gw Gateway) (*Manager, *testingclock.FakeClock) {
	clk := testingclock.NewFakeClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	return NewManager(gw, WithClock(clk)), clk
}

func TestCreateStoresToken(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	m, clk := newTestManager(gw)

	tok, err := m.Create(context.Background())
	require.NoError(t, err)
	require.Equal(t, Token{Key: "listen-key-1", CreatedAt: clk.Now(), LastRenewedAt: clk.Now()}, tok)

	got, ok := m.Token()
	require.True(t, ok)
	require.Equal(t, tok, got)
}

func TestCreateAuthFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantAuth bool
	}{
		{name: "missing listen key", err: exchange.ErrMissingListenKey, wantAuth: true},
		{name: "unauthorized", err: &exchange.APIError{Status: 401, Code: "-1002"}, wantAuth: true},
		{name: "server error", err: &exchange.APIError{Status: 503}, wantAuth: false},
		{name: "transport", err: errors.New("dial tcp: refused"), wantAuth: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestManager(&fakeGateway{createErr: fmt.Errorf("create listen key: %w", tc.err)})
			_, err := m.Create(context.Background())
			require.Error(t, err)
			require.Equal(t, tc.wantAuth, errors.Is(err, ErrAuth))
			_, ok := m.Token()
			require.False(t, ok)
		})
	}
}

func TestRenewIfDue(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	m, clk := newTestManager(gw)
	ctx := context.Background()

	_, err := m.RenewIfDue(ctx)
	require.ErrorIs(t, err, ErrNoSession)

	_, err = m.Create(ctx)
	require.NoError(t, err)

	clk.Step(1795 * time.Second)
	renewed, err := m.RenewIfDue(ctx)
	require.NoError(t, err)
	require.False(t, renewed)
	require.Empty(t, gw.renewed)

	clk.Step(10 * time.Second)
	renewed, err = m.RenewIfDue(ctx)
	require.NoError(t, err)
	require.True(t, renewed)
	require.Equal(t, []string{"listen-key-1"}, gw.renewed)

	tok, _ := m.Token()
	require.Equal(t, clk.Now(), tok.LastRenewedAt)

	renewed, err = m.RenewIfDue(ctx)
	require.NoError(t, err)
	require.False(t, renewed, "renewal resets the threshold")
}

func TestRenewFailureKeepsToken(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	m, clk := newTestManager(gw)
	ctx := context.Background()

	created, err := m.Create(ctx)
	require.NoError(t, err)

	gw.renewErr = &exchange.APIError{Status: 500}
	clk.Step(time.Hour)
	renewed, err := m.RenewIfDue(ctx)
	require.True(t, renewed)
	require.Error(t, err)

	tok, ok := m.Token()
	require.True(t, ok)
	require.Equal(t, created, tok)
}

func TestEnsureRecreatesWhenRenewalFails(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	m, _ := newTestManager(gw)
	ctx := context.Background()

	tok, err := m.Ensure(ctx)
	require.NoError(t, err)
	require.Equal(t, "listen-key-1", tok.Key)

	tok, err = m.Ensure(ctx)
	require.NoError(t, err)
	require.Equal(t, "listen-key-1", tok.Key)
	require.Equal(t, []string{"listen-key-1"}, gw.renewed)

	gw.renewErr = errors.New("expired")
	tok, err = m.Ensure(ctx)
	require.NoError(t, err)
	require.Equal(t, "listen-key-2", tok.Key)
}

func TestCloseDeletesKey(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	m, _ := newTestManager(gw)
	ctx := context.Background()

	require.NoError(t, m.Close(ctx))
	require.Empty(t, gw.deleted)

	_, err := m.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx))
	require.Equal(t, []string{"listen-key-1"}, gw.deleted)

	_, ok := m.Token()
	require.False(t, ok)
}
