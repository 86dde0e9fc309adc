package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"dydx-breakout-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockAccountVenue serves a configurable account snapshot.
type mockAccountVenue struct {
	mu      sync.Mutex
	account models.AccountSnapshot
	err     error
}

func (m *mockAccountVenue) GetAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	a := m.account
	return &a, nil
}

func (m *mockAccountVenue) setEquity(equity, free float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = models.AccountSnapshot{EquityUSD: equity, FreeCollateralUSD: free}
}

func (m *mockAccountVenue) GetCandles(ctx context.Context, instrument string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	return nil, nil
}
func (m *mockAccountVenue) StreamTrades(ctx context.Context, instrument string, out chan<- models.VenueTrade) error {
	<-ctx.Done()
	return ctx.Err()
}
func (m *mockAccountVenue) PlaceMarketOrder(ctx context.Context, instrument, side string, sizeBase float64, clientID string) (*models.OrderFill, error) {
	return nil, nil
}
func (m *mockAccountVenue) CancelOrder(ctx context.Context, instrument, clientID string) error {
	return nil
}

// mutableClock lets tests advance across the UTC day boundary.
type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) TodayUTC() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.UTC().Truncate(24 * time.Hour)
}

func (c *mutableClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func riskConfig() *models.Config {
	cfg := models.DefaultConfig()
	cfg.MaxPositionSizeUSD = 1000
	cfg.MaxDailyLossUSD = 50
	cfg.MaxDrawdownPct = 10
	cfg.MaxLeverage = 5
	return cfg
}

func signal(sizeUSD float64) *models.EntrySignal {
	return &models.EntrySignal{EntryPrice: 101, StopLoss: 99, TakeProfit: 107, SizeUSD: sizeUSD}
}

func newTestManager(t *testing.T) (*Manager, *mockAccountVenue, *mutableClock) {
	t.Helper()
	client := &mockAccountVenue{}
	client.setEquity(10000, 10000)
	clock := &mutableClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewManager(riskConfig(), client, clock, zap.NewNop().Sugar()), client, clock
}

func TestAllowEntryHappyPath(t *testing.T) {
	m, _, _ := newTestManager(t)
	ok, reason, _ := m.AllowEntry(context.Background(), signal(100))
	assert.True(t, ok)
	assert.Equal(t, DenyNone, reason)
}

func TestDenyPositionTooBig(t *testing.T) {
	m, _, _ := newTestManager(t)
	ok, reason, detail := m.AllowEntry(context.Background(), signal(1001))
	assert.False(t, ok)
	assert.Equal(t, DenyPositionTooBig, reason)
	assert.NotEmpty(t, detail)
}

func TestDenyInsufficientCollateral(t *testing.T) {
	m, client, _ := newTestManager(t)
	// 500/5 = 100 USD required, only 99 free.
	client.setEquity(10000, 99)
	ok, reason, _ := m.AllowEntry(context.Background(), signal(500))
	assert.False(t, ok)
	assert.Equal(t, DenyInsufficientCol, reason)
}

func TestDenyWhenAccountUnavailable(t *testing.T) {
	m, client, _ := newTestManager(t)
	client.err = context.DeadlineExceeded
	ok, reason, _ := m.AllowEntry(context.Background(), signal(100))
	assert.False(t, ok)
	assert.Equal(t, DenyAccountUnknown, reason)
}

func TestCircuitBreakerOnDailyLoss(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.UpdateDailyPnl(-55)
	ok, reason, _ := m.AllowEntry(context.Background(), signal(100))
	assert.False(t, ok)
	assert.Equal(t, DenyCircuitBroken, reason)
	assert.True(t, m.Tripped())
}

func TestCircuitBreakerOnDrawdown(t *testing.T) {
	m, client, _ := newTestManager(t)

	// Capture initial equity, then let the account fall 15%.
	_, _, _ = m.AllowEntry(context.Background(), signal(100))
	client.setEquity(8500, 8500)

	ok, reason, _ := m.AllowEntry(context.Background(), signal(100))
	assert.False(t, ok)
	assert.Equal(t, DenyCircuitBroken, reason)
}

func TestDayBoundaryResetsBreaker(t *testing.T) {
	m, _, clock := newTestManager(t)

	m.UpdateDailyPnl(-60)
	require.True(t, m.Tripped())

	clock.advance(24 * time.Hour)
	ok, _, _ := m.AllowEntry(context.Background(), signal(100))
	assert.True(t, ok, "a new UTC day resets daily PnL and un-trips the breaker")
	assert.Zero(t, m.DailyPnl())
}

func TestDailyPnlAccumulation(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.UpdateDailyPnl(10)
	m.UpdateDailyPnl(-4.5)
	assert.InDelta(t, 5.5, m.DailyPnl(), 1e-9)
}

// Replayed same-day losses beyond the limit trip the breaker at start-up.
func TestRehydrateTripsBreaker(t *testing.T) {
	m, _, clock := newTestManager(t)

	today := clock.Now()
	trades := []models.Trade{
		{PnlUSD: -20, ClosedAt: today},
		{PnlUSD: -15, ClosedAt: today},
		{PnlUSD: -20, ClosedAt: today},
		{PnlUSD: -30, ClosedAt: today.Add(-48 * time.Hour)}, // different day, ignored
	}
	m.Rehydrate(trades)

	assert.InDelta(t, -55, m.DailyPnl(), 1e-9)
	assert.True(t, m.Tripped())
}
