package marketdata

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"dydx-breakout-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockVenue is a deterministic in-memory venue client for market data tests.
type mockVenue struct {
	mu      sync.Mutex
	candles []models.Candle
	err     error
}

func (m *mockVenue) GetCandles(ctx context.Context, instrument string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]models.Candle, len(m.candles))
	copy(out, m.candles)
	return out, nil
}

func (m *mockVenue) StreamTrades(ctx context.Context, instrument string, out chan<- models.VenueTrade) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockVenue) GetAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	return &models.AccountSnapshot{EquityUSD: 10000, FreeCollateralUSD: 10000}, nil
}

func (m *mockVenue) PlaceMarketOrder(ctx context.Context, instrument, side string, sizeBase float64, clientID string) (*models.OrderFill, error) {
	return &models.OrderFill{FilledPrice: 100, FilledSize: sizeBase}, nil
}

func (m *mockVenue) CancelOrder(ctx context.Context, instrument, clientID string) error { return nil }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time      { return c.now }
func (c fixedClock) TodayUTC() time.Time { return c.now.UTC().Truncate(24 * time.Hour) }

func testConfig() *models.Config {
	cfg := models.DefaultConfig()
	cfg.ResistancePeriods = 24
	cfg.VolumeLookback = 20
	cfg.CandleLimit = 100
	return cfg
}

// breakout-shaped history: 24 closed candles with highs <= 100 and volume 1000,
// plus a forming candle.
func breakoutCandles(tf models.Timeframe) []models.Candle {
	candles := make([]models.Candle, 25)
	for i := range candles {
		candles[i] = models.Candle{
			StartTime: base.Add(time.Duration(i) * tf.Duration()),
			Timeframe: tf,
			Open:      99, High: 100, Low: 98, Close: 99.5,
			Volume: 1000,
		}
	}
	return candles
}

func TestViewNotReadyWithoutHistory(t *testing.T) {
	cfg := testConfig()
	md := New(cfg, &mockVenue{}, fixedClock{now: base}, zap.NewNop().Sugar())

	view := md.CurrentMarketView()
	assert.True(t, math.IsInf(view.ResistanceLevel, 1))
	assert.Zero(t, view.AverageVolume)
	assert.False(t, view.Ready())
}

func TestSnapshotProducesConsistentView(t *testing.T) {
	cfg := testConfig()
	mock := &mockVenue{candles: breakoutCandles(cfg.Timeframe)}
	md := New(cfg, mock, fixedClock{now: base}, zap.NewNop().Sugar())

	require.NoError(t, md.Snapshot(context.Background()))

	view := md.CurrentMarketView()
	assert.Equal(t, 100.0, view.ResistanceLevel)
	assert.Equal(t, 1000.0, view.AverageVolume)
	assert.Equal(t, 99.5, view.LatestPrice, "latest price falls back to last close")
	assert.True(t, view.Ready())
}

func TestTradesUpdateLatestPriceAndOpenVolume(t *testing.T) {
	cfg := testConfig()
	mock := &mockVenue{candles: breakoutCandles(cfg.Timeframe)}
	md := New(cfg, mock, fixedClock{now: base}, zap.NewNop().Sugar())
	require.NoError(t, md.Snapshot(context.Background()))

	openStart := base.Add(24 * cfg.Timeframe.Duration())
	md.applyTrade(models.VenueTrade{Price: 101, Size: 2600, At: openStart.Add(time.Minute)})

	view := md.CurrentMarketView()
	assert.Equal(t, 101.0, view.LatestPrice)
	assert.Equal(t, 3600.0, view.CurrentVolume, "trade volume accumulates onto the forming candle")
	assert.Equal(t, 100.0, view.ResistanceLevel, "resistance only uses closed candles")
}

func TestTradesDroppedWhileAwaitingResnapshot(t *testing.T) {
	cfg := testConfig()
	mock := &mockVenue{candles: breakoutCandles(cfg.Timeframe)}
	md := New(cfg, mock, fixedClock{now: base}, zap.NewNop().Sugar())
	require.NoError(t, md.Snapshot(context.Background()))

	md.mu.Lock()
	md.awaitingResnap = true
	md.mu.Unlock()

	before := md.CurrentMarketView()
	md.applyTrade(models.VenueTrade{Price: 500, Size: 1, At: base.Add(25 * cfg.Timeframe.Duration())})
	after := md.CurrentMarketView()

	assert.Equal(t, before.LatestPrice, after.LatestPrice,
		"trades arriving before the re-snapshot completes are dropped")
}

// Re-snapshotting after a disconnect must yield a store indistinguishable from
// one that never disconnected, up to the currently-open candle.
func TestResnapshotRoundTrip(t *testing.T) {
	cfg := testConfig()
	mock := &mockVenue{candles: breakoutCandles(cfg.Timeframe)}

	md1 := New(cfg, mock, fixedClock{now: base}, zap.NewNop().Sugar())
	require.NoError(t, md1.Snapshot(context.Background()))

	md2 := New(cfg, mock, fixedClock{now: base}, zap.NewNop().Sugar())
	require.NoError(t, md2.Snapshot(context.Background()))
	md2.mu.Lock()
	md2.awaitingResnap = true
	md2.mu.Unlock()
	require.NoError(t, md2.Snapshot(context.Background()))

	v1, v2 := md1.CurrentMarketView(), md2.CurrentMarketView()
	assert.Equal(t, v1.ResistanceLevel, v2.ResistanceLevel)
	assert.Equal(t, v1.AverageVolume, v2.AverageVolume)
	assert.Equal(t, v1.LatestPrice, v2.LatestPrice)
}
