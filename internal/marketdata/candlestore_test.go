package marketdata

import (
	"testing"
	"time"

	"dydx-breakout-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func makeCandles(n int, tf models.Timeframe) []models.Candle {
	candles := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		candles[i] = models.Candle{
			StartTime: base.Add(time.Duration(i) * tf.Duration()),
			Timeframe: tf,
			Open:      100, High: 101, Low: 99, Close: 100,
			Volume: 1000,
		}
	}
	return candles
}

func TestLoadSnapshotTreatsNewestAsOpen(t *testing.T) {
	s := NewCandleStore("ETH-USD", models.Timeframe5m, 100)
	require.NoError(t, s.LoadSnapshot(makeCandles(25, models.Timeframe5m)))

	assert.Equal(t, 24, s.ClosedCount(), "newest candle should be the open one")
	assert.Equal(t, 1000.0, s.OpenVolume())
}

func TestLoadSnapshotRejectsMixedTimeframes(t *testing.T) {
	s := NewCandleStore("ETH-USD", models.Timeframe5m, 100)
	candles := makeCandles(5, models.Timeframe5m)
	candles[2].Timeframe = models.Timeframe1m

	err := s.LoadSnapshot(candles)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadSnapshot)
}

func TestLoadSnapshotRejectsNonMonotonicTimestamps(t *testing.T) {
	s := NewCandleStore("ETH-USD", models.Timeframe5m, 100)
	candles := makeCandles(5, models.Timeframe5m)
	candles[3].StartTime = candles[2].StartTime

	err := s.LoadSnapshot(candles)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadSnapshot)
}

func TestApplyTradeUpdatesOpenCandle(t *testing.T) {
	s := NewCandleStore("ETH-USD", models.Timeframe5m, 100)
	require.NoError(t, s.LoadSnapshot(makeCandles(3, models.Timeframe5m)))

	openStart := base.Add(2 * 5 * time.Minute)
	require.NoError(t, s.ApplyTrade(105, 50, openStart.Add(time.Minute)))
	require.NoError(t, s.ApplyTrade(98, 30, openStart.Add(2*time.Minute)))

	assert.Equal(t, 1080.0, s.OpenVolume())
	assert.Equal(t, 98.0, s.LastClose())
}

func TestApplyTradeSealsOnBoundary(t *testing.T) {
	s := NewCandleStore("ETH-USD", models.Timeframe5m, 100)
	require.NoError(t, s.LoadSnapshot(makeCandles(3, models.Timeframe5m)))
	require.Equal(t, 2, s.ClosedCount())

	// A trade beyond the open candle's window seals it and opens a new one.
	next := base.Add(3 * 5 * time.Minute)
	require.NoError(t, s.ApplyTrade(110, 10, next.Add(time.Second)))

	assert.Equal(t, 3, s.ClosedCount())
	assert.Equal(t, 10.0, s.OpenVolume())

	tail := s.Tail(3)
	require.Len(t, tail, 3)
	assert.Equal(t, 100.0, tail[2].Close, "sealed candle keeps its last close")
}

func TestApplyTradeDropsOutOfOrder(t *testing.T) {
	s := NewCandleStore("ETH-USD", models.Timeframe5m, 100)
	require.NoError(t, s.LoadSnapshot(makeCandles(3, models.Timeframe5m)))

	err := s.ApplyTrade(100, 10, base.Add(-time.Hour))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestTailIsStrictlyTimeOrdered(t *testing.T) {
	s := NewCandleStore("ETH-USD", models.Timeframe1m, 50)

	// Build the buffer purely from trades.
	at := base
	for i := 0; i < 80; i++ {
		require.NoError(t, s.ApplyTrade(100+float64(i%7), 5, at))
		at = at.Add(37 * time.Second)
	}

	tail := s.Tail(1000)
	for i := 1; i < len(tail); i++ {
		assert.True(t, tail[i-1].StartTime.Before(tail[i].StartTime),
			"closed candles must be strictly time ordered")
	}
	for _, c := range tail {
		assert.Equal(t, c.StartTime, c.StartTime.Truncate(time.Minute),
			"start times must align to the timeframe grid")
	}
}

func TestBoundedBufferEvictsOldest(t *testing.T) {
	s := NewCandleStore("ETH-USD", models.Timeframe1m, 5)
	at := base
	for i := 0; i < 20; i++ {
		require.NoError(t, s.ApplyTrade(100, 1, at))
		at = at.Add(time.Minute)
	}
	assert.Equal(t, 5, s.ClosedCount())
}

func TestTailExcludesOpenCandle(t *testing.T) {
	s := NewCandleStore("ETH-USD", models.Timeframe5m, 100)
	require.NoError(t, s.LoadSnapshot(makeCandles(10, models.Timeframe5m)))

	tail := s.Tail(100)
	assert.Len(t, tail, 9)
}
