package strategy

import (
	"math"
	"testing"
	"time"

	"dydx-breakout-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func strategyConfig() *models.Config {
	cfg := models.DefaultConfig()
	cfg.VolumeFactor = 2.5
	cfg.RiskRewardRatio = 3.0
	cfg.StopOffsetPct = 0.01
	cfg.PositionSizeUSD = 100
	return cfg
}

func view(price, resistance, currentVol, avgVol float64) models.MarketView {
	return models.MarketView{
		Instrument:      "ETH-USD",
		LatestPrice:     price,
		ResistanceLevel: resistance,
		AverageVolume:   avgVol,
		CurrentVolume:   currentVol,
		At:              time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Happy path: 24 closed candles with highs <= 100 and average volume 1000, the
// forming candle trades at 101 with volume 2600.
func TestBreakoutHappyPath(t *testing.T) {
	s := NewBreakout(strategyConfig(), zap.NewNop().Sugar())

	signal := s.Evaluate(view(101, 100, 2600, 1000))
	require.NotNil(t, signal)

	assert.Equal(t, 101.0, signal.EntryPrice)
	assert.InDelta(t, 99.0, signal.StopLoss, 1e-9)
	assert.InDelta(t, 107.0, signal.TakeProfit, 1e-9)
	assert.Equal(t, 100.0, signal.SizeUSD)
	assert.NotEmpty(t, signal.Reasoning)
}

func TestNoSignalWithoutVolumeConfirmation(t *testing.T) {
	s := NewBreakout(strategyConfig(), zap.NewNop().Sugar())
	assert.Nil(t, s.Evaluate(view(101, 100, 1500, 1000)))
}

func TestExactlyAtResistanceDoesNotTrigger(t *testing.T) {
	s := NewBreakout(strategyConfig(), zap.NewNop().Sugar())
	assert.Nil(t, s.Evaluate(view(100, 100, 5000, 1000)))
}

func TestZeroAverageVolumeSuppressesEntry(t *testing.T) {
	s := NewBreakout(strategyConfig(), zap.NewNop().Sugar())
	assert.Nil(t, s.Evaluate(view(101, 100, 5000, 0)))
}

func TestNotReadyViewSuppressesEntry(t *testing.T) {
	s := NewBreakout(strategyConfig(), zap.NewNop().Sugar())
	assert.Nil(t, s.Evaluate(view(101, math.Inf(1), 5000, 0)))
}

func TestVolumeExactlyAtFactorTriggers(t *testing.T) {
	s := NewBreakout(strategyConfig(), zap.NewNop().Sugar())
	assert.NotNil(t, s.Evaluate(view(101, 100, 2500, 1000)),
		"volume >= factor * average is inclusive")
}

func TestSignalSuppressedWhenPriceAtOrBelowStop(t *testing.T) {
	cfg := strategyConfig()
	// An extreme offset can push the stop above the breakout price; the
	// signal must be suppressed rather than emitted inverted.
	cfg.StopOffsetPct = -0.02
	s := NewBreakout(cfg, zap.NewNop().Sugar())

	assert.Nil(t, s.Evaluate(view(101, 100, 5000, 1000)))
}

// For any emitted signal: stop < entry < target and the target respects the
// configured risk-reward ratio.
func TestSignalInvariants(t *testing.T) {
	cfg := strategyConfig()
	s := NewBreakout(cfg, zap.NewNop().Sugar())

	cases := []struct{ price, resistance, vol, avg float64 }{
		{101, 100, 2600, 1000},
		{2105.5, 2100, 9000, 3000},
		{0.5012, 0.5, 120, 40},
		{35000, 34900, 2.6e6, 1e6},
	}
	for _, tc := range cases {
		signal := s.Evaluate(view(tc.price, tc.resistance, tc.vol, tc.avg))
		require.NotNil(t, signal, "price %.4f", tc.price)

		assert.Less(t, signal.StopLoss, signal.EntryPrice)
		assert.Greater(t, signal.TakeProfit, signal.EntryPrice)

		risk := signal.EntryPrice - signal.StopLoss
		reward := signal.TakeProfit - signal.EntryPrice
		assert.InDelta(t, cfg.RiskRewardRatio, reward/risk, 1e-9)
	}
}
