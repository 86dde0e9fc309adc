package position

import (
	"testing"
	"time"

	"dydx-breakout-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPosition() models.Position {
	return models.Position{
		Instrument: "ETH-USD",
		Side:       models.Long,
		EntryPrice: 101,
		SizeBase:   100.0 / 101.0,
		SizeUSD:    100,
		StopLoss:   99,
		TakeProfit: 107,
		OpenedAt:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAtMostOnePosition(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Open(testPosition()))

	err := m.Open(testPosition())
	assert.ErrorIs(t, err, ErrPositionExists)
}

func TestCurrentReturnsCopy(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Open(testPosition()))

	p := m.Current()
	require.NotNil(t, p)
	p.StopLoss = 1 // mutating the copy must not touch the held position

	assert.Equal(t, 99.0, m.Current().StopLoss)
}

func TestCheckExitBoundaries(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Open(testPosition()))

	_, hit := m.CheckExit(100)
	assert.False(t, hit)

	reason, hit := m.CheckExit(99) // touching the stop exactly counts
	assert.True(t, hit)
	assert.Equal(t, models.ExitStopLoss, reason)

	reason, hit = m.CheckExit(107)
	assert.True(t, hit)
	assert.Equal(t, models.ExitTakeProfit, reason)
}

func TestCheckExitWithoutPosition(t *testing.T) {
	m := NewManager()
	_, hit := m.CheckExit(50)
	assert.False(t, hit)
}

func TestClosePnlFormula(t *testing.T) {
	m := NewManager()
	pos := testPosition()
	require.NoError(t, m.Open(pos))

	closedAt := pos.OpenedAt.Add(time.Hour)
	trade, err := m.Close(99, models.ExitStopLoss, closedAt)
	require.NoError(t, err)

	assert.InDelta(t, (99.0-101.0)*pos.SizeBase, trade.PnlUSD, 1e-9)
	assert.Equal(t, models.ExitStopLoss, trade.ExitReason)
	assert.Equal(t, closedAt, trade.ClosedAt)
	assert.Nil(t, m.Current(), "position is released after close")
}

func TestCloseWithoutPosition(t *testing.T) {
	m := NewManager()
	_, err := m.Close(100, models.ExitManualClose, time.Now())
	assert.ErrorIs(t, err, ErrNoPosition)
}
