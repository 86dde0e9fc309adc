package position

import (
	"errors"
	"sync"
	"time"

	"dydx-breakout-bot-go/internal/models"
)

// ErrPositionExists 表示已有持仓时重复开仓
var ErrPositionExists = errors.New("已存在未平仓仓位")

// ErrNoPosition 表示无持仓时执行平仓
var ErrNoPosition = errors.New("当前无持仓")

// Manager 持有至多一个多头仓位。
// 开仓与平仓之间仓位不会被修改；所有访问经由本管理器的互斥锁串行化。
type Manager struct {
	mu  sync.Mutex
	pos *models.Position
}

// NewManager 创建仓位管理器
func NewManager() *Manager {
	return &Manager{}
}

// Open 记录一个新仓位。前置条件：当前无持仓。
func (m *Manager) Open(pos models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos != nil {
		return ErrPositionExists
	}
	p := pos
	m.pos = &p
	return nil
}

// Current 返回当前仓位的副本；无持仓时返回nil
func (m *Manager) Current() *models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return nil
	}
	p := *m.pos
	return &p
}

// CheckExit 判断给定价格是否触发退出。
// 价格恰好触及止损价计为止损退出；止损优先于止盈检查。
func (m *Manager) CheckExit(price float64) (models.ExitReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return "", false
	}
	if price <= m.pos.StopLoss {
		return models.ExitStopLoss, true
	}
	if price >= m.pos.TakeProfit {
		return models.ExitTakeProfit, true
	}
	return "", false
}

// Close 以给定价格平仓并返回交易记录。前置条件：存在持仓。
// pnl_usd = (exit_price - entry_price) * size_base。
func (m *Manager) Close(price float64, reason models.ExitReason, at time.Time) (models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return models.Trade{}, ErrNoPosition
	}

	pos := *m.pos
	trade := models.Trade{
		Instrument: pos.Instrument,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		SizeBase:   pos.SizeBase,
		SizeUSD:    pos.SizeUSD,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		OpenedAt:   pos.OpenedAt,
		ExitPrice:  price,
		ClosedAt:   at,
		ExitReason: reason,
		PnlUSD:     (price - pos.EntryPrice) * pos.SizeBase,
	}
	m.pos = nil
	return trade, nil
}
