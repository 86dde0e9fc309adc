package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"dydx-breakout-bot-go/internal/models"
	"dydx-breakout-bot-go/internal/venue"

	"go.uber.org/zap"
)

// Denial 入场被拒绝的类型化原因
type Denial string

const (
	DenyNone            Denial = ""
	DenyPositionTooBig  Denial = "PositionTooBig"
	DenyInsufficientCol Denial = "InsufficientCollateral"
	DenyCircuitBroken   Denial = "CircuitBroken"
	DenyAccountUnknown  Denial = "AccountUnavailable"
)

// Manager 实现交易前风险闸门与基于日内盈亏/回撤的熔断器。
// 日内盈亏按UTC日边界重置；回撤计算使用账户权益快照，
// 刻意排除未实现盈亏以避免抖动。
type Manager struct {
	cfg    *models.Config
	client venue.Client
	clock  venue.Clock
	logger *zap.SugaredLogger

	mu      sync.Mutex
	state   models.RiskState
	tripped bool
}

// NewManager 创建风险管理器
func NewManager(cfg *models.Config, client venue.Client, clock venue.Clock, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		cfg:    cfg,
		client: client,
		clock:  clock,
		logger: logger,
		state:  models.RiskState{LastResetDay: clock.TodayUTC()},
	}
}

// AllowEntry 对一次候选入场执行全部检查，全部通过才放行。
// 每项失败返回各自的原因。
func (m *Manager) AllowEntry(ctx context.Context, signal *models.EntrySignal) (bool, Denial, string) {
	if signal.SizeUSD > m.cfg.MaxPositionSizeUSD {
		return false, DenyPositionTooBig,
			fmt.Sprintf("仓位 %.2f USD 超过上限 %.2f USD", signal.SizeUSD, m.cfg.MaxPositionSizeUSD)
	}

	account, err := m.client.GetAccount(ctx)
	if err != nil {
		// 账户状态未知时为安全起见拒绝入场
		return false, DenyAccountUnknown, fmt.Sprintf("无法获取账户状态: %v", err)
	}

	required := signal.SizeUSD / m.cfg.MaxLeverage
	if account.FreeCollateralUSD < required {
		return false, DenyInsufficientCol,
			fmt.Sprintf("可用保证金不足: 需要 %.2f USD, 实际 %.2f USD", required, account.FreeCollateralUSD)
	}

	if m.checkCircuitBreaker(account) {
		return false, DenyCircuitBroken, "熔断器已触发，今日不再接受新入场"
	}

	return true, DenyNone, ""
}

// checkCircuitBreaker 评估熔断条件并更新触发状态。
// 日边界会重置日内盈亏；若回撤已恢复则解除熔断。
func (m *Manager) checkCircuitBreaker(account *models.AccountSnapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeResetDayLocked()

	if m.state.InitialEquity == 0 && account.EquityUSD > 0 {
		m.state.InitialEquity = account.EquityUSD
	}

	if math.Abs(m.state.DailyPnl) >= m.cfg.MaxDailyLossUSD {
		m.tripped = true
		return true
	}

	if m.state.InitialEquity > 0 {
		drawdownPct := (m.state.InitialEquity - account.EquityUSD) / m.state.InitialEquity * 100
		if drawdownPct > m.cfg.MaxDrawdownPct {
			m.tripped = true
			return true
		}
	}

	if m.tripped {
		// 同一交易日内熔断保持触发
		return true
	}
	return false
}

// maybeResetDayLocked 在UTC日边界重置日内盈亏并解除熔断（回撤条件由下次检查重新评估）
func (m *Manager) maybeResetDayLocked() {
	today := m.clock.TodayUTC()
	if today.After(m.state.LastResetDay) {
		m.logger.Infof("UTC日切换 %s -> %s, 重置日内盈亏 (之前: %.2f USD)",
			m.state.LastResetDay.Format("2006-01-02"), today.Format("2006-01-02"), m.state.DailyPnl)
		m.state.DailyPnl = 0
		m.state.LastResetDay = today
		m.tripped = false
	}
}

// UpdateDailyPnl 在每笔平仓后累加已实现盈亏
func (m *Manager) UpdateDailyPnl(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResetDayLocked()
	m.state.DailyPnl += delta
	if math.Abs(m.state.DailyPnl) >= m.cfg.MaxDailyLossUSD {
		m.tripped = true
	}
	m.logger.Infof("日内盈亏更新: %+.2f USD -> %.2f USD", delta, m.state.DailyPnl)
}

// Rehydrate replays already-closed trades (e.g. from the trade log on
// start-up) into the daily PnL. Trades outside the current UTC day are
// ignored.
func (m *Manager) Rehydrate(trades []models.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.clock.TodayUTC()
	for _, t := range trades {
		if t.ClosedAt.UTC().Truncate(24 * time.Hour).Equal(today) {
			m.state.DailyPnl += t.PnlUSD
		}
	}
	if math.Abs(m.state.DailyPnl) >= m.cfg.MaxDailyLossUSD {
		m.tripped = true
	}
	m.logger.Infof("回放当日交易完成: 日内盈亏 %.2f USD, 熔断=%v", m.state.DailyPnl, m.tripped)
}

// Tripped 报告熔断器当前是否处于触发状态
func (m *Manager) Tripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped
}

// DailyPnl 返回当前日内已实现盈亏
func (m *Manager) DailyPnl() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DailyPnl
}

// Summary 汇总当前风险指标，供status命令使用
type Summary struct {
	DailyPnl        float64
	InitialEquity   float64
	MaxDailyLossUSD float64
	MaxDrawdownPct  float64
	CircuitBroken   bool
}

// GetSummary 返回风险状态摘要
func (m *Manager) GetSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Summary{
		DailyPnl:        m.state.DailyPnl,
		InitialEquity:   m.state.InitialEquity,
		MaxDailyLossUSD: m.cfg.MaxDailyLossUSD,
		MaxDrawdownPct:  m.cfg.MaxDrawdownPct,
		CircuitBroken:   m.tripped,
	}
}
