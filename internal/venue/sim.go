package venue

import (
	"context"
	"fmt"
	"sync"

	"dydx-breakout-bot-go/internal/models"
)

// Sim 实现了 Client 接口，用于模拟账户与成交。
// 行情查询与成交流透传给内部的真实客户端（公开接口，无需凭证），
// 账户与订单完全在内存中模拟，使风险闸门在模拟模式下表现得和实盘一致。
type Sim struct {
	inner Client // 行情来源；测试中可为nil

	mu           sync.Mutex
	equity       float64
	openNotional float64
	maxLeverage  float64
	markPrice    float64
}

// NewSim 创建一个模拟交易所。initialEquity来自配置，而不是凭空捏造的账户快照。
func NewSim(inner Client, initialEquity, maxLeverage float64) *Sim {
	return &Sim{
		inner:       inner,
		equity:      initialEquity,
		maxLeverage: maxLeverage,
	}
}

// SimAccountant 是模拟账户在合成成交时使用的记账接口。
// OrderManager 在模拟模式下通过它通知账户状态变化。
type SimAccountant interface {
	// RecordOpen 记录一笔开仓占用的名义价值
	RecordOpen(notionalUSD float64)
	// RecordClose 记录一笔平仓：释放名义价值并计入已实现盈亏
	RecordClose(notionalUSD, pnlUSD float64)
}

// RecordOpen 实现 SimAccountant
func (s *Sim) RecordOpen(notionalUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openNotional += notionalUSD
}

// RecordClose 实现 SimAccountant
func (s *Sim) RecordClose(notionalUSD, pnlUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openNotional -= notionalUSD
	if s.openNotional < 0 {
		s.openNotional = 0
	}
	s.equity += pnlUSD
}

// SetMarkPrice 更新用于合成成交的标记价格
func (s *Sim) SetMarkPrice(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markPrice = price
}

// --- Client 接口实现 ---

func (s *Sim) GetCandles(ctx context.Context, instrument string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	if s.inner == nil {
		return nil, fmt.Errorf("模拟交易所未配置行情来源")
	}
	return s.inner.GetCandles(ctx, instrument, tf, limit)
}

func (s *Sim) StreamTrades(ctx context.Context, instrument string, out chan<- models.VenueTrade) error {
	if s.inner == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.inner.StreamTrades(ctx, instrument, out)
}

// GetAccount 返回模拟账户快照。
// 已实现盈亏计入权益；可用保证金按最大杠杆扣除持仓占用。
func (s *Sim) GetAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	free := s.equity
	if s.maxLeverage > 0 {
		free = s.equity - s.openNotional/s.maxLeverage
	}
	if free < 0 {
		free = 0
	}
	return &models.AccountSnapshot{EquityUSD: s.equity, FreeCollateralUSD: free}, nil
}

// PlaceMarketOrder 以当前标记价格合成一笔成交。
func (s *Sim) PlaceMarketOrder(ctx context.Context, instrument, side string, sizeBase float64, clientID string) (*models.OrderFill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markPrice <= 0 {
		return nil, fmt.Errorf("模拟成交需要先设置标记价格")
	}
	return &models.OrderFill{FilledPrice: s.markPrice, FilledSize: sizeBase}, nil
}

func (s *Sim) CancelOrder(ctx context.Context, instrument, clientID string) error {
	return nil
}
