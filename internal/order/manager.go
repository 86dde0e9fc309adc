package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"dydx-breakout-bot-go/internal/models"
	"dydx-breakout-bot-go/internal/position"
	"dydx-breakout-bot-go/internal/risk"
	"dydx-breakout-bot-go/internal/tradestore"
	"dydx-breakout-bot-go/internal/venue"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// ErrFillTimeout 表示等待成交超时。超时按失败处理，不会创建仓位。
var ErrFillTimeout = errors.New("等待成交超时")

// Rejection 表示入场被风险闸门拒绝
type Rejection struct {
	Reason risk.Denial
	Detail string
}

// Manager 负责下单与仓位生命周期。
// 两种模式：模拟（合成成交，不触达交易所）与实盘（市价单并等待成交确认）。
// 对调用方而言两种模式行为一致。
type Manager struct {
	cfg        *models.Config
	client     venue.Client
	clock      venue.Clock
	riskMgr    *risk.Manager
	positions  *position.Manager
	trades     *tradestore.Store
	logger     *zap.SugaredLogger
	simulation bool
}

// NewManager 创建订单管理器
func NewManager(cfg *models.Config, client venue.Client, clock venue.Clock,
	riskMgr *risk.Manager, positions *position.Manager, trades *tradestore.Store,
	logger *zap.SugaredLogger) *Manager {
	return &Manager{
		cfg:        cfg,
		client:     client,
		clock:      clock,
		riskMgr:    riskMgr,
		positions:  positions,
		trades:     trades,
		logger:     logger,
		simulation: cfg.SimulationMode,
	}
}

// newClientID 生成幂等的客户端订单ID。
// 重试复用同一ID，把去重责任交给交易所。
func newClientID() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}

// roundToLot 按交易所数量步长向下取整
func roundToLot(size, lot float64) float64 {
	if lot <= 0 {
		return size
	}
	return math.Floor(size/lot) * lot
}

// OpenLong 执行一次做多开仓。
// 返回 (仓位, nil, nil) 表示成功；(nil, 拒绝原因, nil) 表示被风险闸门拒绝；
// (nil, nil, err) 表示下单失败，循环可在下一个信号tick重试。
func (m *Manager) OpenLong(ctx context.Context, signal *models.EntrySignal) (*models.Position, *Rejection, error) {
	allowed, reason, detail := m.riskMgr.AllowEntry(ctx, signal)
	if !allowed {
		return nil, &Rejection{Reason: reason, Detail: detail}, nil
	}

	sizeBase := roundToLot(signal.SizeUSD/signal.EntryPrice, m.cfg.LotSize)
	if sizeBase <= 0 {
		return nil, nil, fmt.Errorf("按步长取整后数量为零 (size_usd=%.2f, price=%.4f)", signal.SizeUSD, signal.EntryPrice)
	}

	fill, err := m.fill(ctx, "BUY", sizeBase, signal.EntryPrice)
	if err != nil {
		return nil, nil, err
	}

	pos := models.Position{
		Instrument: m.cfg.Instrument,
		Side:       models.Long,
		EntryPrice: fill.FilledPrice,
		SizeBase:   fill.FilledSize,
		SizeUSD:    fill.FilledPrice * fill.FilledSize,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
		OpenedAt:   m.clock.Now(),
	}
	if err := m.positions.Open(pos); err != nil {
		return nil, nil, err
	}

	if acct, ok := m.client.(venue.SimAccountant); ok && m.simulation {
		acct.RecordOpen(pos.SizeUSD)
	}

	m.logger.Infof("开仓成功: %s %.5f @ %.4f (止损 %.4f, 止盈 %.4f)",
		pos.Instrument, pos.SizeBase, pos.EntryPrice, pos.StopLoss, pos.TakeProfit)
	return &pos, nil, nil
}

// Close 以触发价平掉当前仓位。
// 平仓、写交易日志、更新日内盈亏在这里作为一个逻辑步骤完成；
// 日志写入失败不改变仓位已平的事实（资金的最终事实在交易所侧）。
func (m *Manager) Close(ctx context.Context, price float64, reason models.ExitReason) (models.Trade, error) {
	pos := m.positions.Current()
	if pos == nil {
		return models.Trade{}, position.ErrNoPosition
	}

	fill, err := m.fill(ctx, "SELL", pos.SizeBase, price)
	if err != nil {
		return models.Trade{}, err
	}

	trade, err := m.positions.Close(fill.FilledPrice, reason, m.clock.Now())
	if err != nil {
		return models.Trade{}, err
	}

	if acct, ok := m.client.(venue.SimAccountant); ok && m.simulation {
		acct.RecordClose(trade.SizeUSD, trade.PnlUSD)
	}

	if err := m.trades.Append(trade); err != nil {
		m.logger.Errorf("写入交易日志失败（仓位仍视为已平）: %v", err)
	}
	m.riskMgr.UpdateDailyPnl(trade.PnlUSD)

	m.logger.Infof("平仓完成: %s @ %.4f, 原因=%s, 盈亏=%.2f USD",
		trade.Instrument, trade.ExitPrice, trade.ExitReason, trade.PnlUSD)
	return trade, nil
}

// fill 执行一次成交：模拟模式下以触发价合成，实盘提交市价单并等待确认。
// 实盘下单失败会用同一客户端ID重试一次；超时视为失败并尽力撤单。
func (m *Manager) fill(ctx context.Context, side string, sizeBase, price float64) (*models.OrderFill, error) {
	if m.simulation {
		m.logger.Infof("SIMULATION: %s %.5f %s @ %.4f", side, sizeBase, m.cfg.Instrument, price)
		return &models.OrderFill{FilledPrice: price, FilledSize: sizeBase}, nil
	}

	clientID := newClientID()
	orderCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.OrderTimeoutS)*time.Second)
	defer cancel()

	fill, err := m.client.PlaceMarketOrder(orderCtx, m.cfg.Instrument, side, sizeBase, clientID)
	if err != nil && orderCtx.Err() == nil {
		// 瞬时失败：复用同一ID重试，交易所侧负责去重
		m.logger.Warnf("下单失败，使用同一客户端ID %s 重试: %v", clientID, err)
		fill, err = m.client.PlaceMarketOrder(orderCtx, m.cfg.Instrument, side, sizeBase, clientID)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// 超时后尽力撤单，避免幽灵订单
			cancelCtx, cancelFn := context.WithTimeout(context.Background(), time.Duration(m.cfg.QueryTimeoutS)*time.Second)
			defer cancelFn()
			if cerr := m.client.CancelOrder(cancelCtx, m.cfg.Instrument, clientID); cerr != nil {
				m.logger.Warnf("撤单失败 (clientID=%s): %v", clientID, cerr)
			}
			return nil, ErrFillTimeout
		}
		return nil, fmt.Errorf("下单失败: %w", err)
	}
	return fill, nil
}
