package marketdata

import (
	"context"
	"math"
	"sync"
	"time"

	"dydx-breakout-bot-go/internal/models"
	"dydx-breakout-bot-go/internal/venue"

	"go.uber.org/zap"
)

const (
	reconnectInitialDelay = 1 * time.Second
	reconnectMaxDelay     = 30 * time.Second
	tradeBuffer           = 256
)

// MarketData 负责维护K线缓冲与最新成交价，并按需发布MarketView快照。
// 两条更新路径：启动时与周期性的REST快照兜底，以及长连接的成交流。
type MarketData struct {
	cfg    *models.Config
	client venue.Client
	clock  venue.Clock
	logger *zap.SugaredLogger

	mu              sync.Mutex
	store           *CandleStore
	latestPrice     float64
	awaitingResnap  bool // 断线后、快照完成前丢弃成交
	streamConnected bool

	tradeCh chan models.VenueTrade
}

// New 创建行情服务
func New(cfg *models.Config, client venue.Client, clock venue.Clock, logger *zap.SugaredLogger) *MarketData {
	return &MarketData{
		cfg:     cfg,
		client:  client,
		clock:   clock,
		logger:  logger,
		store:   NewCandleStore(cfg.Instrument, cfg.Timeframe, cfg.CandleLimit),
		tradeCh: make(chan models.VenueTrade, tradeBuffer),
	}
}

// Start 执行首次快照并启动成交流与快照兜底循环。
// 首次快照失败被视为连接初始化失败，由调用方决定退出码。
func (m *MarketData) Start(ctx context.Context) error {
	if err := m.Snapshot(ctx); err != nil {
		return err
	}

	go m.consumeLoop(ctx)
	go m.streamLoop(ctx)
	go m.snapshotLoop(ctx)
	return nil
}

// Snapshot 通过REST拉取最近的K线并原子替换缓冲
func (m *MarketData) Snapshot(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.QueryTimeoutS)*time.Second)
	defer cancel()

	candles, err := m.client.GetCandles(queryCtx, m.cfg.Instrument, m.cfg.Timeframe, m.cfg.CandleLimit)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.LoadSnapshot(candles); err != nil {
		return err
	}
	if last := m.store.LastClose(); m.latestPrice == 0 && last > 0 {
		m.latestPrice = last
	}
	m.awaitingResnap = false
	return nil
}

// streamLoop 是守护循环，负责维持成交流订阅并在断线后指数退避重连。
// 断线后先按退避时间等待，再重新快照弥补断线期间的缺口，然后才重新订阅；
// 快照完成到重新订阅之间的成交不在快照内。
func (m *MarketData) streamLoop(ctx context.Context) {
	delay := reconnectInitialDelay
	for {
		if ctx.Err() != nil {
			return
		}

		m.setStreamConnected(true)
		err := m.client.StreamTrades(ctx, m.cfg.Instrument, m.tradeCh)
		m.setStreamConnected(false)
		if ctx.Err() != nil {
			return
		}
		m.logger.Warnf("成交流断开: %v。%s后重连...", err, delay)

		m.mu.Lock()
		m.awaitingResnap = true
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}

		if err := m.Snapshot(ctx); err != nil {
			m.logger.Warnf("重连后快照失败: %v", err)
			continue
		}
		delay = reconnectInitialDelay
	}
}

// consumeLoop 按接收顺序把成交应用到K线缓冲
func (m *MarketData) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-m.tradeCh:
			m.applyTrade(trade)
		}
	}
}

func (m *MarketData) applyTrade(trade models.VenueTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.awaitingResnap {
		// 断线后到快照完成前的成交不可信，丢弃
		return
	}

	m.latestPrice = trade.Price
	if err := m.store.ApplyTrade(trade.Price, trade.Size, trade.At); err != nil {
		m.logger.Debugf("丢弃乱序成交: %v", err)
	}
}

// snapshotLoop 周期性重新快照，作为成交流的兜底
func (m *MarketData) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(m.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Snapshot(ctx); err != nil {
				m.logger.Warnf("周期快照失败: %v", err)
			}
		}
	}
}

// CurrentMarketView 返回当前行情快照的副本，调用方不持有任何锁。
// 历史不足时 resistance 为 +Inf、average_volume 为 0，策略据此判定"未就绪"。
func (m *MarketData) CurrentMarketView() models.MarketView {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := models.MarketView{
		Instrument:    m.cfg.Instrument,
		LatestPrice:   m.latestPrice,
		CurrentVolume: m.store.OpenVolume(),
		At:            m.clock.Now(),
	}

	if m.store.ClosedCount() >= m.cfg.ResistancePeriods {
		resistance := 0.0
		for _, c := range m.store.Tail(m.cfg.ResistancePeriods) {
			if c.High > resistance {
				resistance = c.High
			}
		}
		view.ResistanceLevel = resistance
	} else {
		view.ResistanceLevel = math.Inf(1)
	}

	if m.store.ClosedCount() >= m.cfg.VolumeLookback {
		sum := 0.0
		tail := m.store.Tail(m.cfg.VolumeLookback)
		for _, c := range tail {
			sum += c.Volume
		}
		view.AverageVolume = sum / float64(len(tail))
	}

	return view
}

// StreamConnected 报告成交流当前是否在线（用于Bot状态机的Reconnecting态）
func (m *MarketData) StreamConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamConnected
}

func (m *MarketData) setStreamConnected(connected bool) {
	m.mu.Lock()
	m.streamConnected = connected
	m.mu.Unlock()
}
