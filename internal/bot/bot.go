package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dydx-breakout-bot-go/internal/models"
	"dydx-breakout-bot-go/internal/order"
	"dydx-breakout-bot-go/internal/persistence"
	"dydx-breakout-bot-go/internal/position"
	"dydx-breakout-bot-go/internal/risk"
	"dydx-breakout-bot-go/internal/strategy"
	"dydx-breakout-bot-go/internal/tradestore"
	"dydx-breakout-bot-go/internal/venue"

	"go.uber.org/zap"
)

// State 表示机器人整体状态机的状态
type State string

const (
	StateInitialising  State = "Initialising"
	StateRunning       State = "Running"
	StateReconnecting  State = "Reconnecting"
	StateCircuitBroken State = "CircuitBroken"
	StateStopping      State = "Stopping"
	StateStopped       State = "Stopped"
)

// ErrCircuitBrokenAtStart 表示回放当日交易后熔断器已触发，启动被拒绝
var ErrCircuitBrokenAtStart = errors.New("启动时熔断器已触发：当日已实现亏损超过限制")

// MarketSource is the slice of MarketData the bot depends on.
// It exists to break the dependency on the concrete service in tests.
type MarketSource interface {
	Start(ctx context.Context) error
	CurrentMarketView() models.MarketView
	StreamConnected() bool
}

// Bot 是突破交易机器人的核心结构，负责在每个tick上编排
// 行情、策略、风险、订单与持久化各组件。
type Bot struct {
	cfg       *models.Config
	client    venue.Client
	clock     venue.Clock
	market    MarketSource
	strat     *strategy.Breakout
	riskMgr   *risk.Manager
	positions *position.Manager
	orders    *order.Manager
	trades    *tradestore.Store
	repo      persistence.StateRepository
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	isRunning bool

	cancel context.CancelFunc
	doneCh chan struct{}
}

// New 创建交易机器人实例
func New(cfg *models.Config, client venue.Client, clock venue.Clock,
	market MarketSource, strat *strategy.Breakout, riskMgr *risk.Manager,
	positions *position.Manager, orders *order.Manager, trades *tradestore.Store,
	repo persistence.StateRepository, logger *zap.SugaredLogger) *Bot {
	return &Bot{
		cfg:       cfg,
		client:    client,
		clock:     clock,
		market:    market,
		strat:     strat,
		riskMgr:   riskMgr,
		positions: positions,
		orders:    orders,
		trades:    trades,
		repo:      repo,
		logger:    logger,
		state:     StateInitialising,
		doneCh:    make(chan struct{}),
	}
}

// Start 启动机器人：回放当日交易、恢复持仓、连接行情并启动tick循环。
// 返回 ErrCircuitBrokenAtStart 时调用方应以退出码3退出；
// 行情初始化失败对应退出码2。
func (b *Bot) Start() error {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return fmt.Errorf("机器人已在运行")
	}
	b.isRunning = true
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	// 1. 回放当日已平仓交易，重建日内盈亏
	b.riskMgr.Rehydrate(b.trades.LoadAll())
	if b.riskMgr.Tripped() {
		return ErrCircuitBrokenAtStart
	}

	// 2. 恢复上次停机时保留的持仓
	if b.repo != nil {
		if err := b.restorePosition(); err != nil {
			b.logger.Warnf("恢复持仓失败，将以无持仓状态启动: %v", err)
		}
	}

	// 3. 连接行情（首次快照 + 成交流）
	if err := b.market.Start(ctx); err != nil {
		return fmt.Errorf("行情初始化失败: %w", err)
	}

	b.setState(StateRunning)
	go b.tickLoop(ctx)

	b.logger.Infof("突破交易机器人已启动: %s %s, tick周期 %ds, 模拟模式=%v",
		b.cfg.Instrument, b.cfg.Timeframe, b.cfg.UpdateIntervalS, b.cfg.SimulationMode)
	return nil
}

// restorePosition 从状态库恢复停机前保留的持仓
func (b *Bot) restorePosition() error {
	state, err := b.repo.LoadState()
	if err != nil {
		return err
	}
	if state == nil || state.OpenPosition == nil {
		return nil
	}
	if state.Instrument != b.cfg.Instrument {
		b.logger.Warnf("持久化状态的市场 %s 与配置 %s 不一致，忽略", state.Instrument, b.cfg.Instrument)
		return nil
	}
	if err := b.positions.Open(*state.OpenPosition); err != nil {
		return err
	}
	b.logger.Infof("从状态库恢复持仓: %.5f %s @ %.4f",
		state.OpenPosition.SizeBase, state.OpenPosition.Instrument, state.OpenPosition.EntryPrice)
	return nil
}

// tickLoop 是机器人的主循环，按固定周期执行tick
func (b *Bot) tickLoop(ctx context.Context) {
	defer close(b.doneCh)

	ticker := time.NewTicker(time.Duration(b.cfg.UpdateIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Tick 执行一次完整的控制循环：
// 先检查退出条件，无持仓时才评估入场信号——止损触发和新入场绝不发生在同一个tick。
// 任何错误都在这里被吸收，不会逃出主循环。
func (b *Bot) Tick(ctx context.Context) {
	view := b.market.CurrentMarketView()

	// 模拟账户需要最新标记价格来合成成交
	if sim, ok := b.client.(*venue.Sim); ok {
		sim.SetMarkPrice(view.LatestPrice)
	}

	if pos := b.positions.Current(); pos != nil {
		if reason, hit := b.positions.CheckExit(view.LatestPrice); hit {
			if _, err := b.orders.Close(ctx, view.LatestPrice, reason); err != nil {
				b.logger.Errorf("平仓失败，下一个tick重试: %v", err)
			}
		}
		b.refreshState()
		return
	}

	if !view.Ready() {
		b.logger.Debugf("历史数据不足，跳过策略评估")
		b.refreshState()
		return
	}

	signal := b.strat.Evaluate(view)
	if signal == nil {
		b.refreshState()
		return
	}

	_, rejection, err := b.orders.OpenLong(ctx, signal)
	switch {
	case rejection != nil:
		b.logger.Infof("入场被拒绝 [%s]: %s", rejection.Reason, rejection.Detail)
	case err != nil:
		// 实盘下单失败不立即重试，等待下一个信号tick
		b.logger.Errorf("下单失败: %v", err)
	}
	b.refreshState()
}

// refreshState 根据行情连接与熔断器状态推进状态机
func (b *Bot) refreshState() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateStopping || b.state == StateStopped {
		return
	}
	switch {
	case b.riskMgr.Tripped():
		if b.state != StateCircuitBroken {
			b.logger.Warnf("熔断器触发，停止接受新入场；现有持仓继续被管理")
		}
		b.state = StateCircuitBroken
	case !b.market.StreamConnected():
		b.state = StateReconnecting
	default:
		b.state = StateRunning
	}
}

func (b *Bot) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// CurrentState 返回状态机当前状态
func (b *Bot) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stop 优雅停机：停止tick循环，按配置平掉或保留持仓。
// 交易日志在每次追加时已落盘；Stop 不关闭也不刷新交易日志文件。
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = false
	b.state = StateStopping
	b.mu.Unlock()

	b.cancel()
	<-b.doneCh

	if pos := b.positions.Current(); pos != nil {
		if b.cfg.KeepPositionOnExit {
			b.persistPosition(pos)
		} else {
			b.closeOnShutdown()
		}
	} else if b.repo != nil {
		// 无持仓时清空状态库中的历史持仓
		if err := b.repo.SaveState(&models.BotState{
			Instrument:     b.cfg.Instrument,
			Version:        1,
			LastUpdateTime: b.clock.Now(),
		}); err != nil {
			b.logger.Warnf("清理状态库失败: %v", err)
		}
	}

	b.setState(StateStopped)
	b.logger.Info("突破交易机器人已停止。")
}

// persistPosition 把未平仓位写入状态库，供下次启动恢复
func (b *Bot) persistPosition(pos *models.Position) {
	if b.repo == nil {
		b.logger.Warn("未配置状态库，无法保留持仓")
		return
	}
	state := &models.BotState{
		Instrument:     b.cfg.Instrument,
		Version:        1,
		OpenPosition:   pos,
		LastUpdateTime: b.clock.Now(),
	}
	if err := b.repo.SaveState(state); err != nil {
		b.logger.Errorf("保存持仓状态失败: %v", err)
		return
	}
	b.logger.Infof("持仓已保留，下次启动时恢复: %.5f %s @ %.4f", pos.SizeBase, pos.Instrument, pos.EntryPrice)
}

// closeOnShutdown 在宽限期内以当前价格平仓，原因标记为Shutdown
func (b *Bot) closeOnShutdown() {
	graceCtx, cancel := context.WithTimeout(context.Background(), time.Duration(b.cfg.ShutdownGraceS)*time.Second)
	defer cancel()

	view := b.market.CurrentMarketView()
	if sim, ok := b.client.(*venue.Sim); ok {
		sim.SetMarkPrice(view.LatestPrice)
	}
	if _, err := b.orders.Close(graceCtx, view.LatestPrice, models.ExitShutdown); err != nil {
		b.logger.Errorf("停机平仓失败: %v", err)
	}
}
