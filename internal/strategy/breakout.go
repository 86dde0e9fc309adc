package strategy

import (
	"fmt"

	"dydx-breakout-bot-go/internal/models"

	"go.uber.org/zap"
)

// Breakout 实现带成交量确认的阻力位突破策略。
// 阻力位基于已收盘K线计算，使突破成为一次明确的穿越事件；
// 成交量使用正在形成的K线，因为那是确认信号最早可知的时刻。
type Breakout struct {
	cfg    *models.Config
	logger *zap.SugaredLogger
}

// NewBreakout 创建突破策略实例
func NewBreakout(cfg *models.Config, logger *zap.SugaredLogger) *Breakout {
	return &Breakout{cfg: cfg, logger: logger}
}

// Evaluate 根据行情快照判断是否产生做多入场信号，未触发时返回nil。
// 触发条件：价格严格高于阻力位，且当前K线成交量不低于均量的volume_factor倍，且均量为正。
func (s *Breakout) Evaluate(view models.MarketView) *models.EntrySignal {
	if !view.Ready() {
		return nil
	}

	p := view.LatestPrice
	res := view.ResistanceLevel
	vol := view.CurrentVolume
	avg := view.AverageVolume

	if avg <= 0 {
		return nil
	}
	if p <= res {
		// 恰好触及阻力位不构成突破
		return nil
	}
	if vol < s.cfg.VolumeFactor*avg {
		return nil
	}

	stopLoss := res * (1 - s.cfg.StopOffsetPct)
	if p <= stopLoss {
		// 极端偏移下价格可能已低于止损，抑制信号
		return nil
	}
	takeProfit := p + s.cfg.RiskRewardRatio*(p-stopLoss)

	s.logger.Infof("检测到突破: 价格 %.4f > 阻力位 %.4f, 成交量 %.2f >= %.2fx均量 %.2f",
		p, res, vol, s.cfg.VolumeFactor, avg)

	return &models.EntrySignal{
		EntryPrice: p,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		SizeUSD:    s.cfg.PositionSizeUSD,
		Reasoning: fmt.Sprintf("breakout above %.4f with %.2fx volume (%.2f / %.2f)",
			res, vol/avg, vol, avg),
	}
}
