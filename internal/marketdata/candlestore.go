package marketdata

import (
	"errors"
	"fmt"
	"time"

	"dydx-breakout-bot-go/internal/models"
)

// ErrBadSnapshot 表示快照校验失败（时间粒度不一致或时间戳非严格递增）
var ErrBadSnapshot = errors.New("无效的K线快照")

// ErrOutOfOrder 表示成交时间戳早于当前未收盘K线
var ErrOutOfOrder = errors.New("成交时间戳乱序")

// CandleStore 是单一(市场, 时间粒度)的有界K线环形缓冲。
// 已收盘K线按start_time升序排列且不可变；最后可能存在一根未收盘K线，
// 其high/low/close/volume随成交更新，直到下一个时间边界被封闭。
type CandleStore struct {
	instrument string
	timeframe  models.Timeframe
	maxCandles int

	closed []models.Candle
	open   *models.Candle
}

// NewCandleStore 创建一个容量为maxCandles的K线缓冲
func NewCandleStore(instrument string, tf models.Timeframe, maxCandles int) *CandleStore {
	return &CandleStore{
		instrument: instrument,
		timeframe:  tf,
		maxCandles: maxCandles,
		closed:     make([]models.Candle, 0, maxCandles),
	}
}

// LoadSnapshot 原子地用一份REST快照替换全部内容。
// 快照中最新的一根被视为未收盘K线，其余视为已收盘。
// 时间粒度不一致或时间戳非严格递增的快照会被整体拒绝。
func (s *CandleStore) LoadSnapshot(candles []models.Candle) error {
	for i, c := range candles {
		if c.Timeframe != s.timeframe {
			return fmt.Errorf("%w: 第%d根K线粒度为 %s, 期望 %s", ErrBadSnapshot, i, c.Timeframe, s.timeframe)
		}
		if i > 0 && !candles[i-1].StartTime.Before(c.StartTime) {
			return fmt.Errorf("%w: 时间戳非严格递增 (%s >= %s)", ErrBadSnapshot,
				candles[i-1].StartTime.Format(time.RFC3339), c.StartTime.Format(time.RFC3339))
		}
	}

	if len(candles) == 0 {
		s.closed = s.closed[:0]
		s.open = nil
		return nil
	}

	closed := candles[:len(candles)-1]
	if len(closed) > s.maxCandles {
		closed = closed[len(closed)-s.maxCandles:]
	}
	s.closed = append(s.closed[:0], closed...)
	last := candles[len(candles)-1]
	s.open = &last
	return nil
}

// ApplyTrade 把一笔成交并入当前未收盘K线：扩展high/low、更新close、累加volume。
// 成交落在未收盘K线之后时，先封闭旧K线再开启新的一根。
func (s *CandleStore) ApplyTrade(price, size float64, at time.Time) error {
	dur := s.timeframe.Duration()

	if s.open == nil {
		s.open = s.newOpenCandle(price, size, at)
		return nil
	}

	if at.Before(s.open.StartTime) {
		return fmt.Errorf("%w: %s 早于 %s", ErrOutOfOrder,
			at.Format(time.RFC3339), s.open.StartTime.Format(time.RFC3339))
	}

	if at.Sub(s.open.StartTime) >= dur {
		s.seal()
		s.open = s.newOpenCandle(price, size, at)
		return nil
	}

	if price > s.open.High {
		s.open.High = price
	}
	if price < s.open.Low {
		s.open.Low = price
	}
	s.open.Close = price
	s.open.Volume += size
	return nil
}

// seal 把未收盘K线转入已收盘序列，超出容量时淘汰最旧的一根
func (s *CandleStore) seal() {
	s.closed = append(s.closed, *s.open)
	if len(s.closed) > s.maxCandles {
		s.closed = s.closed[1:]
	}
	s.open = nil
}

// newOpenCandle 以对齐到粒度网格的开盘时间创建新的未收盘K线
func (s *CandleStore) newOpenCandle(price, size float64, at time.Time) *models.Candle {
	return &models.Candle{
		StartTime: at.Truncate(s.timeframe.Duration()),
		Timeframe: s.timeframe,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    size,
	}
}

// Tail 返回最近k根已收盘K线（不含未收盘K线）；不足k根时返回全部
func (s *CandleStore) Tail(k int) []models.Candle {
	if k > len(s.closed) {
		k = len(s.closed)
	}
	out := make([]models.Candle, k)
	copy(out, s.closed[len(s.closed)-k:])
	return out
}

// ClosedCount 返回已收盘K线数量
func (s *CandleStore) ClosedCount() int {
	return len(s.closed)
}

// OpenVolume 返回当前未收盘K线的成交量
func (s *CandleStore) OpenVolume() float64 {
	if s.open == nil {
		return 0
	}
	return s.open.Volume
}

// LastClose 返回最新的收盘价（优先未收盘K线的close）
func (s *CandleStore) LastClose() float64 {
	if s.open != nil {
		return s.open.Close
	}
	if len(s.closed) > 0 {
		return s.closed[len(s.closed)-1].Close
	}
	return 0
}
