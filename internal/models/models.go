package models

import (
	"fmt"
	"math"
	"time"
)

// Timeframe 表示K线的时间粒度
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// Duration 返回该时间粒度对应的时长
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Valid 检查时间粒度是否属于支持的集合
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Candle 表示一根K线（OHLCV）
type Candle struct {
	StartTime time.Time `json:"start_time"` // K线开盘时间，必须对齐到timeframe网格
	Timeframe Timeframe `json:"timeframe"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"` // 基础货币计的成交量
}

// VenueTrade 表示来自交易所成交流的一笔成交
type VenueTrade struct {
	Price float64
	Size  float64
	At    time.Time
}

// MarketView 是行情服务对外发布的只读快照。
// resistance_level 取最近R根已收盘K线的最高价；average_volume 取最近V根已收盘K线的平均成交量。
type MarketView struct {
	Instrument      string
	LatestPrice     float64
	ResistanceLevel float64
	AverageVolume   float64
	CurrentVolume   float64 // 当前未收盘K线的成交量
	At              time.Time
}

// Ready 判断快照是否具备足够历史用于策略评估
func (v MarketView) Ready() bool {
	return !math.IsInf(v.ResistanceLevel, 1) && v.LatestPrice > 0
}

// EntrySignal 表示一次做多入场信号。策略未触发时返回nil。
type EntrySignal struct {
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	SizeUSD    float64
	Reasoning  string
}

// Side 定义了交易方向的类型
type Side string

const (
	Long Side = "LONG"
)

// ExitReason 表示平仓原因
type ExitReason string

const (
	ExitStopLoss    ExitReason = "StopLoss"
	ExitTakeProfit  ExitReason = "TakeProfit"
	ExitManualClose ExitReason = "ManualClose"
	ExitShutdown    ExitReason = "Shutdown"
)

// Position 表示一个已开仓的多头仓位。
// 不变式：stop_loss < entry_price < take_profit；size_base = size_usd / entry_price。
type Position struct {
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	SizeBase   float64   `json:"size_base"`
	SizeUSD    float64   `json:"size_usd"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Trade 记录一笔已平仓的交易，写入后不可变
type Trade struct {
	Instrument string     `json:"instrument"`
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	SizeBase   float64    `json:"size_base"`
	SizeUSD    float64    `json:"size_usd"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	OpenedAt   time.Time  `json:"opened_at"`
	ExitPrice  float64    `json:"exit_price"`
	ClosedAt   time.Time  `json:"closed_at"`
	ExitReason ExitReason `json:"exit_reason"`
	PnlUSD     float64    `json:"pnl_usd"`
}

// AccountSnapshot 表示账户权益快照，最多落后一个tick
type AccountSnapshot struct {
	EquityUSD         float64 `json:"equity_usd"`
	FreeCollateralUSD float64 `json:"free_collateral_usd"`
}

// OrderFill 表示一次成交回报
type OrderFill struct {
	FilledPrice float64
	FilledSize  float64
}

// PerformanceMetrics 汇总了交易日志的整体表现
type PerformanceMetrics struct {
	TotalTrades  int     `json:"total_trades"`
	TotalPnl     float64 `json:"total_pnl"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown"`
}

// Error 定义了交易所API返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
