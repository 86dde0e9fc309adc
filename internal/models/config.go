package models

import "fmt"

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet       bool   `json:"is_testnet"`       // 是否使用测试网
	DBPath          string `json:"db_path"`          // 状态数据库路径
	TradesPath      string `json:"trades_path"`      // 交易日志文件 (jsonl)
	PerformancePath string `json:"performance_path"` // 绩效快照文件
	IndexerRESTURL  string `json:"indexer_rest_url"` // dYdX indexer REST地址
	IndexerWSURL    string `json:"indexer_ws_url"`   // dYdX indexer WebSocket地址

	Instrument        string    `json:"instrument"`         // 交易市场，如 "ETH-USD"
	Timeframe         Timeframe `json:"timeframe"`          // K线粒度
	VolumeFactor      float64   `json:"volume_factor"`      // 突破确认的成交量倍数
	ResistancePeriods int       `json:"resistance_periods"` // 阻力位回看的已收盘K线数
	VolumeLookback    int       `json:"volume_lookback"`    // 平均成交量回看的已收盘K线数
	RiskRewardRatio   float64   `json:"risk_reward_ratio"`  // 盈亏比
	StopOffsetPct     float64   `json:"stop_offset_pct"`    // 止损位于阻力位下方的比例
	PositionSizeUSD   float64   `json:"position_size_usd"`  // 默认每笔名义仓位 (USD)

	MaxPositionSizeUSD float64 `json:"max_position_size_usd"` // 单笔仓位硬上限
	MaxDailyLossUSD    float64 `json:"max_daily_loss_usd"`    // 熔断：单日最大亏损
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`      // 熔断：最大回撤百分比
	MaxLeverage        float64 `json:"max_leverage"`          // 要求的可用保证金比例 (1/MaxLeverage)

	UpdateIntervalS   int  `json:"update_interval_s"`   // 控制循环周期（秒）
	SnapshotIntervalS int  `json:"snapshot_interval_s"` // REST快照兜底周期（秒）
	CandleLimit       int  `json:"candle_limit"`        // 快照拉取的K线数量
	SimulationMode    bool `json:"simulation_mode"`     // 模拟模式开关

	InitialEquityUSD float64 `json:"initial_equity_usd"` // 模拟模式的初始权益
	LotSize          float64 `json:"lot_size"`           // 下单数量步长（向下取整）

	OrderTimeoutS      int  `json:"order_timeout_s"`       // 下单等待成交超时（秒）
	QueryTimeoutS      int  `json:"query_timeout_s"`       // 查询类请求超时（秒）
	ShutdownGraceS     int  `json:"shutdown_grace_s"`      // 停机时等待在途订单的宽限期（秒）
	KeepPositionOnExit bool `json:"keep_position_on_exit"` // 停机时保留仓位而不是平仓

	LogConfig LogConfig `json:"log"` // 日志配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// DefaultConfig 返回带编译期默认值的配置
func DefaultConfig() *Config {
	return &Config{
		IsTestnet:          true,
		DBPath:             "bot_state.db",
		TradesPath:         "trades.jsonl",
		PerformancePath:    "performance.json",
		IndexerRESTURL:     "https://indexer.v4testnet.dydx.exchange",
		IndexerWSURL:       "wss://indexer.v4testnet.dydx.exchange/v4/ws",
		Instrument:         "ETH-USD",
		Timeframe:          Timeframe5m,
		VolumeFactor:       2.0,
		ResistancePeriods:  24,
		VolumeLookback:     20,
		RiskRewardRatio:    3.0,
		StopOffsetPct:      0.01,
		PositionSizeUSD:    100,
		MaxPositionSizeUSD: 1000,
		MaxDailyLossUSD:    500,
		MaxDrawdownPct:     10,
		MaxLeverage:        5,
		UpdateIntervalS:    30,
		SnapshotIntervalS:  60,
		CandleLimit:        100,
		SimulationMode:     true,
		InitialEquityUSD:   10000,
		LotSize:            0.001,
		OrderTimeoutS:      10,
		QueryTimeoutS:      5,
		ShutdownGraceS:     15,
		LogConfig:          LogConfig{Level: "info", Output: "console"},
	}
}

// Validate 校验配置的合法性，启动时失败是致命错误
func (c *Config) Validate() error {
	if c.Instrument == "" {
		return fmt.Errorf("instrument 不能为空")
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("不支持的 timeframe: %q", c.Timeframe)
	}
	if c.VolumeFactor <= 0 {
		return fmt.Errorf("volume_factor 必须为正数: %v", c.VolumeFactor)
	}
	if c.ResistancePeriods <= 0 || c.VolumeLookback <= 0 {
		return fmt.Errorf("resistance_periods 和 volume_lookback 必须为正数")
	}
	if c.RiskRewardRatio <= 0 {
		return fmt.Errorf("risk_reward_ratio 必须为正数: %v", c.RiskRewardRatio)
	}
	if c.StopOffsetPct <= 0 || c.StopOffsetPct >= 1 {
		return fmt.Errorf("stop_offset_pct 必须位于 (0, 1): %v", c.StopOffsetPct)
	}
	if c.PositionSizeUSD <= 0 {
		return fmt.Errorf("position_size_usd 必须为正数: %v", c.PositionSizeUSD)
	}
	if c.MaxPositionSizeUSD < c.PositionSizeUSD {
		return fmt.Errorf("max_position_size_usd (%v) 小于 position_size_usd (%v)", c.MaxPositionSizeUSD, c.PositionSizeUSD)
	}
	if c.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage 必须为正数: %v", c.MaxLeverage)
	}
	if c.UpdateIntervalS <= 0 {
		return fmt.Errorf("update_interval_s 必须为正数: %d", c.UpdateIntervalS)
	}
	if c.SimulationMode && c.InitialEquityUSD <= 0 {
		return fmt.Errorf("模拟模式要求 initial_equity_usd 为正数: %v", c.InitialEquityUSD)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("lot_size 必须为正数: %v", c.LotSize)
	}
	return nil
}
