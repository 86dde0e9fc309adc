package models

import "time"

// BotState 定义了需要持久化的所有关键数据，
// 用于支持带持仓重启（--keep-position）的工作流。
type BotState struct {
	BotID          string    `json:"bot_id"`           // Bot的唯一标识符
	Instrument     string    `json:"instrument"`       // 交易市场, e.g., "ETH-USD"
	Version        int       `json:"version"`          // 状态模型的版本号，用于未来迁移
	OpenPosition   *Position `json:"open_position"`    // 停机时未平仓的仓位；无持仓时为nil
	LastUpdateTime time.Time `json:"last_update_time"` // 状态最后更新的时间戳
}

// RiskState tracks the process-scoped risk accounting. It is rehydrated on
// start-up by replaying same-day trades from the trade log.
type RiskState struct {
	InitialEquity float64   `json:"initial_equity"`
	DailyPnl      float64   `json:"daily_pnl"`
	LastResetDay  time.Time `json:"last_reset_day"` // UTC midnight of the accounting day
}
