package venue

import (
	"context"
	"time"

	"dydx-breakout-bot-go/internal/models"
)

// Client 定义了所有交易所实现必须提供的通用方法。
// 这使得交易机器人可以在真实交易和模拟之间轻松切换。
// 网络、鉴权、签名等线格式细节全部封装在具体实现内部。
type Client interface {
	// GetCandles 拉取最近limit根K线，按start_time升序返回
	GetCandles(ctx context.Context, instrument string, tf models.Timeframe, limit int) ([]models.Candle, error)

	// StreamTrades 订阅成交流并把成交写入out，阻塞直到连接断开或ctx取消。
	// 重连由调用方负责。
	StreamTrades(ctx context.Context, instrument string, out chan<- models.VenueTrade) error

	// GetAccount 查询账户权益快照
	GetAccount(ctx context.Context) (*models.AccountSnapshot, error)

	// PlaceMarketOrder 提交市价单并阻塞等待成交（或超时）
	PlaceMarketOrder(ctx context.Context, instrument, side string, sizeBase float64, clientID string) (*models.OrderFill, error)

	// CancelOrder 尽力取消指定客户端ID的订单
	CancelOrder(ctx context.Context, instrument, clientID string) error
}

// Clock 抽象了时间来源，便于确定性测试
type Clock interface {
	Now() time.Time
	TodayUTC() time.Time // 当前UTC日的零点，用于日内盈亏重置
}

// RealClock 使用系统时间实现 Clock
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) TodayUTC() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

// resolutions 把核心使用的小写timeframe翻译为indexer的词汇表
var resolutions = map[models.Timeframe]string{
	models.Timeframe1m:  "1MIN",
	models.Timeframe5m:  "5MINS",
	models.Timeframe15m: "15MINS",
	models.Timeframe30m: "30MINS",
	models.Timeframe1h:  "1HOUR",
	models.Timeframe4h:  "4HOURS",
	models.Timeframe1d:  "1DAY",
}

// Resolution 返回timeframe在indexer侧的表示
func Resolution(tf models.Timeframe) string {
	return resolutions[tf]
}
