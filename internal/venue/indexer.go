package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"dydx-breakout-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Indexer 实现了 Client 接口，用于与dYdX v4 indexer进行交互。
// 行情与账户查询走公共REST接口，成交流走WebSocket，
// 下单走签名的REST请求。
type Indexer struct {
	restURL    string
	wsURL      string
	address    string // 链上地址，用于账户查询
	subaccount int
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// Credentials 保存下单与账户查询所需的凭证
type Credentials struct {
	Address    string
	Subaccount int
	APIKey     string
	APISecret  string
}

// NewIndexer 创建一个新的 Indexer 实例
func NewIndexer(restURL, wsURL string, creds Credentials, logger *zap.SugaredLogger) *Indexer {
	return &Indexer{
		restURL:    strings.TrimRight(restURL, "/"),
		wsURL:      wsURL,
		address:    creds.Address,
		subaccount: creds.Subaccount,
		apiKey:     creds.APIKey,
		apiSecret:  creds.APISecret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// doRequest 是一个通用的请求处理函数，用于向indexer发送请求。
func (e *Indexer) doRequest(ctx context.Context, method, endpoint string, params url.Values, body []byte, signed bool) ([]byte, error) {
	fullURL := e.restURL + endpoint
	if len(params) > 0 {
		fullURL = fmt.Sprintf("%s?%s", fullURL, params.Encode())
	}

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if signed {
		// 签名请求携带时间戳与HMAC签名头
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		payload := timestamp + method + endpoint + string(body)
		req.Header.Set("DYDX-API-KEY", e.apiKey)
		req.Header.Set("DYDX-TIMESTAMP", timestamp)
		req.Header.Set("DYDX-SIGNATURE", e.sign(payload))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr models.Error
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Code != 0 {
			return data, &apiErr
		}
		return data, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// sign 对给定的载荷字符串（时间戳+方法+路径+请求体，不含查询参数）做HMAC-SHA256签名并Base64编码。
func (e *Indexer) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.apiSecret))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// --- Client 接口实现 ---

// GetCandles 拉取最近的K线。indexer返回倒序，这里翻转为升序。
func (e *Indexer) GetCandles(ctx context.Context, instrument string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("resolution", Resolution(tf))
	params.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("/v4/candles/perpetualMarkets/%s", instrument)
	data, err := e.doRequest(ctx, "GET", endpoint, params, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Candles []struct {
			StartedAt       string `json:"startedAt"`
			Open            string `json:"open"`
			High            string `json:"high"`
			Low             string `json:"low"`
			Close           string `json:"close"`
			BaseTokenVolume string `json:"baseTokenVolume"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析K线响应失败: %w", err)
	}

	candles := make([]models.Candle, 0, len(resp.Candles))
	for _, c := range resp.Candles {
		startedAt, err := time.Parse(time.RFC3339, c.StartedAt)
		if err != nil {
			e.logger.Debugf("跳过无法解析时间的K线: %v", err)
			continue
		}
		open, err1 := strconv.ParseFloat(c.Open, 64)
		high, err2 := strconv.ParseFloat(c.High, 64)
		low, err3 := strconv.ParseFloat(c.Low, 64)
		closeP, err4 := strconv.ParseFloat(c.Close, 64)
		volume, err5 := strconv.ParseFloat(c.BaseTokenVolume, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			e.logger.Debugf("跳过无法解析价格的K线: %s", c.StartedAt)
			continue
		}
		candles = append(candles, models.Candle{
			StartTime: startedAt,
			Timeframe: tf,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    volume,
		})
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].StartTime.Before(candles[j].StartTime) })
	return candles, nil
}

// StreamTrades 建立WebSocket连接并订阅成交频道，处理成交消息，并实现心跳机制。
// 阻塞直到连接断开或ctx取消；重连由调用方负责。
func (e *Indexer) StreamTrades(ctx context.Context, instrument string, out chan<- models.VenueTrade) error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait
	)

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, e.wsURL, nil)
	if err != nil {
		return fmt.Errorf("WebSocket连接失败: %w", err)
	}
	defer conn.Close()

	sub := map[string]string{
		"type":    "subscribe",
		"channel": "v4_trades",
		"id":      instrument,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("发送订阅消息失败: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 启动一个goroutine来定期发送Ping，并在ctx取消时关闭连接
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("读取消息失败: %w", err)
		}

		var frame struct {
			Type     string `json:"type"`
			Contents struct {
				Trades []struct {
					Price     string `json:"price"`
					Size      string `json:"size"`
					CreatedAt string `json:"createdAt"`
				} `json:"trades"`
			} `json:"contents"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			e.logger.Debugf("解析成交消息失败: %v", err)
			continue
		}
		if frame.Type != "channel_data" && frame.Type != "subscribed" {
			continue
		}

		for _, t := range frame.Contents.Trades {
			price, err1 := strconv.ParseFloat(t.Price, 64)
			size, err2 := strconv.ParseFloat(t.Size, 64)
			at, err3 := time.Parse(time.RFC3339, t.CreatedAt)
			if err1 != nil || err2 != nil || err3 != nil {
				continue
			}
			trade := models.VenueTrade{Price: price, Size: size, At: at}
			select {
			case out <- trade:
			default:
				// 消费侧落后时丢弃，避免无界排队
			}
		}
	}
}

// GetAccount 查询子账户的权益快照。
func (e *Indexer) GetAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	endpoint := fmt.Sprintf("/v4/addresses/%s/subaccountNumber/%d", e.address, e.subaccount)
	data, err := e.doRequest(ctx, "GET", endpoint, nil, nil, false)
	if err != nil {
		return nil, fmt.Errorf("获取账户信息失败: %w", err)
	}

	var resp struct {
		Subaccount struct {
			Equity         string `json:"equity"`
			FreeCollateral string `json:"freeCollateral"`
		} `json:"subaccount"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析账户信息失败: %w", err)
	}

	equity, err := strconv.ParseFloat(resp.Subaccount.Equity, 64)
	if err != nil {
		return nil, fmt.Errorf("解析账户权益失败: %w", err)
	}
	free, err := strconv.ParseFloat(resp.Subaccount.FreeCollateral, 64)
	if err != nil {
		return nil, fmt.Errorf("解析可用保证金失败: %w", err)
	}

	return &models.AccountSnapshot{EquityUSD: equity, FreeCollateralUSD: free}, nil
}

// PlaceMarketOrder 提交市价单并轮询订单状态直到成交或ctx超时。
func (e *Indexer) PlaceMarketOrder(ctx context.Context, instrument, side string, sizeBase float64, clientID string) (*models.OrderFill, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"market":      instrument,
		"side":        side,
		"type":        "MARKET",
		"size":        strconv.FormatFloat(sizeBase, 'f', -1, 64),
		"timeInForce": "IOC",
		"clientId":    clientID,
		"reduceOnly":  false,
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.doRequest(ctx, "POST", "/v4/orders", nil, payload, true); err != nil {
		return nil, fmt.Errorf("下单请求失败: %w", err)
	}

	// 轮询成交状态。市价IOC通常在一两次轮询内到达终态。
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			fill, done, err := e.queryFill(ctx, instrument, clientID)
			if done {
				return fill, err
			}
			if err != nil {
				e.logger.Warnf("查询订单 %s 状态失败: %v", clientID, err)
			}
		}
	}
}

// queryFill 查询指定客户端ID订单的终态。
func (e *Indexer) queryFill(ctx context.Context, instrument, clientID string) (*models.OrderFill, bool, error) {
	params := url.Values{}
	params.Set("market", instrument)
	params.Set("clientId", clientID)

	endpoint := fmt.Sprintf("/v4/orders/address/%s/subaccountNumber/%d", e.address, e.subaccount)
	data, err := e.doRequest(ctx, "GET", endpoint, params, nil, true)
	if err != nil {
		return nil, false, err
	}

	var orders []struct {
		ClientID    string `json:"clientId"`
		Status      string `json:"status"`
		Price       string `json:"price"`
		TotalFilled string `json:"totalFilled"`
	}
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, false, fmt.Errorf("解析订单响应失败: %w", err)
	}

	for _, o := range orders {
		if o.ClientID != clientID {
			continue
		}
		switch o.Status {
		case "FILLED":
			price, _ := strconv.ParseFloat(o.Price, 64)
			size, _ := strconv.ParseFloat(o.TotalFilled, 64)
			return &models.OrderFill{FilledPrice: price, FilledSize: size}, true, nil
		case "CANCELED", "BEST_EFFORT_CANCELED":
			return nil, true, fmt.Errorf("订单 %s 已被取消", clientID)
		}
		return nil, false, nil
	}
	return nil, false, nil
}

// CancelOrder 尽力取消订单。订单可能已经成交或不存在；出错时把错误返回给调用方，本函数不记录日志。
func (e *Indexer) CancelOrder(ctx context.Context, instrument, clientID string) error {
	endpoint := fmt.Sprintf("/v4/orders/%s", clientID)
	params := url.Values{}
	params.Set("market", instrument)
	_, err := e.doRequest(ctx, "DELETE", endpoint, params, nil, true)
	return err
}
