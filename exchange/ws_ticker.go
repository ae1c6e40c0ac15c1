package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// TickerHandler 收到一条行情后的回调（接熔断器的新鲜度跟踪）。
type TickerHandler func(t Ticker)

// TickerFeed 通过 WS 订阅行情并持续回调；连接断开后指数退避重连。
// 它只负责新鲜度与最新价，不承担订单回报。
type TickerFeed struct {
	URL     string
	Symbols []string
	Dialer  *websocket.Dialer

	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// NewTickerFeed 创建行情订阅。
func NewTickerFeed(url string, symbols []string) *TickerFeed {
	return &TickerFeed{
		URL:          url,
		Symbols:      symbols,
		Dialer:       websocket.DefaultDialer,
		ReconnectMin: time.Second,
		ReconnectMax: 30 * time.Second,
	}
}

type wsTickerMsg struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Ts     int64   `json:"ts"` // 毫秒
}

// Run 阻塞运行直到 ctx 取消；每条消息解析成功后调用 handler。
func (f *TickerFeed) Run(ctx context.Context, handler TickerHandler, onError func(error)) error {
	if f.URL == "" {
		return fmt.Errorf("ticker feed url required")
	}
	backoff := f.ReconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := f.readLoop(ctx, handler)
		if err != nil && onError != nil {
			onError(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.ReconnectMax {
			backoff = f.ReconnectMax
		}
	}
}

func (f *TickerFeed) readLoop(ctx context.Context, handler TickerHandler) error {
	conn, _, err := f.Dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial ticker feed: %w", err)
	}
	defer conn.Close()

	sub := map[string]interface{}{"op": "subscribe", "symbols": f.Symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// ctx 取消时主动断开，ReadMessage 随之返回
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read ticker: %w", err)
		}
		var msg wsTickerMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" || msg.Last <= 0 {
			continue
		}
		if handler != nil {
			handler(Ticker{
				Symbol:    msg.Symbol,
				Last:      msg.Last,
				Bid:       msg.Last,
				Ask:       msg.Last,
				Timestamp: time.UnixMilli(msg.Ts).UTC(),
			})
		}
	}
}
