package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RESTClient 真实交易所的 REST 适配器。签名方式为 HMAC-SHA256，
// 时间戳 + 方法 + 路径 + body。所有响应映射到 OrderResult，
// 上层不感知交易所的 wire 格式。
type RESTClient struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
}

// NewRESTClient 创建 REST 适配器。
func NewRESTClient(baseURL, apiKey, apiSecret string) *RESTClient {
	return &RESTClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

type restOrder struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Filled    float64 `json:"filled"`
	Remaining float64 `json:"remaining"`
	Average   float64 `json:"average"`
	FeeCost   float64 `json:"feeCost"`
	Ts        int64   `json:"ts"` // 毫秒
}

type restTicker struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Ts     int64   `json:"ts"`
}

func (o *restOrder) toResult() *OrderResult {
	return &OrderResult{
		ID:        o.ID,
		Status:    o.Status,
		Price:     o.Price,
		Amount:    o.Amount,
		Filled:    o.Filled,
		Remaining: o.Remaining,
		Average:   o.Average,
		FeeCost:   o.FeeCost,
		Timestamp: time.UnixMilli(o.Ts).UTC(),
	}
}

// CreateLimitBuyOrder 下限价买单。
func (c *RESTClient) CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (*OrderResult, error) {
	return c.createOrder(ctx, symbol, "buy", amount, price)
}

// CreateLimitSellOrder 下限价卖单。
func (c *RESTClient) CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*OrderResult, error) {
	return c.createOrder(ctx, symbol, "sell", amount, price)
}

func (c *RESTClient) createOrder(ctx context.Context, symbol, side string, amount, price float64) (*OrderResult, error) {
	body := map[string]any{
		"symbol": symbol,
		"side":   side,
		"type":   "limit",
		"amount": amount,
		"price":  price,
	}
	var out restOrder
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", body, &out); err != nil {
		return nil, err
	}
	return out.toResult(), nil
}

// FetchOrder 查询订单；404 映射为 ErrOrderNotFound。
func (c *RESTClient) FetchOrder(ctx context.Context, id, symbol string) (*OrderResult, error) {
	var out restOrder
	path := "/api/v1/orders/" + url.PathEscape(id) + "?symbol=" + url.QueryEscape(symbol)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.toResult(), nil
}

// CancelOrder 撤单；订单已不存在时同样返回 ErrOrderNotFound。
func (c *RESTClient) CancelOrder(ctx context.Context, id, symbol string) error {
	path := "/api/v1/orders/" + url.PathEscape(id) + "?symbol=" + url.QueryEscape(symbol)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// FetchTicker 查询最新行情。
func (c *RESTClient) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var out restTicker
	path := "/api/v1/ticker?symbol=" + url.QueryEscape(symbol)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &Ticker{
		Symbol:    out.Symbol,
		Last:      out.Last,
		Bid:       out.Bid,
		Ask:       out.Ask,
		Timestamp: time.UnixMilli(out.Ts).UTC(),
	}, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Api-Timestamp", ts)
	req.Header.Set("X-Api-Signature", c.sign(ts+method+path+string(payload)))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrOrderNotFound
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("venue %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *RESTClient) sign(msg string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
