package exchange

import (
	"context"
	"errors"
	"strings"
	"time"
)

// OrderResult 引擎依赖的订单视图。适配器负责把交易所原生响应映射到这里，
// 引擎不接触任何一家交易所的 wire 格式。
type OrderResult struct {
	ID        string
	Status    string // open / closed / canceled（交易所口径）
	Price     float64
	Amount    float64
	Filled    float64
	Remaining float64
	Average   float64 // 平均成交价，无成交时为 0
	FeeCost   float64
	Timestamp time.Time
}

// Closed 交易所视角该订单是否已终结。
func (r *OrderResult) Closed() bool {
	switch strings.ToLower(r.Status) {
	case "closed", "filled", "canceled", "cancelled":
		return true
	}
	return false
}

// Ticker 行情快照。
type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// Adapter 交易所适配器契约。所有调用都可能瞬时失败，重试由调用方包裹。
type Adapter interface {
	CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (*OrderResult, error)
	CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*OrderResult, error)
	FetchOrder(ctx context.Context, id, symbol string) (*OrderResult, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
}

// ErrOrderNotFound 交易所查不到该订单（被拒、带外撤销、或已被清理）。
var ErrOrderNotFound = errors.New("order not found at venue")
