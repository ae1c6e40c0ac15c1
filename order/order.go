package order

import "time"

// Side 交易方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Status represents order lifecycle.
type Status string

const (
	StatusPlaced    Status = "placed"
	StatusPartial   Status = "partial"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// IsOpen 判断订单是否仍可能产生成交。
func (s Status) IsOpen() bool {
	return s == StatusPlaced || s == StatusPartial
}

// Order 持久化订单行，归属唯一 (tenant, run)。
type Order struct {
	VenueOrderID  string
	TenantID      string
	RunID         string
	Pair          string
	Side          Side
	Price         float64
	Amount        float64 // 请求数量
	Filled        float64
	Remaining     float64
	Status        Status
	CorrelationID string
	DriftReason   string // 非空时解释取消原因："timeout" / "price-drift <pct>" / "kill-switch" / "max-retries-exceeded"
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Fill 持久化成交记录，append-only，是已实现盈亏重算的事实来源。
type Fill struct {
	ID            string
	TenantID      string
	RunID         string
	VenueOrderID  string
	CorrelationID string
	Side          Side
	Price         float64
	Amount        float64
	Fee           float64
	Timestamp     time.Time
}

// Update 订单行的部分更新：nil 字段保持原值。
type Update struct {
	Status      Status
	Filled      *float64
	Remaining   *float64
	DriftReason *string
}

// RunStatus run 行状态。
type RunStatus string

const (
	RunPlanned   RunStatus = "planned"
	RunExecuting RunStatus = "executing"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)
