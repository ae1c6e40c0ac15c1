package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grid-trader-go/order"
)

// RunMode 运行模式。
type RunMode string

const (
	ModeSummary RunMode = "summary" // 只规划并落 Run 行，不触达交易所
	ModePaper   RunMode = "paper"   // 走完整状态机，模拟成交
	ModeLive    RunMode = "live"    // 真实下单
)

// BuyLevel 单个买入档位。
type BuyLevel struct {
	Level         int
	Price         float64
	Quantity      float64
	NotionalUSD   float64
	Adjusted      bool
	AdjustReason  string
	CorrelationID string // 串联该档位所有子订单/成交/日志的稳定键
}

// GridPlan 一次 (tenant, pair) 规划周期的产物；创建后不可变。
type GridPlan struct {
	RunID       string
	Mode        RunMode
	TenantID    string
	Pair        string
	GeneratedAt time.Time
	GridSteps   int
	GridSizePct float64
	PerTradeUSD float64
	FeePct      float64
	Levels      []BuyLevel
	RiskNotes   []string
}

// Input 规划输入。
type Input struct {
	TenantID    string
	Pair        string
	Mode        RunMode
	MidPrice    float64
	GridSteps   int
	GridSizePct float64
	PerTradeUSD float64
	FeePct      float64
	Constraints order.SymbolConstraints
	RiskNotes   []string
}

var ErrInvalidInput = errors.New("invalid plan input")

// Plan 生成买入档位：第 i 档价格 = mid * (1 - i*gridSizePct)，数量逐档量化。
// 量化结果为零的档位直接跳过，档位数可能少于 gridSteps。
func Plan(in Input) (*GridPlan, error) {
	if in.MidPrice <= 0 || in.GridSteps <= 0 || in.GridSizePct <= 0 || in.PerTradeUSD <= 0 {
		return nil, fmt.Errorf("%w: mid=%.4f steps=%d size=%.4f perTrade=%.2f",
			ErrInvalidInput, in.MidPrice, in.GridSteps, in.GridSizePct, in.PerTradeUSD)
	}

	runID := newRunID(in)
	plan := &GridPlan{
		RunID:       runID,
		Mode:        in.Mode,
		TenantID:    in.TenantID,
		Pair:        in.Pair,
		GeneratedAt: time.Now().UTC(),
		GridSteps:   in.GridSteps,
		GridSizePct: in.GridSizePct,
		PerTradeUSD: in.PerTradeUSD,
		FeePct:      in.FeePct,
		RiskNotes:   in.RiskNotes,
		Levels:      make([]BuyLevel, 0, in.GridSteps),
	}

	for i := 1; i <= in.GridSteps; i++ {
		price := in.MidPrice * (1 - float64(i)*in.GridSizePct)
		if price <= 0 {
			continue
		}
		q := order.Quantize(in.PerTradeUSD, price, in.Constraints)
		if q.Quantity <= 0 {
			continue
		}
		plan.Levels = append(plan.Levels, BuyLevel{
			Level:         i,
			Price:         price,
			Quantity:      q.Quantity,
			NotionalUSD:   q.NotionalUSD,
			Adjusted:      q.Adjusted,
			AdjustReason:  q.Reason,
			CorrelationID: fmt.Sprintf("%s-lvl%02d", runID, i),
		})
	}
	return plan, nil
}

// newRunID live 模式随机（同样输入两次运行必须是两个 run）；
// summary/paper 用内容哈希，便于幂等重放与测试对比。
func newRunID(in Input) string {
	if in.Mode == ModeLive {
		return uuid.NewString()
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%.8f|%.4f|%.6f|%.8f",
		in.Pair, in.GridSteps, in.GridSizePct, in.PerTradeUSD, in.FeePct, in.MidPrice)))
	return hex.EncodeToString(h[:8])
}
