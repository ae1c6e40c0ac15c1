package guard

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/order"
)

// State 每租户一行的持久化守护状态。
type State struct {
	TenantID      string
	GlobalPnlUSD  float64 // 全历史已实现盈亏
	RunPnlUSD     float64 // 本次 run 已实现盈亏，run 开始时清零
	InventoryBase float64 // 基础资产净持仓
	InventoryCost float64 // 当前持仓成本（累计和，非均价；均价 = cost/base）
	LastTickerTs  time.Time
	TickerSource  string
	TickerLatency time.Duration
	APIErrors     []time.Time // 60 秒滑动窗口，每次写入时修剪
	UpdatedAt     time.Time
}

// Repo 守护状态存取契约：整行 upsert，按租户键控。
type Repo interface {
	LoadGuardState(tenantID string) (*State, error)
	SaveGuardState(st *State) error
}

// Config 熔断阈值。
type Config struct {
	MaxGlobalDrawdownUSD float64
	MaxRunLossUSD        float64
	MaxAPIErrorsPerMin   int
	StaleAfter           time.Duration
}

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

const apiErrorWindow = 60 * time.Second

// CircuitBreaker 每租户熔断器：跟踪已实现盈亏、持仓成本、API 错误率、
// 行情新鲜度，越限时触发注入的 KillSwitch。是 GuardState 的唯一写入方。
type CircuitBreaker struct {
	tenantID string
	cfg      Config
	kill     *KillSwitch
	alerts   *alert.Manager
	log      *logger.Logger
	clock    Clock

	mu          sync.Mutex
	repo        Repo
	st          State
	initialized bool
}

// NewCircuitBreaker 创建熔断器；Initialize 前不接受记录调用。
func NewCircuitBreaker(tenantID string, cfg Config, kill *KillSwitch, alerts *alert.Manager, log *logger.Logger) *CircuitBreaker {
	if log == nil {
		log = logger.NewNop()
	}
	return &CircuitBreaker{
		tenantID: tenantID,
		cfg:      cfg,
		kill:     kill,
		alerts:   alerts,
		log:      log,
		clock:    realClock{},
	}
}

// SetClock 测试用。
func (b *CircuitBreaker) SetClock(c Clock) { b.clock = c }

// Initialize 幂等加载持久化状态；同一 repo 的重复调用是 no-op。
func (b *CircuitBreaker) Initialize(repo Repo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized && b.repo == repo {
		return nil
	}
	st, err := repo.LoadGuardState(b.tenantID)
	if err != nil {
		return fmt.Errorf("load guard state: %w", err)
	}
	if st == nil {
		st = &State{TenantID: b.tenantID}
	}
	b.st = *st
	b.repo = repo
	b.initialized = true
	return nil
}

// ResetRun 新 run 开始时清零 run 级盈亏；全局盈亏与持仓跨 run 保留。
func (b *CircuitBreaker) ResetRun() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st.RunPnlUSD = 0
	return b.persistLocked()
}

// RecordFill 记录一笔成交并更新持仓/盈亏。
// 买入累加持仓与成本；卖出在持仓 > 0 时按均价实现盈亏、等比例缩减成本。
// 持仓为零或为负时的卖出是 no-op（防御乱序事件），只告警不改账。
func (b *CircuitBreaker) RecordFill(side order.Side, price, amount, fee float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return fmt.Errorf("circuit breaker for %s not initialized", b.tenantID)
	}

	switch side {
	case order.SideBuy:
		b.st.InventoryBase += amount
		b.st.InventoryCost += price*amount + fee
	case order.SideSell:
		if b.st.InventoryBase <= 0 {
			b.log.LogRisk("sell_with_no_inventory",
				zap.String("tenant_id", b.tenantID),
				zap.Float64("amount", amount))
			if b.alerts != nil {
				b.alerts.Notify(alert.Alert{
					Level:    "WARNING",
					TenantID: b.tenantID,
					Message:  "sell fill recorded with non-positive inventory, possible out-of-order events",
				})
			}
			return nil
		}
		if amount > b.st.InventoryBase {
			amount = b.st.InventoryBase
		}
		avgCost := b.st.InventoryCost / b.st.InventoryBase
		pnl := (price-avgCost)*amount - fee
		b.st.GlobalPnlUSD += pnl
		b.st.RunPnlUSD += pnl

		fraction := amount / b.st.InventoryBase
		b.st.InventoryBase -= amount
		b.st.InventoryCost -= b.st.InventoryCost * fraction
		// 清仓后成本必须归零，防浮点残留
		if b.st.InventoryBase <= 1e-12 {
			b.st.InventoryBase = 0
			b.st.InventoryCost = 0
		}
	}

	b.checkPnlLocked()
	return b.persistLocked()
}

// RecordAPIError 记录一次 API 错误；窗口内错误数达到上限即熔断。
func (b *CircuitBreaker) RecordAPIError(errType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	b.st.APIErrors = append(b.st.APIErrors, now)
	b.pruneErrorsLocked(now)

	if b.cfg.MaxAPIErrorsPerMin > 0 && len(b.st.APIErrors) >= b.cfg.MaxAPIErrorsPerMin {
		b.tripLocked(fmt.Sprintf("API error rate exceeded (%d/min)", len(b.st.APIErrors)))
	}
	_ = b.persistLocked()
}

// RecordTicker 更新行情新鲜度。
func (b *CircuitBreaker) RecordTicker(ts time.Time, source string, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st.LastTickerTs = ts
	b.st.TickerSource = source
	b.st.TickerLatency = latency
	_ = b.persistLocked()
}

// CheckStaleData 行情超过阈值未更新则熔断；返回是否判定过期。
func (b *CircuitBreaker) CheckStaleData() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.StaleAfter <= 0 || b.st.LastTickerTs.IsZero() {
		return false
	}
	if b.clock.Now().Sub(b.st.LastTickerTs) > b.cfg.StaleAfter {
		b.tripLocked("Market data stale")
		return true
	}
	return false
}

// Snapshot 返回当前状态副本。
func (b *CircuitBreaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.st
	st.APIErrors = append([]time.Time(nil), b.st.APIErrors...)
	return st
}

func (b *CircuitBreaker) checkPnlLocked() {
	if b.cfg.MaxGlobalDrawdownUSD > 0 && b.st.GlobalPnlUSD <= -b.cfg.MaxGlobalDrawdownUSD {
		b.tripLocked(fmt.Sprintf("global drawdown limit reached (%.2f USD)", b.st.GlobalPnlUSD))
		return
	}
	if b.cfg.MaxRunLossUSD > 0 && b.st.RunPnlUSD <= -b.cfg.MaxRunLossUSD {
		b.tripLocked(fmt.Sprintf("run loss limit reached (%.2f USD)", b.st.RunPnlUSD))
	}
}

// tripLocked 触发 KillSwitch；幂等，首个原因保留。附带租户+运维通知。
func (b *CircuitBreaker) tripLocked(reason string) {
	if b.kill == nil {
		return
	}
	if !b.kill.Activate(reason) {
		return
	}
	b.log.LogRisk("kill_switch_tripped",
		zap.String("tenant_id", b.tenantID),
		zap.String("reason", reason))
	if b.alerts != nil {
		b.alerts.NotifyKillSwitch(b.tenantID, reason)
	}
}

func (b *CircuitBreaker) pruneErrorsLocked(now time.Time) {
	cutoff := now.Add(-apiErrorWindow)
	i := 0
	for ; i < len(b.st.APIErrors); i++ {
		if b.st.APIErrors[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.st.APIErrors = b.st.APIErrors[i:]
	}
}

func (b *CircuitBreaker) persistLocked() error {
	if b.repo == nil {
		return nil
	}
	b.st.UpdatedAt = b.clock.Now()
	st := b.st
	st.APIErrors = append([]time.Time(nil), b.st.APIErrors...)
	if err := b.repo.SaveGuardState(&st); err != nil {
		b.log.Error("persist guard state failed", zap.String("tenant_id", b.tenantID), zap.Error(err))
		return err
	}
	return nil
}
