package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/exchange"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/guard"
	"grid-trader-go/metrics"
	"grid-trader-go/order"
	"grid-trader-go/planner"
	"grid-trader-go/risk"
)

// OrderRepo 订单仓储契约。
type OrderRepo interface {
	InsertOrder(o *order.Order) error
	UpdateOrder(tenantID, venueOrderID string, u order.Update) error
	FindOpenOrders(tenantID string) ([]*order.Order, error)
}

// FillRepo 成交仓储契约（append-only）。
type FillRepo interface {
	InsertFill(f *order.Fill) error
	RecentTradePnL(tenantID string, limit int) ([]float64, error)
}

// RunRepo run 仓储契约。
type RunRepo interface {
	CreateRun(plan *planner.GridPlan, status order.RunStatus) error
	UpdateRunStatus(tenantID, runID string, status order.RunStatus) error
}

// Config 执行引擎参数。
type Config struct {
	Workers            int
	PollInterval       time.Duration
	ReplaceTimeout     time.Duration
	ReplaceSlippagePct float64
	ReplaceMaxRetries  int
	TakeProfitPct      float64
	Retry              exchange.RetryConfig
}

// SymbolInfo 每交易对的量化约束与风控输入。
type SymbolInfo struct {
	Constraints order.SymbolConstraints
	Volatility  float64
	Asset       string // 基础资产，风控分组用
}

// TenantParams 租户默认 sizing。
type TenantParams struct {
	BankrollUSD float64
	GridSteps   int
	GridSizePct float64
	PerTradeUSD float64
	FeePct      float64
}

// SizingOverrides 调用方（策略层/热更新）对默认 sizing 的覆盖；nil 字段不覆盖。
type SizingOverrides struct {
	GridSteps   *int
	GridSizePct *float64
	PerTradeUSD *float64
}

// Deps 引擎依赖，由组合根装配。
type Deps struct {
	Exchange  exchange.Adapter
	Limiters  *exchange.LimiterRegistry
	Guards    *guard.Registry
	GuardRepo guard.Repo
	Kill      *guard.KillSwitch
	Risk      *risk.Engine
	Orders    OrderRepo
	Fills     FillRepo
	Runs      RunRepo
	Symbols   map[string]SymbolInfo
	Tenants   map[string]TenantParams
	Logger    *logger.Logger
	Alerts    *alert.Manager
	Metrics   *metrics.Metrics
}

// Engine 网格订单执行引擎：把规划的买入档位变成真实订单序列，
// 在部分成交、价格漂移、交易所故障下维持序列正确，并全程受熔断约束。
type Engine struct {
	cfg  Config
	deps Deps
}

var (
	// ErrKillSwitch run 被停机开关中止。
	ErrKillSwitch = errors.New("kill switch active")
	// ErrRiskRejected 风控整体拒绝本次规划。
	ErrRiskRejected = errors.New("plan rejected by risk engine")
)

// New 创建引擎。
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Exchange == nil || deps.Limiters == nil || deps.Guards == nil ||
		deps.Orders == nil || deps.Fills == nil || deps.Runs == nil || deps.Kill == nil {
		return nil, errors.New("engine: missing dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = exchange.DefaultRetry()
	}
	return &Engine{cfg: cfg, deps: deps}, nil
}

// PlanAndExecute 策略层唯一入口：风控评估 → 规划 → 对账 → 并发执行档位。
// summary 只落 run 行；paper 走模拟成交；live 走真实交易所。
func (e *Engine) PlanAndExecute(ctx context.Context, pair, tenantID string, mode planner.RunMode, overrides *SizingOverrides) (*planner.GridPlan, error) {
	if active, reason := e.deps.Kill.Active(); active {
		return nil, fmt.Errorf("%w: %s", ErrKillSwitch, reason)
	}
	tenant, ok := e.deps.Tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("unknown tenant %q", tenantID)
	}
	sym, ok := e.deps.Symbols[pair]
	if !ok {
		return nil, fmt.Errorf("missing market metadata for %q", pair)
	}
	applyOverrides(&tenant, overrides)

	br := e.deps.Guards.ForTenant(tenantID)
	if e.deps.GuardRepo != nil {
		if err := br.Initialize(e.deps.GuardRepo); err != nil {
			return nil, err
		}
	}

	lim := e.deps.Limiters.ForTenant(tenantID)
	rt := e.retrier(tenantID, br)

	var ticker *exchange.Ticker
	if err := e.call(ctx, lim, rt, func() error {
		t, err := e.deps.Exchange.FetchTicker(ctx, pair)
		if err != nil {
			return err
		}
		ticker = t
		return nil
	}); err != nil {
		return nil, fmt.Errorf("fetch ticker for %s: %w", pair, err)
	}
	br.RecordTicker(ticker.Timestamp, "rest", time.Since(ticker.Timestamp))

	ev, err := e.evaluateRisk(tenant, sym, tenantID, pair, ticker.Last)
	if err != nil {
		return nil, err
	}
	if !ev.Approved {
		e.deps.Metrics.RiskRejections.WithLabelValues(tenantID).Inc()
		e.deps.Logger.LogRisk("plan_blocked",
			zap.String("tenant_id", tenantID),
			zap.String("pair", pair),
			zap.String("reason", ev.BlockedReason))
		if e.deps.Alerts != nil {
			e.deps.Alerts.Notify(alert.Alert{
				Level: "WARNING", TenantID: tenantID,
				Message: "plan blocked: " + ev.BlockedReason,
			})
		}
		return nil, fmt.Errorf("%w: %s", ErrRiskRejected, ev.BlockedReason)
	}

	plan, err := planner.Plan(planner.Input{
		TenantID:    tenantID,
		Pair:        pair,
		Mode:        mode,
		MidPrice:    ticker.Last,
		GridSteps:   tenant.GridSteps,
		GridSizePct: ev.GridSizePct,
		PerTradeUSD: ev.PerTradeUSD,
		FeePct:      tenant.FeePct,
		Constraints: sym.Constraints,
		RiskNotes:   ev.Messages,
	})
	if err != nil {
		return nil, err
	}
	if err := e.deps.Runs.CreateRun(plan, order.RunPlanned); err != nil {
		return nil, err
	}
	if mode == planner.ModeSummary {
		return plan, nil
	}

	ex := e.deps.Exchange
	if mode == planner.ModePaper {
		paper := exchange.NewPaperExchange(tenant.FeePct)
		paper.SetPrice(pair, ticker.Last)
		ex = paper
	}

	// 先修复上次崩溃可能留下的孤儿状态，再开新仓
	if _, err := e.Reconcile(ctx, tenantID); err != nil {
		return plan, fmt.Errorf("reconcile before run: %w", err)
	}
	if err := br.ResetRun(); err != nil {
		return plan, err
	}
	if err := e.deps.Runs.UpdateRunStatus(tenantID, plan.RunID, order.RunExecuting); err != nil {
		return plan, err
	}

	runErr := e.execute(ctx, &execution{
		engine: e,
		plan:   plan,
		ex:     ex,
		lim:    lim,
		rt:     rt,
		br:     br,
		cons:   sym.Constraints,
		tpPct:  ev.TakeProfitPct,
		log:    e.deps.Logger.ForRun(tenantID, plan.RunID),
	})
	e.deps.Metrics.RunPnlUSD.WithLabelValues(tenantID).Set(br.Snapshot().RunPnlUSD)

	status := order.RunCompleted
	if runErr != nil {
		status = order.RunFailed
	}
	if err := e.deps.Runs.UpdateRunStatus(tenantID, plan.RunID, status); err != nil && runErr == nil {
		runErr = err
	}
	return plan, runErr
}

// execute 有界并发地跑所有档位，最后等全部止盈监控退出。
func (e *Engine) execute(ctx context.Context, x *execution) error {
	sem := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup
	for i := range x.plan.Levels {
		lvl := x.plan.Levels[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := x.runLevel(ctx, lvl); err != nil {
				x.recordFailure(err)
			}
		}()
	}
	wg.Wait()
	// run 完成的定义包含所有止盈监控退出
	x.tpWG.Wait()

	if err := x.failure(); err != nil {
		x.cancelOpenOrders(ctx, abortReason(err))
		return err
	}
	return nil
}

func (e *Engine) evaluateRisk(tenant TenantParams, sym SymbolInfo, tenantID, pair string, mid float64) (risk.Evaluation, error) {
	if e.deps.Risk == nil {
		return risk.Evaluation{
			Approved:      true,
			PerTradeUSD:   tenant.PerTradeUSD,
			GridSizePct:   tenant.GridSizePct,
			TakeProfitPct: e.cfg.TakeProfitPct,
		}, nil
	}
	br := e.deps.Guards.ForTenant(tenantID)
	snap := br.Snapshot()

	pnls, err := e.deps.Fills.RecentTradePnL(tenantID, 50)
	if err != nil {
		return risk.Evaluation{}, fmt.Errorf("load trade pnl: %w", err)
	}

	exposure := map[string]float64{}
	if snap.InventoryBase != 0 {
		exposure[sym.Asset] = snap.InventoryBase * mid
	}

	return e.deps.Risk.Evaluate(risk.Input{
		TenantID:             tenantID,
		Pair:                 pair,
		Asset:                sym.Asset,
		BankrollUSD:          tenant.BankrollUSD,
		PerTradeUSD:          tenant.PerTradeUSD,
		GridSteps:            tenant.GridSteps,
		GridSizePct:          tenant.GridSizePct,
		TakeProfitPct:        e.cfg.TakeProfitPct,
		Volatility:           sym.Volatility,
		CurrentExposure:      exposure,
		RecentTradePnL:       pnls,
		RecentMaxDrawdownUSD: maxDrawdown(pnls),
	}), nil
}

// maxDrawdown 近期单笔盈亏序列的最大累计回撤幅度。
func maxDrawdown(pnls []float64) float64 {
	var cum, peak, worst float64
	for _, p := range pnls {
		cum += p
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > worst {
			worst = dd
		}
	}
	return worst
}

func applyOverrides(t *TenantParams, o *SizingOverrides) {
	if o == nil {
		return
	}
	if o.GridSteps != nil && *o.GridSteps > 0 {
		t.GridSteps = *o.GridSteps
	}
	if o.GridSizePct != nil && *o.GridSizePct > 0 {
		t.GridSizePct = *o.GridSizePct
	}
	if o.PerTradeUSD != nil && *o.PerTradeUSD > 0 {
		t.PerTradeUSD = *o.PerTradeUSD
	}
}

func (e *Engine) retrier(tenantID string, br *guard.CircuitBreaker) *exchange.Retrier {
	return exchange.NewRetrier(e.cfg.Retry, func(errType string) {
		br.RecordAPIError(errType)
		e.deps.Metrics.APIErrors.WithLabelValues(tenantID, errType).Inc()
	})
}

// call 统一的外发调用路径：先过租户限流器，再带退避重试。
func (e *Engine) call(ctx context.Context, lim *exchange.PacedLimiter, rt *exchange.Retrier, fn func() error) error {
	return rt.Do(ctx, "exchange", func() error {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		return fn()
	})
}

const fillEpsilon = 1e-9
