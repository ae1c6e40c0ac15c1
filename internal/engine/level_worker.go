package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/exchange"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/guard"
	"grid-trader-go/order"
	"grid-trader-go/planner"
)

// execution 单次 run 的可变执行状态；level worker 与止盈监控共享。
type execution struct {
	engine *Engine
	plan   *planner.GridPlan
	ex     exchange.Adapter
	lim    *exchange.PacedLimiter
	rt     *exchange.Retrier
	br     *guard.CircuitBreaker
	cons   order.SymbolConstraints
	tpPct  float64 // 风控评估后的止盈目标，可能比配置值更宽
	log    *logger.Logger

	tpWG sync.WaitGroup

	mu   sync.Mutex
	err  error
	open map[string]string // venueOrderID -> correlationID，run 中止时统一撤单
}

// pollOutcome 单张订单轮询的终局。
type pollOutcome struct {
	filled  float64 // 本张订单累计成交量
	costUSD float64 // 本张订单累计成交额（不含费）
	done    bool    // 交易所已终结或残量可忽略
	drift   string  // 非空表示需要撤单替换的原因
}

// runLevel 单档位买入状态机：下单 → 轮询 → 超时/漂移则撤单替换，
// 替换次数有界。每张买单的成交部分在该单终局时立即挂出止盈，
// 先于任何替换买单。
func (x *execution) runLevel(ctx context.Context, lvl planner.BuyLevel) error {
	e := x.engine
	target := lvl.Price
	remainingUSD := lvl.NotionalUSD
	var totalFilled float64

	maxPlacements := e.cfg.ReplaceMaxRetries + 1
	for attempt := 1; attempt <= maxPlacements; attempt++ {
		if err := x.checkKill(); err != nil {
			return err
		}
		// 每次下单前重新量化：替换后的残量可能低于最小名义额
		q := order.Quantize(remainingUSD, target, x.cons)
		if q.Quantity <= 0 {
			break
		}

		res, err := x.placeOrder(ctx, order.SideBuy, q.Quantity, target, lvl.CorrelationID)
		if err != nil {
			return fmt.Errorf("level %d place attempt %d: %w", lvl.Level, attempt, err)
		}
		if attempt > 1 {
			e.deps.Metrics.OrdersReplaced.WithLabelValues(x.plan.TenantID, string(order.SideBuy)).Inc()
		}

		out, err := x.pollOrder(ctx, res, lvl.CorrelationID, order.SideBuy)
		totalFilled += out.filled
		remainingUSD -= out.costUSD
		if err != nil {
			x.cancelAndMark(res.ID, lvl.CorrelationID, abortReason(err))
			return err
		}
		if out.done {
			return x.flushChunk(ctx, lvl, out)
		}

		// 超时或价格漂移：撤掉旧单，已成交部分先挂止盈，残量再重下
		x.cancelAndMark(res.ID, lvl.CorrelationID, out.drift)
		if err := x.flushChunk(ctx, lvl, out); err != nil {
			return err
		}
		if attempt == maxPlacements {
			break
		}
		target, err = x.replacementPrice(ctx, order.SideBuy, target)
		if err != nil {
			return fmt.Errorf("level %d replacement price: %w", lvl.Level, err)
		}
	}

	if remainingUSD > x.cons.MinNotional*0.5 {
		x.log.LogOrder("level_incomplete", lvl.CorrelationID, "",
			zap.Int("level", lvl.Level),
			zap.Float64("remaining_usd", remainingUSD),
			zap.Float64("filled", totalFilled))
	}
	return nil
}

// flushChunk 为本张买单已成交的部分立即挂出止盈。替换买单之前，
// 已成交的持仓必须先有对应的卖单在场。
func (x *execution) flushChunk(ctx context.Context, lvl planner.BuyLevel, out pollOutcome) error {
	if out.filled <= fillEpsilon {
		return nil
	}
	return x.flushTakeProfit(ctx, lvl, out.filled, out.costUSD/out.filled)
}

// placeOrder 下单并落库；订单行先于任何成交事件存在。
func (x *execution) placeOrder(ctx context.Context, side order.Side, amount, price float64, correlationID string) (*exchange.OrderResult, error) {
	e := x.engine
	var res *exchange.OrderResult
	err := e.call(ctx, x.lim, x.rt, func() error {
		var err error
		if side == order.SideBuy {
			res, err = x.ex.CreateLimitBuyOrder(ctx, x.plan.Pair, amount, price)
		} else {
			res, err = x.ex.CreateLimitSellOrder(ctx, x.plan.Pair, amount, price)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := &order.Order{
		VenueOrderID:  res.ID,
		TenantID:      x.plan.TenantID,
		RunID:         x.plan.RunID,
		Pair:          x.plan.Pair,
		Side:          side,
		Price:         price,
		Amount:        amount,
		Filled:        0,
		Remaining:     amount,
		Status:        order.StatusPlaced,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.deps.Orders.InsertOrder(row); err != nil {
		return nil, fmt.Errorf("persist order %s: %w", res.ID, err)
	}
	x.trackOpen(res.ID, correlationID)
	e.deps.Metrics.OrdersPlaced.WithLabelValues(x.plan.TenantID, string(side)).Inc()
	x.log.LogOrder("placed", correlationID, res.ID,
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("amount", amount))
	return res, nil
}

// pollOrder 轮询一张订单到终局：成交、超时或漂移。
// 每个轮询周期都检查停机开关与行情新鲜度。
func (x *execution) pollOrder(ctx context.Context, placed *exchange.OrderResult, correlationID string, side order.Side) (pollOutcome, error) {
	e := x.engine
	out := pollOutcome{}
	placedAt := time.Now()
	var lastFilled float64

	// 下单响应本身可能已带成交（paper 模式立即全成）
	if d, err := x.absorbFill(placed, correlationID, side, &lastFilled); err != nil {
		return out, err
	} else {
		out.filled += d.amount
		out.costUSD += d.costUSD
	}
	if x.terminal(placed) {
		out.done = true
		x.settleOrder(placed, correlationID)
		e.deps.Metrics.OrderLatency.Observe(time.Since(placedAt).Seconds())
		return out, nil
	}

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-poll.C:
		}
		if err := x.checkKill(); err != nil {
			return out, err
		}

		res, err := x.fetchOrder(ctx, placed.ID)
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// 订单在交易所侧消失：带外撤销或被清理，按漂移处理
			out.drift = "not-found-at-venue"
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("poll order %s: %w", placed.ID, err)
		}

		if d, err := x.absorbFill(res, correlationID, side, &lastFilled); err != nil {
			return out, err
		} else {
			out.filled += d.amount
			out.costUSD += d.costUSD
		}

		if x.terminal(res) {
			out.done = true
			x.settleOrder(res, correlationID)
			e.deps.Metrics.OrderLatency.Observe(time.Since(placedAt).Seconds())
			return out, nil
		}

		if drift, err := x.checkDrift(ctx, res.Price); err != nil {
			return out, err
		} else if drift != "" {
			out.drift = drift
			return out, nil
		}
		if e.cfg.ReplaceTimeout > 0 && time.Since(placedAt) > e.cfg.ReplaceTimeout {
			out.drift = "timeout"
			return out, nil
		}
	}
}

type fillDelta struct {
	amount  float64
	costUSD float64
}

// absorbFill 吸收自上次轮询以来的增量成交：落成交记录、更新订单行、
// 喂熔断器、打指标。重复轮询同一快照是 no-op。
func (x *execution) absorbFill(res *exchange.OrderResult, correlationID string, side order.Side, lastFilled *float64) (fillDelta, error) {
	e := x.engine
	delta := res.Filled - *lastFilled
	if delta <= fillEpsilon {
		return fillDelta{}, nil
	}
	*lastFilled = res.Filled

	price := res.Average
	if price <= 0 {
		price = res.Price
	}
	// 费用按本次增量占比分摊
	fee := 0.0
	if res.Filled > 0 {
		fee = res.FeeCost * delta / res.Filled
	}

	f := &order.Fill{
		TenantID:      x.plan.TenantID,
		RunID:         x.plan.RunID,
		VenueOrderID:  res.ID,
		CorrelationID: correlationID,
		Side:          side,
		Price:         price,
		Amount:        delta,
		Fee:           fee,
		Timestamp:     time.Now().UTC(),
	}
	if err := e.deps.Fills.InsertFill(f); err != nil {
		return fillDelta{}, fmt.Errorf("persist fill for %s: %w", res.ID, err)
	}

	status := order.StatusPartial
	if x.terminal(res) {
		status = order.StatusClosed
	}
	filled, remaining := res.Filled, res.Remaining
	if err := e.deps.Orders.UpdateOrder(x.plan.TenantID, res.ID, order.Update{
		Status:    status,
		Filled:    &filled,
		Remaining: &remaining,
	}); err != nil {
		return fillDelta{}, err
	}

	if err := x.br.RecordFill(side, price, delta, fee); err != nil {
		return fillDelta{}, err
	}
	x.log.LogFill(correlationID, res.ID, string(side), price, delta, fee)
	e.deps.Metrics.FillsTotal.WithLabelValues(x.plan.TenantID, string(side)).Inc()
	e.deps.Metrics.FillVolumeUSD.WithLabelValues(x.plan.TenantID, string(side)).Add(price * delta)
	return fillDelta{amount: delta, costUSD: price * delta}, nil
}

// terminal 交易所终结，或残量低于半个步长（继续挂着也永远成交不了）。
func (x *execution) terminal(res *exchange.OrderResult) bool {
	if res.Closed() {
		return true
	}
	return res.Filled > 0 && res.Remaining <= x.cons.StepSize/2
}

// settleOrder 订单终局后的收尾：标记 closed、移出在途集合。
func (x *execution) settleOrder(res *exchange.OrderResult, correlationID string) {
	filled, remaining := res.Filled, res.Remaining
	_ = x.engine.deps.Orders.UpdateOrder(x.plan.TenantID, res.ID, order.Update{
		Status:    order.StatusClosed,
		Filled:    &filled,
		Remaining: &remaining,
	})
	x.untrackOpen(res.ID)
	x.log.LogOrder("closed", correlationID, res.ID,
		zap.Float64("filled", filled),
		zap.Float64("remaining", remaining))
}

// checkDrift 行情相对挂单价偏离超过阈值即判定漂移。
// 顺带刷新熔断器的行情新鲜度。
func (x *execution) checkDrift(ctx context.Context, orderPrice float64) (string, error) {
	e := x.engine
	if e.cfg.ReplaceSlippagePct <= 0 {
		return "", nil
	}
	t, err := x.fetchTicker(ctx)
	if err != nil {
		return "", fmt.Errorf("drift check ticker: %w", err)
	}
	x.br.RecordTicker(t.Timestamp, "rest", time.Since(t.Timestamp))
	if x.br.CheckStaleData() {
		return "", x.checkKill()
	}

	dev := math.Abs(t.Last-orderPrice) / orderPrice
	if dev > e.cfg.ReplaceSlippagePct {
		return fmt.Sprintf("price-drift %.4f", dev), nil
	}
	return "", nil
}

// replacementPrice 替换单定价：跟随最新行情但留半个滑点的被动余量，
// 买单压低、卖单抬高，避免替换单变成吃单。
func (x *execution) replacementPrice(ctx context.Context, side order.Side, old float64) (float64, error) {
	t, err := x.fetchTicker(ctx)
	if err != nil {
		return old, err
	}
	half := x.engine.cfg.ReplaceSlippagePct / 2
	if side == order.SideBuy {
		return t.Last * (1 - half), nil
	}
	return t.Last * (1 + half), nil
}

// cancelAndMark 撤单并把漂移原因写进订单行。撤单失败只告警：
// 订单可能已经自行终结，对账兜底。
func (x *execution) cancelAndMark(venueOrderID, correlationID, reason string) {
	e := x.engine
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.call(ctx, x.lim, x.rt, func() error {
		err := x.ex.CancelOrder(ctx, venueOrderID, x.plan.Pair)
		if errors.Is(err, exchange.ErrOrderNotFound) {
			return nil
		}
		return err
	}); err != nil {
		x.log.Warn("cancel order failed",
			zap.String("order_id", venueOrderID),
			zap.String("reason", reason),
			zap.Error(err))
	}
	dr := reason
	if err := e.deps.Orders.UpdateOrder(x.plan.TenantID, venueOrderID, order.Update{
		Status:      order.StatusCancelled,
		DriftReason: &dr,
	}); err != nil {
		x.log.Warn("mark cancelled failed", zap.String("order_id", venueOrderID), zap.Error(err))
	}
	x.untrackOpen(venueOrderID)
	e.deps.Metrics.OrdersCancelled.WithLabelValues(x.plan.TenantID, reason).Inc()
	x.log.LogDrift(correlationID, venueOrderID, reason)
}

// cancelOpenOrders run 中止时撤掉全部在途订单。
func (x *execution) cancelOpenOrders(ctx context.Context, reason string) {
	x.mu.Lock()
	ids := make(map[string]string, len(x.open))
	for id, cid := range x.open {
		ids[id] = cid
	}
	x.mu.Unlock()
	for id, cid := range ids {
		x.cancelAndMark(id, cid, reason)
	}
}

func (x *execution) fetchOrder(ctx context.Context, id string) (*exchange.OrderResult, error) {
	var res *exchange.OrderResult
	err := x.engine.call(ctx, x.lim, x.rt, func() error {
		r, err := x.ex.FetchOrder(ctx, id, x.plan.Pair)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (x *execution) fetchTicker(ctx context.Context) (*exchange.Ticker, error) {
	var t *exchange.Ticker
	err := x.engine.call(ctx, x.lim, x.rt, func() error {
		tk, err := x.ex.FetchTicker(ctx, x.plan.Pair)
		if err != nil {
			return err
		}
		t = tk
		return nil
	})
	return t, err
}

func (x *execution) checkKill() error {
	if active, reason := x.engine.deps.Kill.Active(); active {
		x.engine.deps.Metrics.KillSwitchOn.Set(1)
		return fmt.Errorf("%w: %s", ErrKillSwitch, reason)
	}
	return nil
}

func (x *execution) trackOpen(venueOrderID, correlationID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.open == nil {
		x.open = make(map[string]string)
	}
	x.open[venueOrderID] = correlationID
}

func (x *execution) untrackOpen(venueOrderID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.open, venueOrderID)
}

// recordFailure 保留首个失败；后续档位的失败不覆盖。
func (x *execution) recordFailure(err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err == nil {
		x.err = err
	}
}

func (x *execution) failure() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// abortReason 中止订单时写入的漂移原因。
func abortReason(err error) string {
	if errors.Is(err, ErrKillSwitch) {
		return "kill-switch"
	}
	return "run-aborted"
}
