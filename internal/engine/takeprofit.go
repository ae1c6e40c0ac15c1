package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"grid-trader-go/exchange"
	"grid-trader-go/order"
	"grid-trader-go/planner"
)

// flushTakeProfit 为一段成交量同步挂出止盈卖单，成功后转入后台监控。
// 首张卖单的下单在调用方的执行路径里完成，保证调用方在它落地之前
// 不会继续动作。run 的完成定义包含所有监控退出，engine.execute 会
// 等待 tpWG。
func (x *execution) flushTakeProfit(ctx context.Context, lvl planner.BuyLevel, amount, avgPrice float64) error {
	if x.tpPct <= 0 || amount <= fillEpsilon {
		return nil
	}
	target := avgPrice * (1 + x.tpPct)
	if amount*target < x.cons.MinNotional {
		// 残量低于最小名义额，交易所不会接受
		x.log.LogOrder("tp_residual_dropped", lvl.CorrelationID, "",
			zap.Float64("remaining", amount))
		return nil
	}
	if err := x.checkKill(); err != nil {
		return err
	}

	res, err := x.placeOrder(ctx, order.SideSell, amount, target, lvl.CorrelationID)
	if err != nil {
		if errors.Is(err, ErrKillSwitch) {
			return err
		}
		return fmt.Errorf("take-profit level %d place: %w", lvl.Level, err)
	}

	x.tpWG.Add(1)
	go func() {
		defer x.tpWG.Done()
		if err := x.monitorTakeProfit(ctx, lvl, res, amount, target); err != nil {
			x.recordFailure(err)
		}
	}()
	return nil
}

// monitorTakeProfit 止盈状态机的轮询段：首张卖单已在场，轮询到成交。
// 超时/漂移时撤单替换，替换次数有界；额度耗尽则放弃本档止盈，
// 持仓留给下一次 run 或人工处理。
func (x *execution) monitorTakeProfit(ctx context.Context, lvl planner.BuyLevel, res *exchange.OrderResult, amount, target float64) error {
	e := x.engine
	remaining := amount

	maxPlacements := e.cfg.ReplaceMaxRetries + 1
	for attempt := 1; ; attempt++ {
		out, err := x.pollOrder(ctx, res, lvl.CorrelationID, order.SideSell)
		remaining -= out.filled
		if err != nil {
			x.cancelAndMark(res.ID, lvl.CorrelationID, abortReason(err))
			return err
		}
		if out.done || remaining <= fillEpsilon {
			return nil
		}

		x.cancelAndMark(res.ID, lvl.CorrelationID, out.drift)
		if attempt == maxPlacements {
			break
		}
		target, err = x.replacementPrice(ctx, order.SideSell, target)
		if err != nil {
			return fmt.Errorf("take-profit level %d replacement price: %w", lvl.Level, err)
		}
		if err := x.checkKill(); err != nil {
			return err
		}
		if remaining*target < x.cons.MinNotional {
			x.log.LogOrder("tp_residual_dropped", lvl.CorrelationID, "",
				zap.Float64("remaining", remaining))
			return nil
		}
		res, err = x.placeOrder(ctx, order.SideSell, remaining, target, lvl.CorrelationID)
		if err != nil {
			if errors.Is(err, ErrKillSwitch) {
				return err
			}
			return fmt.Errorf("take-profit level %d place: %w", lvl.Level, err)
		}
		e.deps.Metrics.OrdersReplaced.WithLabelValues(x.plan.TenantID, string(order.SideSell)).Inc()
	}

	// 放弃：记录原因，不算 run 失败
	dr := "max-retries-exceeded"
	x.log.LogDrift(lvl.CorrelationID, "", dr)
	x.log.LogOrder("tp_abandoned", lvl.CorrelationID, "",
		zap.Int("level", lvl.Level),
		zap.Float64("unsold", remaining))
	return nil
}
