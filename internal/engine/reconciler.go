package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/exchange"
	"grid-trader-go/internal/guard"
	"grid-trader-go/order"
)

// ReconcileReport 一次对账的结果摘要。
type ReconcileReport struct {
	TenantID   string
	Checked    int // 对账的在途订单数
	Settled    int // 交易所侧已终结、本地补记的订单数
	Backfilled int // 补记的成交笔数
	Missing    int // 交易所查无此单的订单数
}

// Reconcile 启动对账：把本地认为在途的订单与交易所真实状态对齐。
// 进程崩溃时轮询循环死了但交易所的订单还活着，不对账就开新仓
// 会让同一资金被占用两次。
func (e *Engine) Reconcile(ctx context.Context, tenantID string) (*ReconcileReport, error) {
	rep := &ReconcileReport{TenantID: tenantID}

	open, err := e.deps.Orders.FindOpenOrders(tenantID)
	if err != nil {
		return nil, fmt.Errorf("load open orders: %w", err)
	}
	if len(open) == 0 {
		return rep, nil
	}

	br := e.deps.Guards.ForTenant(tenantID)
	if e.deps.GuardRepo != nil {
		if err := br.Initialize(e.deps.GuardRepo); err != nil {
			return nil, err
		}
	}
	lim := e.deps.Limiters.ForTenant(tenantID)
	rt := e.retrier(tenantID, br)

	for _, o := range open {
		rep.Checked++
		var res *exchange.OrderResult
		fetchErr := e.call(ctx, lim, rt, func() error {
			r, err := e.deps.Exchange.FetchOrder(ctx, o.VenueOrderID, o.Pair)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
		if errors.Is(fetchErr, exchange.ErrOrderNotFound) {
			// 查无此单：只把交易所的原话记成漂移原因，状态和数量
			// 保持本地最后所知，不替它编造一个终局
			rep.Missing++
			dr := fetchErr.Error()
			if err := e.deps.Orders.UpdateOrder(tenantID, o.VenueOrderID, order.Update{
				Status:      o.Status,
				DriftReason: &dr,
			}); err != nil {
				return rep, err
			}
			e.deps.Logger.LogDrift(o.CorrelationID, o.VenueOrderID, dr)
			continue
		}
		if fetchErr != nil {
			return rep, fmt.Errorf("reconcile order %s: %w", o.VenueOrderID, fetchErr)
		}

		if err := e.reconcileOne(o, res, br, rep); err != nil {
			return rep, err
		}
	}

	e.deps.Logger.Info("reconcile complete",
		zap.String("tenant_id", tenantID),
		zap.Int("checked", rep.Checked),
		zap.Int("settled", rep.Settled),
		zap.Int("backfilled", rep.Backfilled),
		zap.Int("missing", rep.Missing))
	return rep, nil
}

// reconcileOne 对齐单张订单：补记崩溃期间发生的成交，再按交易所
// 状态更新本地行。
func (e *Engine) reconcileOne(o *order.Order, res *exchange.OrderResult, br *guard.CircuitBreaker, rep *ReconcileReport) error {
	if delta := res.Filled - o.Filled; delta > fillEpsilon {
		price := res.Average
		if price <= 0 {
			price = res.Price
		}
		fee := 0.0
		if res.Filled > 0 {
			fee = res.FeeCost * delta / res.Filled
		}
		f := &order.Fill{
			TenantID:      o.TenantID,
			RunID:         o.RunID,
			VenueOrderID:  o.VenueOrderID,
			CorrelationID: o.CorrelationID,
			Side:          o.Side,
			Price:         price,
			Amount:        delta,
			Fee:           fee,
			Timestamp:     time.Now().UTC(),
		}
		if err := e.deps.Fills.InsertFill(f); err != nil {
			return fmt.Errorf("backfill fill for %s: %w", o.VenueOrderID, err)
		}
		if err := br.RecordFill(o.Side, price, delta, fee); err != nil {
			return err
		}
		e.deps.Logger.LogFill(o.CorrelationID, o.VenueOrderID, string(o.Side), price, delta, fee)
		rep.Backfilled++
	}

	status := o.Status
	switch {
	case res.Closed():
		status = order.StatusClosed
		rep.Settled++
	case res.Filled > fillEpsilon:
		status = order.StatusPartial
	default:
		status = order.StatusPlaced
	}
	filled, remaining := res.Filled, res.Remaining
	return e.deps.Orders.UpdateOrder(o.TenantID, o.VenueOrderID, order.Update{
		Status:    status,
		Filled:    &filled,
		Remaining: &remaining,
	})
}
