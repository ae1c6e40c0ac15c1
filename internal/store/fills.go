package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"grid-trader-go/order"
)

// InsertFill 追加一条成交记录。fills 表只增不改，是盈亏重算的事实来源。
func (s *Store) InsertFill(f *order.Fill) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO fills
		(id, tenant_id, run_id, venue_order_id, correlation_id, side, price, amount, fee, ts)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.TenantID, f.RunID, f.VenueOrderID, f.CorrelationID, string(f.Side),
		f.Price, f.Amount, f.Fee, f.Timestamp)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// FillsForRun 返回某 run 的全部成交。
func (s *Store) FillsForRun(tenantID, runID string) ([]*order.Fill, error) {
	rows, err := s.db.Query(`SELECT id, tenant_id, run_id, venue_order_id, correlation_id,
		side, price, amount, fee, ts FROM fills
		WHERE tenant_id = ? AND run_id = ? ORDER BY ts`, tenantID, runID)
	if err != nil {
		return nil, fmt.Errorf("fills for run: %w", err)
	}
	defer rows.Close()

	var out []*order.Fill
	for rows.Next() {
		var f order.Fill
		var side string
		if err := rows.Scan(&f.ID, &f.TenantID, &f.RunID, &f.VenueOrderID, &f.CorrelationID,
			&side, &f.Price, &f.Amount, &f.Fee, &f.Timestamp); err != nil {
			return nil, err
		}
		f.Side = order.Side(side)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// RecentTradePnL 从成交账本重算最近 limit 笔卖出侧已实现盈亏（Kelly 输入）。
// 按时间回放 buy/sell，与熔断器的成本均价口径一致。
func (s *Store) RecentTradePnL(tenantID string, limit int) ([]float64, error) {
	rows, err := s.db.Query(`SELECT side, price, amount, fee FROM fills
		WHERE tenant_id = ? ORDER BY ts`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("recent pnl: %w", err)
	}
	defer rows.Close()

	var base, cost float64
	var pnls []float64
	for rows.Next() {
		var side string
		var price, amount, fee float64
		if err := rows.Scan(&side, &price, &amount, &fee); err != nil {
			return nil, err
		}
		switch order.Side(side) {
		case order.SideBuy:
			base += amount
			cost += price*amount + fee
		case order.SideSell:
			if base <= 0 {
				continue
			}
			if amount > base {
				amount = base
			}
			avg := cost / base
			pnls = append(pnls, (price-avg)*amount-fee)
			cost -= cost * (amount / base)
			base -= amount
			if base <= 1e-12 {
				base, cost = 0, 0
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(pnls) > limit {
		pnls = pnls[len(pnls)-limit:]
	}
	return pnls, nil
}
