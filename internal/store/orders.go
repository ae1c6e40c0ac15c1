package store

import (
	"database/sql"
	"fmt"
	"time"

	"grid-trader-go/order"
)

// InsertOrder 新建订单行。
func (s *Store) InsertOrder(o *order.Order) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO orders
		(venue_order_id, tenant_id, run_id, pair, side, price, amount, filled, remaining,
		 status, correlation_id, drift_reason, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.VenueOrderID, o.TenantID, o.RunID, o.Pair, string(o.Side), o.Price, o.Amount,
		o.Filled, o.Remaining, string(o.Status), o.CorrelationID, nullable(o.DriftReason), now, now)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.VenueOrderID, err)
	}
	return nil
}

// UpdateOrder 按 (tenant, venueOrderID) 更新状态与成交量。
func (s *Store) UpdateOrder(tenantID, venueOrderID string, u order.Update) error {
	query := "UPDATE orders SET status = ?, updated_at = ?"
	args := []interface{}{string(u.Status), time.Now().UTC()}
	if u.Filled != nil {
		query += ", filled = ?"
		args = append(args, *u.Filled)
	}
	if u.Remaining != nil {
		query += ", remaining = ?"
		args = append(args, *u.Remaining)
	}
	if u.DriftReason != nil {
		query += ", drift_reason = ?"
		args = append(args, *u.DriftReason)
	}
	query += " WHERE tenant_id = ? AND venue_order_id = ?"
	args = append(args, tenantID, venueOrderID)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", venueOrderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update order %s: no such row", venueOrderID)
	}
	return nil
}

// FindOpenOrders 返回租户仍在 open 集合（placed/partial）的订单。
func (s *Store) FindOpenOrders(tenantID string) ([]*order.Order, error) {
	rows, err := s.db.Query(`SELECT venue_order_id, tenant_id, run_id, pair, side, price,
		amount, filled, remaining, status, correlation_id, drift_reason, created_at, updated_at
		FROM orders WHERE tenant_id = ? AND status IN (?, ?) ORDER BY created_at`,
		tenantID, string(order.StatusPlaced), string(order.StatusPartial))
	if err != nil {
		return nil, fmt.Errorf("find open orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// FindOrdersForRun 返回某 run 的全部订单。
func (s *Store) FindOrdersForRun(tenantID, runID string) ([]*order.Order, error) {
	rows, err := s.db.Query(`SELECT venue_order_id, tenant_id, run_id, pair, side, price,
		amount, filled, remaining, status, correlation_id, drift_reason, created_at, updated_at
		FROM orders WHERE tenant_id = ? AND run_id = ? ORDER BY created_at`,
		tenantID, runID)
	if err != nil {
		return nil, fmt.Errorf("find orders for run: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]*order.Order, error) {
	var out []*order.Order
	for rows.Next() {
		var o order.Order
		var side, status string
		var drift sql.NullString
		if err := rows.Scan(&o.VenueOrderID, &o.TenantID, &o.RunID, &o.Pair, &side, &o.Price,
			&o.Amount, &o.Filled, &o.Remaining, &status, &o.CorrelationID, &drift,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Side = order.Side(side)
		o.Status = order.Status(status)
		o.DriftReason = drift.String
		out = append(out, &o)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
