package store

import (
	"fmt"
	"time"

	"grid-trader-go/order"
	"grid-trader-go/planner"
)

// CreateRun 落一行 run 记录；summary 模式下这是唯一的副作用。
func (s *Store) CreateRun(plan *planner.GridPlan, status order.RunStatus) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO runs
		(run_id, tenant_id, pair, mode, status, grid_steps, grid_size, per_trade, fee_pct, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (tenant_id, run_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		plan.RunID, plan.TenantID, plan.Pair, string(plan.Mode), string(status),
		plan.GridSteps, plan.GridSizePct, plan.PerTradeUSD, plan.FeePct, now, now)
	if err != nil {
		return fmt.Errorf("create run %s: %w", plan.RunID, err)
	}
	return nil
}

// UpdateRunStatus 更新 run 状态。
func (s *Store) UpdateRunStatus(tenantID, runID string, status order.RunStatus) error {
	res, err := s.db.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE tenant_id = ? AND run_id = ?`,
		string(status), time.Now().UTC(), tenantID, runID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: no such row", runID)
	}
	return nil
}

// RunStatus 查询 run 当前状态。
func (s *Store) RunStatus(tenantID, runID string) (order.RunStatus, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM runs WHERE tenant_id = ? AND run_id = ?`,
		tenantID, runID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("run status %s: %w", runID, err)
	}
	return order.RunStatus(status), nil
}
