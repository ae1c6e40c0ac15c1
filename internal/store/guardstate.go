package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"grid-trader-go/internal/guard"
)

// LoadGuardState 按租户读取守护状态；不存在返回 (nil, nil)。
func (s *Store) LoadGuardState(tenantID string) (*guard.State, error) {
	var st guard.State
	var tickerTs sql.NullTime
	var source sql.NullString
	var latencyNs int64
	var apiErrors string
	err := s.db.QueryRow(`SELECT tenant_id, global_pnl, run_pnl, inventory_base, inventory_cost,
		last_ticker_ts, ticker_source, ticker_latency, api_errors, updated_at
		FROM guard_state WHERE tenant_id = ?`, tenantID).Scan(
		&st.TenantID, &st.GlobalPnlUSD, &st.RunPnlUSD, &st.InventoryBase, &st.InventoryCost,
		&tickerTs, &source, &latencyNs, &apiErrors, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load guard state: %w", err)
	}
	if tickerTs.Valid {
		st.LastTickerTs = tickerTs.Time
	}
	st.TickerSource = source.String
	st.TickerLatency = time.Duration(latencyNs)
	if err := json.Unmarshal([]byte(apiErrors), &st.APIErrors); err != nil {
		return nil, fmt.Errorf("decode api error window: %w", err)
	}
	return &st, nil
}

// SaveGuardState 整行 upsert。
func (s *Store) SaveGuardState(st *guard.State) error {
	window, err := json.Marshal(st.APIErrors)
	if err != nil {
		return fmt.Errorf("encode api error window: %w", err)
	}
	var tickerTs interface{}
	if !st.LastTickerTs.IsZero() {
		tickerTs = st.LastTickerTs
	}
	_, err = s.db.Exec(`INSERT INTO guard_state
		(tenant_id, global_pnl, run_pnl, inventory_base, inventory_cost,
		 last_ticker_ts, ticker_source, ticker_latency, api_errors, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			global_pnl = excluded.global_pnl,
			run_pnl = excluded.run_pnl,
			inventory_base = excluded.inventory_base,
			inventory_cost = excluded.inventory_cost,
			last_ticker_ts = excluded.last_ticker_ts,
			ticker_source = excluded.ticker_source,
			ticker_latency = excluded.ticker_latency,
			api_errors = excluded.api_errors,
			updated_at = excluded.updated_at`,
		st.TenantID, st.GlobalPnlUSD, st.RunPnlUSD, st.InventoryBase, st.InventoryCost,
		tickerTs, st.TickerSource, int64(st.TickerLatency), string(window), st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save guard state: %w", err)
	}
	return nil
}
