package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store 承载所有仓储；所有读写都以 tenant_id 约束，跨租户隔离在查询层保证。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）SQLite 数据库并执行建表。
// 路径可以是文件或 ":memory:"（测试用）。
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc 驱动的连接不共享内存库，串行化访问最稳妥
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close 关闭底层连接。
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT NOT NULL,
			tenant_id   TEXT NOT NULL,
			pair        TEXT NOT NULL,
			mode        TEXT NOT NULL,
			status      TEXT NOT NULL,
			grid_steps  INTEGER NOT NULL,
			grid_size   REAL NOT NULL,
			per_trade   REAL NOT NULL,
			fee_pct     REAL NOT NULL,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant_id, run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			venue_order_id TEXT NOT NULL,
			tenant_id      TEXT NOT NULL,
			run_id         TEXT NOT NULL,
			pair           TEXT NOT NULL,
			side           TEXT NOT NULL,
			price          REAL NOT NULL,
			amount         REAL NOT NULL,
			filled         REAL NOT NULL DEFAULT 0,
			remaining      REAL NOT NULL,
			status         TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			drift_reason   TEXT,
			created_at     TIMESTAMP NOT NULL,
			updated_at     TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant_id, venue_order_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_open ON orders (tenant_id, status)`,
		`CREATE TABLE IF NOT EXISTS fills (
			id             TEXT PRIMARY KEY,
			tenant_id      TEXT NOT NULL,
			run_id         TEXT NOT NULL,
			venue_order_id TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			side           TEXT NOT NULL,
			price          REAL NOT NULL,
			amount         REAL NOT NULL,
			fee            REAL NOT NULL,
			ts             TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_tenant_run ON fills (tenant_id, run_id)`,
		`CREATE TABLE IF NOT EXISTS guard_state (
			tenant_id      TEXT PRIMARY KEY,
			global_pnl     REAL NOT NULL DEFAULT 0,
			run_pnl        REAL NOT NULL DEFAULT 0,
			inventory_base REAL NOT NULL DEFAULT 0,
			inventory_cost REAL NOT NULL DEFAULT 0,
			last_ticker_ts TIMESTAMP,
			ticker_source  TEXT,
			ticker_latency INTEGER NOT NULL DEFAULT 0,
			api_errors     TEXT NOT NULL DEFAULT '[]',
			updated_at     TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
