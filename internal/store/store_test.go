package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/internal/guard"
	"grid-trader-go/order"
	"grid-trader-go/planner"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleOrder(tenant, run, id string) *order.Order {
	return &order.Order{
		VenueOrderID:  id,
		TenantID:      tenant,
		RunID:         run,
		Pair:          "BTC/USDT",
		Side:          order.SideBuy,
		Price:         30000,
		Amount:        0.01,
		Remaining:     0.01,
		Status:        order.StatusPlaced,
		CorrelationID: run + "-lvl01",
	}
}

func TestOrderLifecycle(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertOrder(sampleOrder("t1", "r1", "o1")))

	filled := 0.004
	remaining := 0.006
	require.NoError(t, s.UpdateOrder("t1", "o1", order.Update{
		Status:    order.StatusPartial,
		Filled:    &filled,
		Remaining: &remaining,
	}))

	open, err := s.FindOpenOrders("t1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, order.StatusPartial, open[0].Status)
	assert.InDelta(t, 0.004, open[0].Filled, 1e-12)

	drift := "timeout"
	require.NoError(t, s.UpdateOrder("t1", "o1", order.Update{
		Status:      order.StatusCancelled,
		DriftReason: &drift,
	}))
	open, err = s.FindOpenOrders("t1")
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := s.FindOrdersForRun("t1", "r1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "timeout", all[0].DriftReason)
	// 取消不回改已成交量
	assert.InDelta(t, 0.004, all[0].Filled, 1e-12)
}

func TestTenantIsolation(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertOrder(sampleOrder("t1", "r1", "o1")))
	require.NoError(t, s.InsertOrder(sampleOrder("t2", "r9", "o9")))

	open, err := s.FindOpenOrders("t1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "o1", open[0].VenueOrderID)

	// 不能用别的租户更新
	filled := 1.0
	err = s.UpdateOrder("t1", "o9", order.Update{Status: order.StatusClosed, Filled: &filled})
	assert.Error(t, err)
}

func TestUpdateUnknownOrderFails(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateOrder("t1", "missing", order.Update{Status: order.StatusClosed})
	assert.Error(t, err)
}

func TestRunRows(t *testing.T) {
	s := openTestStore(t)
	plan := &planner.GridPlan{
		RunID: "r1", TenantID: "t1", Pair: "BTC/USDT", Mode: planner.ModePaper,
		GridSteps: 5, GridSizePct: 0.01, PerTradeUSD: 100, FeePct: 0.001,
	}
	require.NoError(t, s.CreateRun(plan, order.RunPlanned))
	require.NoError(t, s.UpdateRunStatus("t1", "r1", order.RunCompleted))
	st, err := s.RunStatus("t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, order.RunCompleted, st)
}

func TestRecentTradePnLReplaysLedger(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	fills := []*order.Fill{
		{TenantID: "t1", RunID: "r1", VenueOrderID: "o1", CorrelationID: "c1",
			Side: order.SideBuy, Price: 100, Amount: 1, Fee: 0, Timestamp: base},
		{TenantID: "t1", RunID: "r1", VenueOrderID: "o2", CorrelationID: "c1",
			Side: order.SideSell, Price: 110, Amount: 1, Fee: 1, Timestamp: base.Add(time.Minute)},
		{TenantID: "t1", RunID: "r1", VenueOrderID: "o3", CorrelationID: "c2",
			Side: order.SideBuy, Price: 200, Amount: 1, Fee: 0, Timestamp: base.Add(2 * time.Minute)},
		{TenantID: "t1", RunID: "r1", VenueOrderID: "o4", CorrelationID: "c2",
			Side: order.SideSell, Price: 190, Amount: 1, Fee: 0, Timestamp: base.Add(3 * time.Minute)},
	}
	for _, f := range fills {
		require.NoError(t, s.InsertFill(f))
	}

	pnls, err := s.RecentTradePnL("t1", 10)
	require.NoError(t, err)
	require.Len(t, pnls, 2)
	assert.InDelta(t, 9, pnls[0], 1e-9)   // (110-100)*1 - 1
	assert.InDelta(t, -10, pnls[1], 1e-9) // (190-200)*1

	limited, err := s.RecentTradePnL("t1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.InDelta(t, -10, limited[0], 1e-9)
}

func TestGuardStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	missing, err := s.LoadGuardState("t1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st := &guard.State{
		TenantID:      "t1",
		GlobalPnlUSD:  12.5,
		RunPnlUSD:     -3,
		InventoryBase: 0.5,
		InventoryCost: 15000,
		LastTickerTs:  now,
		TickerSource:  "ws",
		TickerLatency: 12 * time.Millisecond,
		APIErrors:     []time.Time{now.Add(-10 * time.Second)},
		UpdatedAt:     now,
	}
	require.NoError(t, s.SaveGuardState(st))

	got, err := s.LoadGuardState("t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 12.5, got.GlobalPnlUSD, 1e-9)
	assert.InDelta(t, 0.5, got.InventoryBase, 1e-9)
	assert.Equal(t, "ws", got.TickerSource)
	assert.Equal(t, 12*time.Millisecond, got.TickerLatency)
	require.Len(t, got.APIErrors, 1)

	// upsert 覆盖
	st.GlobalPnlUSD = 20
	require.NoError(t, s.SaveGuardState(st))
	got, err = s.LoadGuardState("t1")
	require.NoError(t, err)
	assert.InDelta(t, 20, got.GlobalPnlUSD, 1e-9)
}
