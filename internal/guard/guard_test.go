package guard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/order"
)

type memRepo struct {
	st    *State
	saves int
}

func (m *memRepo) LoadGuardState(tenantID string) (*State, error) {
	if m.st == nil {
		return nil, nil
	}
	cp := *m.st
	return &cp, nil
}

func (m *memRepo) SaveGuardState(st *State) error {
	cp := *st
	m.st = &cp
	m.saves++
	return nil
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time            { return f.now }
func (f *fakeClock) advance(d time.Duration)   { f.now = f.now.Add(d) }

func newBreaker(t *testing.T, cfg Config) (*CircuitBreaker, *memRepo, *KillSwitch, *fakeClock) {
	t.Helper()
	kill := NewKillSwitch()
	b := NewCircuitBreaker("t1", cfg, kill, nil, nil)
	clk := &fakeClock{now: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)}
	b.SetClock(clk)
	repo := &memRepo{}
	require.NoError(t, b.Initialize(repo))
	return b, repo, kill, clk
}

func TestInitializeIdempotent(t *testing.T) {
	kill := NewKillSwitch()
	b := NewCircuitBreaker("t1", Config{}, kill, nil, nil)
	repo := &memRepo{st: &State{TenantID: "t1", GlobalPnlUSD: 42}}
	require.NoError(t, b.Initialize(repo))
	require.NoError(t, b.Initialize(repo))
	assert.Equal(t, 42.0, b.Snapshot().GlobalPnlUSD)
}

func TestRecordFillBuySellRoundTrip(t *testing.T) {
	b, _, _, _ := newBreaker(t, Config{})
	require.NoError(t, b.RecordFill(order.SideBuy, 100, 2, 0.2))
	st := b.Snapshot()
	assert.InDelta(t, 2, st.InventoryBase, 1e-9)
	assert.InDelta(t, 200.2, st.InventoryCost, 1e-9)

	// 以 110 卖出 1：avgCost 100.1，pnl = 9.9 - 0.1 fee
	require.NoError(t, b.RecordFill(order.SideSell, 110, 1, 0.1))
	st = b.Snapshot()
	assert.InDelta(t, 9.8, st.GlobalPnlUSD, 1e-9)
	assert.InDelta(t, 1, st.InventoryBase, 1e-9)
	assert.InDelta(t, 100.1, st.InventoryCost, 1e-9)
}

func TestInventoryCostZeroWhenFlat(t *testing.T) {
	b, _, _, _ := newBreaker(t, Config{})
	require.NoError(t, b.RecordFill(order.SideBuy, 100, 1.5, 0.3))
	require.NoError(t, b.RecordFill(order.SideSell, 101, 0.5, 0.1))
	require.NoError(t, b.RecordFill(order.SideSell, 99, 1.0, 0.1))
	st := b.Snapshot()
	assert.Zero(t, st.InventoryBase)
	assert.Zero(t, st.InventoryCost)
}

func TestSellWithNoInventoryIsNoop(t *testing.T) {
	b, repo, _, _ := newBreaker(t, Config{})
	saves := repo.saves
	require.NoError(t, b.RecordFill(order.SideSell, 100, 1, 0.1))
	st := b.Snapshot()
	assert.Zero(t, st.GlobalPnlUSD)
	assert.Zero(t, st.InventoryBase)
	assert.Equal(t, saves, repo.saves, "no-op sell must not persist")
}

func TestAPIErrorStormTripsKillSwitch(t *testing.T) {
	b, _, kill, clk := newBreaker(t, Config{MaxAPIErrorsPerMin: 10})
	for i := 0; i < 10; i++ {
		b.RecordAPIError("network")
		clk.advance(time.Second)
	}
	active, reason := kill.Active()
	require.True(t, active)
	assert.Contains(t, reason, "API error rate exceeded")
}

func TestAPIErrorWindowPrunes(t *testing.T) {
	b, _, kill, clk := newBreaker(t, Config{MaxAPIErrorsPerMin: 10})
	for i := 0; i < 9; i++ {
		b.RecordAPIError("network")
	}
	clk.advance(2 * time.Minute)
	b.RecordAPIError("network")
	active, _ := kill.Active()
	assert.False(t, active, "stale errors must be pruned from the window")
	assert.Len(t, b.Snapshot().APIErrors, 1)
}

func TestStaleDataTripsKillSwitch(t *testing.T) {
	b, _, kill, clk := newBreaker(t, Config{StaleAfter: 30 * time.Second})
	b.RecordTicker(clk.Now(), "ws", 5*time.Millisecond)
	assert.False(t, b.CheckStaleData())

	clk.advance(31 * time.Second)
	assert.True(t, b.CheckStaleData())
	active, reason := kill.Active()
	require.True(t, active)
	assert.Contains(t, reason, "stale")
}

func TestGlobalDrawdownTrip(t *testing.T) {
	b, _, kill, _ := newBreaker(t, Config{MaxGlobalDrawdownUSD: 50})
	require.NoError(t, b.RecordFill(order.SideBuy, 100, 1, 0))
	require.NoError(t, b.RecordFill(order.SideSell, 40, 1, 0))
	active, reason := kill.Active()
	require.True(t, active)
	assert.Contains(t, reason, "global drawdown")
}

func TestTripIsIdempotentFirstReasonWins(t *testing.T) {
	kill := NewKillSwitch()
	assert.True(t, kill.Activate("first"))
	assert.False(t, kill.Activate("second"))
	_, reason := kill.Active()
	assert.Equal(t, "first", reason)

	kill.Reset()
	active, _ := kill.Active()
	assert.False(t, active)
}

func TestResetRunKeepsGlobalState(t *testing.T) {
	b, _, _, _ := newBreaker(t, Config{})
	require.NoError(t, b.RecordFill(order.SideBuy, 100, 1, 0))
	require.NoError(t, b.RecordFill(order.SideSell, 120, 1, 0))
	require.NoError(t, b.ResetRun())
	st := b.Snapshot()
	assert.Zero(t, st.RunPnlUSD)
	assert.InDelta(t, 20, st.GlobalPnlUSD, 1e-9)
}

func TestRegistryReturnsSameBreaker(t *testing.T) {
	r := NewRegistry(Config{}, NewKillSwitch(), nil, nil)
	a := r.ForTenant("t1")
	bb := r.ForTenant("t1")
	if a != bb {
		t.Fatalf("expected same breaker instance per tenant")
	}
	if r.ForTenant("t2") == a {
		t.Fatalf("tenants must not share breakers")
	}
	if len(r.Tenants()) != 2 {
		t.Fatalf("expected 2 tenants")
	}
}

func TestStaleReasonCase(t *testing.T) {
	// reason 文案包含 "Market data stale"
	b, _, kill, clk := newBreaker(t, Config{StaleAfter: time.Second})
	b.RecordTicker(clk.Now(), "ws", 0)
	clk.advance(2 * time.Second)
	b.CheckStaleData()
	_, reason := kill.Active()
	if !strings.Contains(reason, "Market data stale") {
		t.Fatalf("unexpected reason: %q", reason)
	}
}
