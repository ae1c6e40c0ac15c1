package planner

import (
	"strings"
	"testing"

	"grid-trader-go/order"
)

func baseInput(mode RunMode) Input {
	return Input{
		TenantID:    "t1",
		Pair:        "BTC/USDT",
		Mode:        mode,
		MidPrice:    30000,
		GridSteps:   5,
		GridSizePct: 0.01,
		PerTradeUSD: 100,
		FeePct:      0.001,
		Constraints: order.SymbolConstraints{StepSize: 0.0001, PrecisionDecimals: 4, MinNotional: 10},
	}
}

func TestPlanLevelsBelowMid(t *testing.T) {
	plan, err := Plan(baseInput(ModePaper))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Levels) != 5 {
		t.Fatalf("expected 5 levels, got %d", len(plan.Levels))
	}
	prev := plan.Levels[0].Price
	if prev >= 30000 {
		t.Fatalf("level 1 not below mid: %.2f", prev)
	}
	for _, lvl := range plan.Levels[1:] {
		if lvl.Price >= prev {
			t.Fatalf("levels not descending: %.2f >= %.2f", lvl.Price, prev)
		}
		prev = lvl.Price
	}
}

func TestPlanRunIDDeterministicInPaperMode(t *testing.T) {
	a, err := Plan(baseInput(ModePaper))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Plan(baseInput(ModePaper))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.RunID != b.RunID {
		t.Fatalf("paper run ids differ: %s vs %s", a.RunID, b.RunID)
	}
}

func TestPlanRunIDRandomInLiveMode(t *testing.T) {
	a, _ := Plan(baseInput(ModeLive))
	b, _ := Plan(baseInput(ModeLive))
	if a.RunID == b.RunID {
		t.Fatalf("live run ids must differ")
	}
}

func TestPlanCorrelationIDs(t *testing.T) {
	plan, _ := Plan(baseInput(ModePaper))
	for _, lvl := range plan.Levels {
		if !strings.HasPrefix(lvl.CorrelationID, plan.RunID+"-lvl") {
			t.Fatalf("correlation id %s missing run prefix", lvl.CorrelationID)
		}
	}
	if plan.Levels[0].CorrelationID != plan.RunID+"-lvl01" {
		t.Fatalf("unexpected correlation id: %s", plan.Levels[0].CorrelationID)
	}
}

func TestPlanSkipsZeroQuantityLevels(t *testing.T) {
	in := baseInput(ModePaper)
	in.GridSizePct = 0.3 // 第4档起价格为负
	plan, err := Plan(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Levels) >= in.GridSteps {
		t.Fatalf("expected skipped levels, got %d", len(plan.Levels))
	}
	for _, lvl := range plan.Levels {
		if lvl.Quantity <= 0 {
			t.Fatalf("zero-quantity level included: %+v", lvl)
		}
	}
}

func TestPlanRejectsInvalidInput(t *testing.T) {
	in := baseInput(ModePaper)
	in.MidPrice = 0
	if _, err := Plan(in); err == nil {
		t.Fatalf("expected error for zero mid price")
	}
}
