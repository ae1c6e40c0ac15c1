package order

import (
	"math"
	"testing"
)

func TestQuantizeRoundsDownToStep(t *testing.T) {
	c := SymbolConstraints{StepSize: 0.001, PrecisionDecimals: 3, MinNotional: 5}
	q := Quantize(100, 30000, c)
	// 100/30000 = 0.00333... -> 3 units -> 0.003
	if q.Quantity != 0.003 {
		t.Fatalf("expected 0.003, got %.8f", q.Quantity)
	}
	if !q.Adjusted {
		t.Fatalf("expected adjustment flag")
	}
	if q.NotionalUSD < c.MinNotional {
		t.Fatalf("notional %.4f below min", q.NotionalUSD)
	}
}

func TestQuantizeBumpsBelowOneUnit(t *testing.T) {
	c := SymbolConstraints{StepSize: 0.001, PrecisionDecimals: 3, MinNotional: 0}
	q := Quantize(10, 30000, c)
	// 10/30000 = 0.00033 -> 不足一个单位，抬到 0.001
	if q.Quantity != 0.001 {
		t.Fatalf("expected one step unit, got %.8f", q.Quantity)
	}
	if !q.Adjusted {
		t.Fatalf("expected adjustment flag")
	}
}

func TestQuantizeMinNotionalBump(t *testing.T) {
	c := SymbolConstraints{StepSize: 0.001, PrecisionDecimals: 3, MinNotional: 50}
	q := Quantize(10, 30000, c)
	// 一个单位名义 30 仍低于 50，需要 2 个单位
	if q.Quantity != 0.002 {
		t.Fatalf("expected 0.002, got %.8f", q.Quantity)
	}
	if q.Quantity*30000 < 50 {
		t.Fatalf("min notional violated: %.4f", q.Quantity*30000)
	}
}

func TestQuantizeNoAdjustmentForAlignedInput(t *testing.T) {
	c := SymbolConstraints{StepSize: 0.01, PrecisionDecimals: 2, MinNotional: 5}
	q := Quantize(50, 100, c)
	if q.Adjusted {
		t.Fatalf("unexpected adjustment: %+v", q)
	}
	if q.Quantity != 0.5 {
		t.Fatalf("expected 0.5, got %.8f", q.Quantity)
	}
}

func TestQuantizeIdempotent(t *testing.T) {
	cases := []struct {
		notional, price float64
		c               SymbolConstraints
	}{
		{100, 30000, SymbolConstraints{StepSize: 0.001, PrecisionDecimals: 3, MinNotional: 5}},
		{10, 30000, SymbolConstraints{StepSize: 0.001, PrecisionDecimals: 3, MinNotional: 50}},
		{7.3, 2000, SymbolConstraints{StepSize: 0.01, PrecisionDecimals: 2, MinNotional: 10}},
		{500, 0.5, SymbolConstraints{StepSize: 1, PrecisionDecimals: 0, MinNotional: 1}},
	}
	for i, tc := range cases {
		first := Quantize(tc.notional, tc.price, tc.c)
		second := Quantize(first.NotionalUSD, tc.price, tc.c)
		if second.Adjusted {
			t.Fatalf("case %d: re-quantize adjusted again: %+v", i, second)
		}
		if math.Abs(second.Quantity-first.Quantity) > 1e-9 {
			t.Fatalf("case %d: quantity drifted %.10f -> %.10f", i, first.Quantity, second.Quantity)
		}
	}
}

func TestQuantizeZeroInputs(t *testing.T) {
	c := SymbolConstraints{StepSize: 0.001, PrecisionDecimals: 3}
	if q := Quantize(0, 100, c); q.Quantity != 0 {
		t.Fatalf("expected zero quantity for zero notional")
	}
	if q := Quantize(100, 0, c); q.Quantity != 0 {
		t.Fatalf("expected zero quantity for zero price")
	}
}
