package order

import (
	"fmt"
	"math"
)

// SymbolConstraints 描述交易对的步长与名义限制（来自 exchangeInfo）。
type SymbolConstraints struct {
	StepSize          float64
	PrecisionDecimals int
	MinNotional       float64
}

// Quantized 量化结果：最终名义、数量与是否发生调整。
type Quantized struct {
	NotionalUSD float64
	Quantity    float64
	Adjusted    bool
	Reason      string
}

const qtyEpsilon = 1e-9

// Quantize 把目标名义金额换算成符合交易所步长/最小名义的下单数量。
// 纯函数，相同输入必须产生相同输出；规划与每次实际下单都走这里（价格逐档不同需重算）。
func Quantize(notionalUSD, price float64, c SymbolConstraints) Quantized {
	if notionalUSD <= 0 || price <= 0 || c.StepSize <= 0 {
		return Quantized{}
	}

	rawQty := notionalUSD / price
	units := math.Floor(rawQty/c.StepSize + qtyEpsilon)

	var qty float64
	switch {
	case units < 1:
		// 不足一个步长单位：先抬到一个单位，仍低于最小名义再抬到满足的最小单位数。
		qty = roundTo(c.StepSize, c.PrecisionDecimals)
		if c.MinNotional > 0 && qty*price < c.MinNotional-qtyEpsilon {
			qty = minNotionalQty(price, c)
		}
	default:
		qty = roundTo(units*c.StepSize, c.PrecisionDecimals)
		if c.MinNotional > 0 && qty*price < c.MinNotional-qtyEpsilon {
			qty = minNotionalQty(price, c)
		}
	}

	out := Quantized{
		NotionalUSD: qty * price,
		Quantity:    qty,
	}
	if math.Abs(qty-rawQty) > qtyEpsilon*math.Max(1, rawQty) {
		out.Adjusted = true
		if qty > rawQty {
			out.Reason = fmt.Sprintf("bumped to meet exchange minimum (%.8f -> %.8f)", rawQty, qty)
		} else {
			out.Reason = fmt.Sprintf("rounded down to step size (%.8f -> %.8f)", rawQty, qty)
		}
	}
	return out
}

// minNotionalQty 满足最小名义的最小步长单位数对应的数量。
func minNotionalQty(price float64, c SymbolConstraints) float64 {
	units := math.Ceil(c.MinNotional/(price*c.StepSize) - qtyEpsilon)
	if units < 1 {
		units = 1
	}
	return roundTo(units*c.StepSize, c.PrecisionDecimals)
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
