package risk

import (
	"fmt"
	"math"
)

// Engine 对规划结果做组合级风控：只会缩量或拒绝，从不放大。
type Engine struct {
	cfg Config
}

// NewEngine 创建风控引擎。
func NewEngine(cfg Config) *Engine {
	if cfg.KellyCapFraction <= 0 {
		cfg.KellyCapFraction = 0.25
	}
	return &Engine{cfg: cfg}
}

// Evaluate 依次应用六个约束，每步只能下调 perTradeUSD 并累积说明。
func (e *Engine) Evaluate(in Input) Evaluation {
	ev := Evaluation{
		Approved:      true,
		PerTradeUSD:   in.PerTradeUSD,
		GridSizePct:   in.GridSizePct,
		TakeProfitPct: in.TakeProfitPct,
	}
	if in.GridSteps <= 0 || in.PerTradeUSD <= 0 {
		return e.block(ev, "invalid sizing input")
	}

	// 1. Sector 敞口
	if !e.applyGroupLimit(&ev, in, e.cfg.Sectors, e.cfg.SectorLimitFraction, "sector") {
		return e.block(ev, "sector exposure limit exceeded")
	}

	// 2. 相关性组敞口
	if !e.applyGroupLimit(&ev, in, e.cfg.CorrGroups, e.cfg.CorrLimitFraction, "correlation group") {
		return e.block(ev, "correlation group exposure limit exceeded")
	}

	// 3. Value-at-Risk
	e.applyVaR(&ev, in)

	// 4. 压力场景
	e.applyStress(&ev, in)

	// 5. 回撤防御
	e.applyDrawdownDefense(&ev, in)

	// 6. Kelly 只收紧不放松
	e.applyKelly(&ev, in)

	// 终值收敛
	if ev.PerTradeUSD < e.cfg.MinPerTradeUSD*0.4 {
		return e.block(ev, fmt.Sprintf("per-trade notional %.2f below viable floor", ev.PerTradeUSD))
	}
	ev.PerTradeUSD = clamp(ev.PerTradeUSD, e.cfg.MinPerTradeUSD*0.25, e.cfg.MaxPerTradeUSD)
	return ev
}

func (e *Engine) block(ev Evaluation, reason string) Evaluation {
	ev.Approved = false
	ev.BlockedReason = reason
	return ev
}

// applyGroupLimit sector/相关性组共用的逻辑：超限时把计划敞口压到剩余额度。
// 返回 false 表示压缩后低于可执行下限，应整体拒绝。
func (e *Engine) applyGroupLimit(ev *Evaluation, in Input, groups map[string]string, limitFraction float64, label string) bool {
	if limitFraction <= 0 || len(groups) == 0 {
		return true
	}
	group, ok := groups[in.Asset]
	if !ok {
		return true
	}

	existing := 0.0
	for asset, exp := range in.CurrentExposure {
		if groups[asset] == group {
			existing += math.Abs(exp)
		}
	}
	planned := ev.PerTradeUSD * float64(in.GridSteps)
	limit := limitFraction * in.BankrollUSD
	if existing+planned <= limit {
		return true
	}

	headroom := limit - existing
	if headroom < 0 {
		headroom = 0
	}
	scaled := headroom / float64(in.GridSteps)
	ev.Messages = append(ev.Messages, fmt.Sprintf(
		"%s %q at %.0f/%.0f USD, per-trade scaled %.2f -> %.2f",
		label, group, existing+planned, limit, ev.PerTradeUSD, scaled))
	ev.PerTradeUSD = scaled
	return scaled >= e.cfg.MinPerTradeUSD*0.5
}

func (e *Engine) applyVaR(ev *Evaluation, in Input) {
	if e.cfg.VaRCeilingUSD <= 0 || in.Volatility <= 0 {
		return
	}
	exposure := math.Abs(ev.PerTradeUSD * float64(in.GridSteps))
	ev.VaRUSD = exposure * zScore(e.cfg.VaRConfidence) * in.Volatility
	if ev.VaRUSD <= e.cfg.VaRCeilingUSD {
		return
	}
	factor := clamp(e.cfg.VaRCeilingUSD/ev.VaRUSD, 0.2, 1)
	ev.Messages = append(ev.Messages, fmt.Sprintf(
		"VaR %.2f over ceiling %.2f, scaling by %.2f", ev.VaRUSD, e.cfg.VaRCeilingUSD, factor))
	ev.PerTradeUSD *= factor
}

func (e *Engine) applyStress(ev *Evaluation, in Input) {
	worstRatio := 1.0
	violated := false
	for _, sc := range e.cfg.Scenarios {
		exposure := math.Abs(ev.PerTradeUSD * float64(in.GridSteps))
		loss := exposure * sc.ShockPct
		if loss > ev.MaxStressLoss {
			ev.MaxStressLoss = loss
		}
		limit := sc.MaxFractionOfBankroll * in.BankrollUSD
		if limit > 0 && loss > limit {
			violated = true
			if ratio := limit / loss; ratio < worstRatio {
				worstRatio = ratio
				ev.Messages = append(ev.Messages, fmt.Sprintf(
					"stress %q loss %.2f over limit %.2f", sc.Name, loss, limit))
			}
		}
	}
	if violated {
		ev.PerTradeUSD *= worstRatio
		ev.GridSizePct *= 1.10 // 防御性加宽间距
	}
}

func (e *Engine) applyDrawdownDefense(ev *Evaluation, in Input) {
	if e.cfg.DrawdownDefenseFraction <= 0 {
		return
	}
	if in.RecentMaxDrawdownUSD <= e.cfg.DrawdownDefenseFraction*in.BankrollUSD {
		return
	}
	ev.Messages = append(ev.Messages, fmt.Sprintf(
		"drawdown %.2f over defense threshold, halving size", in.RecentMaxDrawdownUSD))
	ev.PerTradeUSD *= 0.5
	ev.GridSizePct *= 1.25
	ev.TakeProfitPct *= 1.10 // 更宽目标，减少回合数
}

func (e *Engine) applyKelly(ev *Evaluation, in Input) {
	ev.KellyFraction = kellyFraction(in.RecentTradePnL, e.cfg.KellyCapFraction)
	if in.BankrollUSD <= 0 || in.GridSteps <= 0 {
		return
	}
	implied := ev.KellyFraction * in.BankrollUSD / float64(in.GridSteps)
	if implied < ev.PerTradeUSD {
		ev.Messages = append(ev.Messages, fmt.Sprintf(
			"kelly %.4f implies per-trade %.2f, tightening from %.2f", ev.KellyFraction, implied, ev.PerTradeUSD))
		ev.PerTradeUSD = implied
	}
}

// kellyFraction 从近期已实现盈亏估计 Kelly 比例；样本不足时退回 cap 的一半。
// 任何输入下返回值都在 [0.01, cap]。
func kellyFraction(pnl []float64, cap float64) float64 {
	if cap < 0.01 {
		cap = 0.01
	}
	if len(pnl) < 3 {
		return clamp(cap/2, 0.01, cap)
	}
	var wins, losses int
	var winSum, lossSum float64
	for _, p := range pnl {
		if p > 0 {
			wins++
			winSum += p
		} else if p < 0 {
			losses++
			lossSum += -p
		}
	}
	total := wins + losses
	if total == 0 || losses == 0 || lossSum == 0 {
		return cap
	}
	winRate := float64(wins) / float64(total)
	avgWin := winSum / math.Max(float64(wins), 1)
	avgLoss := lossSum / float64(losses)
	b := avgWin / avgLoss
	if b <= 0 {
		return 0.01
	}
	f := winRate - (1-winRate)/b
	return clamp(f, 0.01, cap)
}

// zScore 标准正态分位数。常用置信度走查表，其余用 inverse-erf 闭式近似。
func zScore(confidence float64) float64 {
	switch confidence {
	case 0.95:
		return 1.645
	case 0.99:
		return 2.326
	case 0.90:
		return 1.282
	}
	return math.Sqrt2 * erfInv(2*confidence-1)
}

// erfInv Winitzki 近似，误差在本用途可接受范围内。
func erfInv(x float64) float64 {
	if x <= -1 {
		return math.Inf(-1)
	}
	if x >= 1 {
		return math.Inf(1)
	}
	const a = 0.147
	ln := math.Log(1 - x*x)
	t1 := 2/(math.Pi*a) + ln/2
	v := math.Sqrt(math.Sqrt(t1*t1-ln/a) - t1)
	if x < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
