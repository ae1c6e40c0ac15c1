package risk

import "grid-trader-go/config"

// Input 单次规划周期的风控输入。
type Input struct {
	TenantID string
	Pair     string
	Asset    string // 交易对基础资产，用于 sector/相关性分组

	BankrollUSD   float64
	PerTradeUSD   float64
	GridSteps     int
	GridSizePct   float64
	TakeProfitPct float64

	Volatility float64 // 年化波动率估计

	// 当前各资产敞口（USD，正负号含方向）
	CurrentExposure map[string]float64

	// 最近已实现单笔盈亏序列，Kelly 估计用
	RecentTradePnL []float64

	// 最近最大回撤（USD，幅度为正值）
	RecentMaxDrawdownUSD float64
}

// Evaluation 风控评估结果。每个规划周期新生成，只记日志不持久化。
type Evaluation struct {
	Approved      bool
	PerTradeUSD   float64
	GridSizePct   float64
	TakeProfitPct float64
	KellyFraction float64
	VaRUSD        float64
	MaxStressLoss float64
	Messages      []string
	BlockedReason string
}

// Config 风控引擎参数。
type Config struct {
	SectorLimitFraction     float64
	CorrLimitFraction       float64
	VaRConfidence           float64
	VaRCeilingUSD           float64
	KellyCapFraction        float64
	DrawdownDefenseFraction float64
	MinPerTradeUSD          float64
	MaxPerTradeUSD          float64
	Sectors                 map[string]string
	CorrGroups              map[string]string
	Scenarios               []config.StressScenario
}

// FromAppConfig 从应用配置构建风控参数。
func FromAppConfig(rc config.RiskConfig) Config {
	return Config{
		SectorLimitFraction:     rc.SectorLimitFraction,
		CorrLimitFraction:       rc.CorrLimitFraction,
		VaRConfidence:           rc.VaRConfidence,
		VaRCeilingUSD:           rc.VaRCeilingUSD,
		KellyCapFraction:        rc.KellyCapFraction,
		DrawdownDefenseFraction: rc.DrawdownDefenseFraction,
		MinPerTradeUSD:          rc.MinPerTradeUSD,
		MaxPerTradeUSD:          rc.MaxPerTradeUSD,
		Sectors:                 rc.Sectors,
		CorrGroups:              rc.CorrGroups,
		Scenarios:               rc.Scenarios,
	}
}
