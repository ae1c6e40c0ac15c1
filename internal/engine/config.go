package engine

import (
	"strings"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/exchange"
	"grid-trader-go/order"
)

// ConfigFrom 由应用配置构建引擎参数。
func ConfigFrom(ec config.ExecutionConfig, xc config.ExchangeConfig) Config {
	return Config{
		Workers:            ec.Workers,
		PollInterval:       time.Duration(ec.PollIntervalMs) * time.Millisecond,
		ReplaceTimeout:     time.Duration(ec.ReplaceTimeoutMs) * time.Millisecond,
		ReplaceSlippagePct: ec.ReplaceSlippagePct,
		ReplaceMaxRetries:  ec.ReplaceMaxRetries,
		TakeProfitPct:      ec.TakeProfitPct,
		Retry: exchange.RetryConfig{
			Attempts: xc.RetryAttempts,
			Delay:    time.Duration(xc.RetryDelayMs) * time.Millisecond,
			Backoff:  xc.RetryBackoff,
		},
	}
}

// SymbolsFrom 由应用配置构建交易对元数据表。
func SymbolsFrom(symbols map[string]config.SymbolConfig) map[string]SymbolInfo {
	out := make(map[string]SymbolInfo, len(symbols))
	for pair, sc := range symbols {
		out[pair] = SymbolInfo{
			Constraints: order.SymbolConstraints{
				StepSize:          sc.StepSize,
				PrecisionDecimals: sc.PrecisionDecimals,
				MinNotional:       sc.MinNotional,
			},
			Volatility: sc.Volatility,
			Asset:      BaseAsset(pair),
		}
	}
	return out
}

// TenantsFrom 由应用配置构建租户参数表。
func TenantsFrom(tenants map[string]config.TenantConfig) map[string]TenantParams {
	out := make(map[string]TenantParams, len(tenants))
	for id, tc := range tenants {
		out[id] = TenantParams{
			BankrollUSD: tc.BankrollUSD,
			GridSteps:   tc.GridSteps,
			GridSizePct: tc.GridSizePct,
			PerTradeUSD: tc.PerTradeUSD,
			FeePct:      tc.FeePct,
		}
	}
	return out
}

// BaseAsset 从 "BTC/USDT" 提取基础资产 "BTC"。
func BaseAsset(pair string) string {
	if i := strings.IndexByte(pair, '/'); i > 0 {
		return pair[:i]
	}
	return pair
}
