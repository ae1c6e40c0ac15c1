package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"grid-trader-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env          string                  `yaml:"env"`
	Log          logger.Config           `yaml:"log"`
	DBPath       string                  `yaml:"dbPath"`
	MetricsAddr  string                  `yaml:"metricsAddr"`
	ControlAddr  string                  `yaml:"controlAddr"`
	AlertWebhook string                  `yaml:"alertWebhook"`
	Exchange     ExchangeConfig          `yaml:"exchange"`
	Execution    ExecutionConfig         `yaml:"execution"`
	Guard        GuardConfig             `yaml:"guard"`
	Risk         RiskConfig              `yaml:"risk"`
	Symbols      map[string]SymbolConfig `yaml:"symbols"`
	Tenants      map[string]TenantConfig `yaml:"tenants"`
}

// ExchangeConfig 交易所连接与重试/限流参数。
type ExchangeConfig struct {
	BaseURL           string  `yaml:"baseURL"`
	WSURL             string  `yaml:"wsURL"`
	APIKey            string  `yaml:"apiKey"`
	APISecret         string  `yaml:"apiSecret"`
	RetryAttempts     int     `yaml:"retryAttempts"`
	RetryDelayMs      int     `yaml:"retryDelayMs"`
	RetryBackoff      float64 `yaml:"retryBackoff"`
	MinCallIntervalMs int     `yaml:"minCallIntervalMs"` // 同一租户两次外发调用的最小间隔
}

// ExecutionConfig 网格执行引擎参数。
type ExecutionConfig struct {
	Workers            int     `yaml:"workers"`            // 并发买单 worker 数
	PollIntervalMs     int     `yaml:"pollIntervalMs"`     // 订单轮询间隔
	ReplaceTimeoutMs   int     `yaml:"replaceTimeoutMs"`   // 超时替换阈值
	ReplaceSlippagePct float64 `yaml:"replaceSlippagePct"` // 价格偏移替换阈值
	ReplaceMaxRetries  int     `yaml:"replaceMaxRetries"`  // 单档位最大替换次数
	TakeProfitPct      float64 `yaml:"takeProfitPct"`      // 止盈目标比例
}

// GuardConfig 熔断阈值。
type GuardConfig struct {
	MaxGlobalDrawdownUSD float64 `yaml:"maxGlobalDrawdownUSD"`
	MaxRunLossUSD        float64 `yaml:"maxRunLossUSD"`
	MaxAPIErrorsPerMin   int     `yaml:"maxApiErrorsPerMin"`
	StaleDataSec         int     `yaml:"staleDataSec"`
}

// StressScenario 压力场景：冲击幅度与可承受的 bankroll 比例。
type StressScenario struct {
	Name                  string  `yaml:"name"`
	ShockPct              float64 `yaml:"shockPct"`
	MaxFractionOfBankroll float64 `yaml:"maxFractionOfBankroll"`
}

// RiskConfig 风控引擎参数（全局；bankroll 在租户级）。
type RiskConfig struct {
	SectorLimitFraction     float64           `yaml:"sectorLimitFraction"`
	CorrLimitFraction       float64           `yaml:"corrLimitFraction"`
	VaRConfidence           float64           `yaml:"varConfidence"`
	VaRCeilingUSD           float64           `yaml:"varCeilingUSD"`
	KellyCapFraction        float64           `yaml:"kellyCapFraction"`
	DrawdownDefenseFraction float64           `yaml:"drawdownDefenseFraction"`
	MinPerTradeUSD          float64           `yaml:"minPerTradeUSD"`
	MaxPerTradeUSD          float64           `yaml:"maxPerTradeUSD"`
	Sectors                 map[string]string `yaml:"sectors"`    // asset -> sector
	CorrGroups              map[string]string `yaml:"corrGroups"` // asset -> correlation group
	Scenarios               []StressScenario  `yaml:"scenarios"`
}

// SymbolConfig 保存交易对的精度/名义限制（来自 exchangeInfo）。
type SymbolConfig struct {
	StepSize          float64 `yaml:"stepSize"`
	PrecisionDecimals int     `yaml:"precisionDecimals"`
	MinNotional       float64 `yaml:"minNotional"`
	Volatility        float64 `yaml:"volatility"` // 年化波动率估计，风控 VaR 用
}

// TenantConfig 租户级资金与网格默认参数。
type TenantConfig struct {
	BankrollUSD float64  `yaml:"bankrollUSD"`
	Pairs       []string `yaml:"pairs"`
	GridSteps   int      `yaml:"gridSteps"`
	GridSizePct float64  `yaml:"gridSizePct"`
	PerTradeUSD float64  `yaml:"perTradeUSD"`
	FeePct      float64  `yaml:"feePct"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("GT_EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("GT_EXCHANGE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := os.Getenv("GT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "grid-trader.db"
	}
	if cfg.Exchange.RetryAttempts <= 0 {
		cfg.Exchange.RetryAttempts = 3
	}
	if cfg.Exchange.RetryDelayMs <= 0 {
		cfg.Exchange.RetryDelayMs = 500
	}
	if cfg.Exchange.RetryBackoff <= 1 {
		cfg.Exchange.RetryBackoff = 2
	}
	if cfg.Exchange.MinCallIntervalMs <= 0 {
		cfg.Exchange.MinCallIntervalMs = 250
	}
	if cfg.Execution.Workers <= 0 {
		cfg.Execution.Workers = 3
	}
	if cfg.Execution.PollIntervalMs <= 0 {
		cfg.Execution.PollIntervalMs = 5000
	}
	if cfg.Execution.ReplaceTimeoutMs <= 0 {
		cfg.Execution.ReplaceTimeoutMs = 60000
	}
	if cfg.Execution.ReplaceSlippagePct <= 0 {
		cfg.Execution.ReplaceSlippagePct = 0.005
	}
	if cfg.Execution.ReplaceMaxRetries <= 0 {
		cfg.Execution.ReplaceMaxRetries = 3
	}
	if cfg.Execution.TakeProfitPct <= 0 {
		cfg.Execution.TakeProfitPct = 0.01
	}
	if cfg.Guard.MaxAPIErrorsPerMin <= 0 {
		cfg.Guard.MaxAPIErrorsPerMin = 10
	}
	if cfg.Guard.StaleDataSec <= 0 {
		cfg.Guard.StaleDataSec = 30
	}
	if cfg.Risk.VaRConfidence <= 0 {
		cfg.Risk.VaRConfidence = 0.95
	}
	if cfg.Risk.KellyCapFraction <= 0 {
		cfg.Risk.KellyCapFraction = 0.25
	}
}
