package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols config is required")
	}
	if len(cfg.Tenants) == 0 {
		return errors.New("tenants config is required")
	}
	for sym, sc := range cfg.Symbols {
		if sc.StepSize <= 0 {
			return fmt.Errorf("symbols.%s.stepSize must be > 0", sym)
		}
		if sc.PrecisionDecimals < 0 || sc.PrecisionDecimals > 12 {
			return fmt.Errorf("symbols.%s.precisionDecimals out of range", sym)
		}
	}
	for id, tc := range cfg.Tenants {
		if err := validateTenant(id, tc, cfg.Symbols); err != nil {
			return err
		}
	}
	if cfg.Risk.MinPerTradeUSD <= 0 || cfg.Risk.MaxPerTradeUSD < cfg.Risk.MinPerTradeUSD {
		return errors.New("risk.minPerTradeUSD/maxPerTradeUSD misconfigured")
	}
	if cfg.Risk.SectorLimitFraction <= 0 || cfg.Risk.SectorLimitFraction > 1 {
		return errors.New("risk.sectorLimitFraction must be in (0,1]")
	}
	if cfg.Risk.VaRConfidence <= 0.5 || cfg.Risk.VaRConfidence >= 1 {
		return errors.New("risk.varConfidence must be in (0.5,1)")
	}
	for _, sc := range cfg.Risk.Scenarios {
		if sc.ShockPct <= 0 || sc.MaxFractionOfBankroll <= 0 {
			return fmt.Errorf("risk scenario %q misconfigured", sc.Name)
		}
	}
	return nil
}

func validateTenant(id string, tc TenantConfig, symbols map[string]SymbolConfig) error {
	if tc.BankrollUSD <= 0 {
		return fmt.Errorf("tenants.%s.bankrollUSD must be > 0", id)
	}
	if len(tc.Pairs) == 0 {
		return fmt.Errorf("tenants.%s.pairs is required", id)
	}
	for _, p := range tc.Pairs {
		if _, ok := symbols[strings.ToUpper(p)]; !ok {
			return fmt.Errorf("tenants.%s references unknown symbol %s", id, p)
		}
	}
	if tc.GridSteps <= 0 {
		return fmt.Errorf("tenants.%s.gridSteps must be > 0", id)
	}
	if tc.GridSizePct <= 0 || tc.GridSizePct >= 0.5 {
		return fmt.Errorf("tenants.%s.gridSizePct must be in (0,0.5)", id)
	}
	if tc.PerTradeUSD <= 0 {
		return fmt.Errorf("tenants.%s.perTradeUSD must be > 0", id)
	}
	return nil
}

// ValidateSizingUpdate 校验热更新允许修改的字段（仅 sizing 类参数）。
func ValidateSizingUpdate(old, updated AppConfig) error {
	for id, tc := range updated.Tenants {
		prev, ok := old.Tenants[id]
		if !ok {
			return fmt.Errorf("hot reload cannot add tenant %s", id)
		}
		if tc.BankrollUSD != prev.BankrollUSD {
			return fmt.Errorf("hot reload cannot change tenants.%s.bankrollUSD", id)
		}
		if err := validateTenant(id, tc, updated.Symbols); err != nil {
			return err
		}
	}
	return nil
}
