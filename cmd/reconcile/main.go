// reconcile 对账工具：进程崩溃后先跑一遍，把本地在途订单与
// 交易所真实状态对齐，再重启 runner。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/exchange"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/engine"
	"grid-trader-go/internal/guard"
	"grid-trader-go/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "config file path")
		tenantFlag = flag.String("tenant", "", "reconcile a single tenant (default: all)")
	)
	flag.Parse()

	if err := run(*configPath, *tenantFlag); err != nil {
		fmt.Fprintln(os.Stderr, "reconcile:", err)
		os.Exit(1)
	}
}

func run(configPath, tenantFlag string) error {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Close()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	kill := guard.NewKillSwitch()
	guards := guard.NewRegistry(guard.Config{
		MaxGlobalDrawdownUSD: cfg.Guard.MaxGlobalDrawdownUSD,
		MaxRunLossUSD:        cfg.Guard.MaxRunLossUSD,
		MaxAPIErrorsPerMin:   cfg.Guard.MaxAPIErrorsPerMin,
		StaleAfter:           time.Duration(cfg.Guard.StaleDataSec) * time.Second,
	}, kill, nil, log)

	eng, err := engine.New(engine.ConfigFrom(cfg.Execution, cfg.Exchange), engine.Deps{
		Exchange:  exchange.NewRESTClient(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.APISecret),
		Limiters:  exchange.NewLimiterRegistry(time.Duration(cfg.Exchange.MinCallIntervalMs) * time.Millisecond),
		Guards:    guards,
		GuardRepo: st,
		Kill:      kill,
		Orders:    st,
		Fills:     st,
		Runs:      st,
		Symbols:   engine.SymbolsFrom(cfg.Symbols),
		Tenants:   engine.TenantsFrom(cfg.Tenants),
		Logger:    log,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for tenantID := range cfg.Tenants {
		if tenantFlag != "" && tenantFlag != tenantID {
			continue
		}
		rep, err := eng.Reconcile(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		fmt.Printf("%s: checked=%d settled=%d backfilled=%d missing=%d\n",
			tenantID, rep.Checked, rep.Settled, rep.Backfilled, rep.Missing)
	}
	return nil
}
