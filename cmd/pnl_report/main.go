// pnl_report 离线盈亏报表：只读本地库，不触达交易所。
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"grid-trader-go/config"
	"grid-trader-go/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "config file path")
		tenantFlag = flag.String("tenant", "", "report a single tenant (default: all)")
		limit      = flag.Int("limit", 50, "number of recent closed trades to analyze")
	)
	flag.Parse()

	if err := run(*configPath, *tenantFlag, *limit); err != nil {
		fmt.Fprintln(os.Stderr, "pnl_report:", err)
		os.Exit(1)
	}
}

func run(configPath, tenantFlag string, limit int) error {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tGLOBAL PNL\tINVENTORY\tAVG COST\tTRADES\tWIN RATE\tRECENT PNL")

	for tenantID := range cfg.Tenants {
		if tenantFlag != "" && tenantFlag != tenantID {
			continue
		}
		gs, err := st.LoadGuardState(tenantID)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		pnls, err := st.RecentTradePnL(tenantID, limit)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}

		var globalPnl, invBase, avgCost float64
		if gs != nil {
			globalPnl = gs.GlobalPnlUSD
			invBase = gs.InventoryBase
			if gs.InventoryBase > 0 {
				avgCost = gs.InventoryCost / gs.InventoryBase
			}
		}
		wins := 0
		recent := 0.0
		for _, p := range pnls {
			if p > 0 {
				wins++
			}
			recent += p
		}
		winRate := 0.0
		if len(pnls) > 0 {
			winRate = float64(wins) / float64(len(pnls))
		}
		fmt.Fprintf(w, "%s\t%.2f\t%.6f\t%.2f\t%d\t%.0f%%\t%.2f\n",
			tenantID, globalPnl, invBase, avgCost, len(pnls), winRate*100, recent)
	}
	return w.Flush()
}
