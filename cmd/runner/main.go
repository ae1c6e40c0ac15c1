package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/api"
	"grid-trader-go/config"
	"grid-trader-go/exchange"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/engine"
	"grid-trader-go/internal/guard"
	"grid-trader-go/internal/store"
	"grid-trader-go/metrics"
	"grid-trader-go/planner"
	"grid-trader-go/risk"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "config file path")
		mode       = flag.String("mode", "paper", "run mode: summary / paper / live")
		tenantFlag = flag.String("tenant", "", "run a single tenant (default: all)")
		pairFlag   = flag.String("pair", "", "run a single pair (default: all configured)")
		interval   = flag.Duration("interval", time.Minute, "pause between planning cycles")
		once       = flag.Bool("once", false, "run one cycle and exit")
	)
	flag.Parse()

	if err := run(*configPath, planner.RunMode(*mode), *tenantFlag, *pairFlag, *interval, *once); err != nil {
		fmt.Fprintln(os.Stderr, "runner:", err)
		os.Exit(1)
	}
}

func run(configPath string, mode planner.RunMode, tenantFlag, pairFlag string, interval time.Duration, once bool) error {
	switch mode {
	case planner.ModeSummary, planner.ModePaper, planner.ModeLive:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Close()

	channels := []alert.Channel{alert.NewLogChannel("ops-log", os.Stderr)}
	if cfg.AlertWebhook != "" {
		channels = append(channels, alert.NewWebhookChannel("ops-webhook", cfg.AlertWebhook, 10*time.Second))
	}
	alerts := alert.NewManager(channels, time.Minute, func(channel string, err error) {
		log.Warn("alert delivery failed", zap.String("channel", channel), zap.Error(err))
	})

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
	}, kill, alerts, log)

	m := metrics.New(nil)
	m.Serve(cfg.MetricsAddr)
	api.New(kill, guards, m, log).Serve(cfg.ControlAddr)

	venue := exchange.NewRESTClient(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	riskEngine := risk.NewEngine(risk.FromAppConfig(cfg.Risk))

	eng, err := engine.New(engine.ConfigFrom(cfg.Execution, cfg.Exchange), engine.Deps{
		Exchange:  venue,
		Limiters:  exchange.NewLimiterRegistry(time.Duration(cfg.Exchange.MinCallIntervalMs) * time.Millisecond),
		Guards:    guards,
		GuardRepo: st,
		Kill:      kill,
		Risk:      riskEngine,
		Orders:    st,
		Fills:     st,
		Runs:      st,
		Symbols:   engine.SymbolsFrom(cfg.Symbols),
		Tenants:   engine.TenantsFrom(cfg.Tenants),
		Logger:    log,
		Alerts:    alerts,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 行情 WS：喂所有交易该符号的租户的新鲜度跟踪
	if cfg.Exchange.WSURL != "" && mode == planner.ModeLive {
		startTickerFeed(ctx, cfg, guards, log)
	}

	// 配置热更新：只接受 sizing 变更，下一个周期生效
	overrides := newOverrideTable()
	watcher := config.NewWatcher(configPath, cfg, 5*time.Second)
	go func() {
		err := watcher.Start(ctx, func(updates []config.SizingUpdate) {
			for _, u := range updates {
				overrides.apply(u)
				log.Info("sizing updated",
					zap.String("tenant_id", u.TenantID),
					zap.Int("grid_steps", u.GridSteps),
					zap.Float64("grid_size_pct", u.GridSizePct),
					zap.Float64("per_trade_usd", u.PerTradeUSD))
			}
		}, func(err error) {
			log.Warn("config reload rejected", zap.Error(err))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("config watcher exited", zap.Error(err))
		}
	}()

	for {
		runCycle(ctx, eng, cfg, mode, tenantFlag, pairFlag, overrides, log)
		if once || mode == planner.ModeSummary {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func runCycle(ctx context.Context, eng *engine.Engine, cfg config.AppConfig, mode planner.RunMode, tenantFlag, pairFlag string, overrides *overrideTable, log *logger.Logger) {
	for tenantID, tc := range cfg.Tenants {
		if tenantFlag != "" && tenantFlag != tenantID {
			continue
		}
		for _, pair := range tc.Pairs {
			if pairFlag != "" && pairFlag != pair {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			plan, err := eng.PlanAndExecute(ctx, pair, tenantID, mode, overrides.forTenant(tenantID))
			switch {
			case errors.Is(err, engine.ErrKillSwitch):
				log.Warn("run skipped, kill switch active", zap.String("tenant_id", tenantID))
				return
			case errors.Is(err, engine.ErrRiskRejected):
				// 已在引擎内记录与告警
			case err != nil:
				log.Error("run failed",
					zap.String("tenant_id", tenantID),
					zap.String("pair", pair),
					zap.Error(err))
			default:
				log.Info("run finished",
					zap.String("tenant_id", tenantID),
					zap.String("pair", pair),
					zap.String("run_id", plan.RunID),
					zap.Int("levels", len(plan.Levels)))
			}
		}
	}
}

// startTickerFeed 订阅全部已配置符号，回调按租户分发。
func startTickerFeed(ctx context.Context, cfg config.AppConfig, guards *guard.Registry, log *logger.Logger) {
	symbols := make([]string, 0, len(cfg.Symbols))
	for s := range cfg.Symbols {
		symbols = append(symbols, s)
	}
	feed := exchange.NewTickerFeed(cfg.Exchange.WSURL, symbols)
	go func() {
		err := feed.Run(ctx, func(t exchange.Ticker) {
			for tenantID, tc := range cfg.Tenants {
				for _, pair := range tc.Pairs {
					if pair == t.Symbol {
						guards.ForTenant(tenantID).RecordTicker(t.Timestamp, "ws", time.Since(t.Timestamp))
						break
					}
				}
			}
		}, func(err error) {
			log.Warn("ticker feed error", zap.Error(err))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("ticker feed exited", zap.Error(err))
		}
	}()

	// 周期性新鲜度检查，行情断流时触发熔断；staleDataSec 未配置则不开
	interval, ok := freshnessInterval(cfg.Guard.StaleDataSec)
	if !ok {
		return
	}
	go func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				for _, id := range guards.Tenants() {
					guards.ForTenant(id).CheckStaleData()
				}
			}
		}
	}()
}

// freshnessInterval 新鲜度巡检周期：取过期阈值的一半；阈值未配置
// 即视为关闭巡检。
func freshnessInterval(staleDataSec int) (time.Duration, bool) {
	if staleDataSec <= 0 {
		return 0, false
	}
	return time.Duration(staleDataSec) * time.Second / 2, true
}

// overrideTable 热更新 sizing 的当前值，按租户存取。
type overrideTable struct {
	mu   sync.Mutex
	byID map[string]engine.SizingOverrides
}

func newOverrideTable() *overrideTable {
	return &overrideTable{byID: make(map[string]engine.SizingOverrides)}
}

func (o *overrideTable) apply(u config.SizingUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	steps, size, trade := u.GridSteps, u.GridSizePct, u.PerTradeUSD
	o.byID[u.TenantID] = engine.SizingOverrides{
		GridSteps:   &steps,
		GridSizePct: &size,
		PerTradeUSD: &trade,
	}
}

func (o *overrideTable) forTenant(tenantID string) *engine.SizingOverrides {
	o.mu.Lock()
	defer o.mu.Unlock()
	ov, ok := o.byID[tenantID]
	if !ok {
		return nil
	}
	return &ov
}
