// cmd/optimizer re-tunes strategy parameters on a schedule and writes them to
// PARAMS_PATH, where the trader picks them up.
//
// Usage:
//
//	go run ./cmd/optimizer            # every OPTIMIZE_EVERY
//	go run ./cmd/optimizer --once     # single run with retries
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fxtrader/config"
	"fxtrader/internal/logger"
	"fxtrader/internal/metrics"
	"fxtrader/internal/optimizer"
	sqlitestore "fxtrader/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	once := flag.Bool("once", false, "Run a single optimization and exit")
	instrument := flag.String("instrument", "", "Instrument to optimize on (default: first of TRADE_INSTRUMENTS)")
	metricsAddr := flag.String("metrics", ":9091", "Metrics and health listen address")
	flag.Parse()

	cfg := config.LoadOffline()
	logger.Init("optimizer", logger.ParseLevel(cfg.LogLevel))

	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[optimizer] sqlite open failed: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	optCfg := optimizer.DefaultConfig()
	optCfg.Instrument = cfg.Instruments()[0]
	if *instrument != "" {
		optCfg.Instrument = *instrument
	}
	optCfg.Duration = cfg.Duration()
	optCfg.PastPeriod = cfg.PastPeriod
	optCfg.NumRanking = cfg.NumRanking
	optCfg.ParamsPath = cfg.ParamsPath
	optCfg.Interval = cfg.OptimizeEvery

	prom := metrics.NewMetrics(nil)
	opt := optimizer.New(optCfg, store, prom)

	if *once {
		res, err := opt.RunWithRetry(ctx)
		if err != nil {
			log.Fatalf("[optimizer] %v", err)
		}
		for _, s := range res.Ranking {
			log.Printf("[optimizer] %-9s performance=%10.4f enabled=%t", s.Strategy, s.Performance, s.Enabled)
		}
		return
	}

	health := metrics.NewHealthStatus(true)
	health.StartLivenessChecker(ctx, nil, store.DB(), 30*time.Second)
	srv := metrics.NewServer(*metricsAddr, health, prometheus.DefaultGatherer)
	srv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(shutdownCtx)
	}()

	log.Printf("[optimizer] scheduling %s %s every %s", optCfg.Instrument, optCfg.Duration, optCfg.Interval)
	if err := opt.Run(ctx); err != nil {
		log.Printf("[optimizer] %v", err)
	}
	log.Println("[optimizer] stopped")
}
