// cmd/trader is the live trading engine: it streams ticks into SQLite
// candles, runs the coordinator over them, scans for market alerts and
// hot-reloads strategy parameters written by the optimizer.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"fxtrader/config"
	"fxtrader/internal/breaker"
	"fxtrader/internal/execution"
	"fxtrader/internal/logger"
	"fxtrader/internal/marketdata/agg"
	"fxtrader/internal/marketdata/bus"
	"fxtrader/internal/markethours"
	"fxtrader/internal/metrics"
	"fxtrader/internal/model"
	"fxtrader/internal/notification"
	"fxtrader/internal/paramstore"
	"fxtrader/internal/portfolio"
	"fxtrader/internal/scanner"
	redisstore "fxtrader/internal/store/redis"
	sqlitestore "fxtrader/internal/store/sqlite"
	"fxtrader/pkg/fxbroker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[trader] starting...")

	cfg := config.Load()
	logger.Init("trader", logger.ParseLevel(cfg.LogLevel))

	instruments, err := model.LookupInstruments(cfg.Instruments())
	if err != nil {
		log.Fatalf("[trader] %v", err)
	}
	streamSymbols := withCrosses(instruments)
	durations := model.AllDurations

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus(cfg.RedisOptional)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- SQLite candles + journal ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Fatalf("[trader] data dir: %v", err)
	}
	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[trader] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Redis (optional downstream) ----
	var (
		pub       *redisstore.Publisher
		sink      execution.EventSink
		decisions execution.DecisionPublisher
		candlePub agg.CandlePublisher
	)
	pub, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		log.Printf("[trader] WARNING: redis init failed: %v (continuing without redis)", err)
	} else {
		defer pub.Close()
		redisCB := breaker.New("redis", 5, 10*time.Second)
		redisCB.OnStateChange = prom.ObserveBreaker
		events := redisstore.NewBufferedEvents(ctx, pub, redisCB, 10000)
		events.OnBuffer = func() { prom.BufferedEvents.Inc() }
		sink, decisions, candlePub = events, pub, pub
	}
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	journal, err := execution.NewJournal(store.DB(), sink, redisstore.TradeStream)
	if err != nil {
		log.Fatalf("[trader] journal init failed: %v", err)
	}

	notifier := buildNotifier(cfg)

	// ---- Broker ----
	var client *fxbroker.Client
	if cfg.BrokerURL != "" || cfg.BrokerStreamURL != "" {
		brokerCB := breaker.New("broker", 5, 30*time.Second)
		brokerCB.OnStateChange = prom.ObserveBreaker
		client = fxbroker.New(fxbroker.Config{
			BaseURL:    cfg.BrokerURL,
			StreamURL:  cfg.BrokerStreamURL,
			AccountID:  cfg.BrokerAccountID,
			Token:      cfg.BrokerToken,
			User:       cfg.BrokerUser,
			Password:   cfg.BrokerPassword,
			TOTPSecret: cfg.BrokerTOTPSecret,
		}, brokerCB)
		client.OnRetry = func(route string) { prom.BrokerRetries.WithLabelValues(route).Inc() }
		client.OnReconnect = func() { prom.StreamRestarts.Inc() }
	}
	if client != nil && cfg.BrokerURL != "" {
		if err := client.Login(ctx); err != nil {
			log.Fatalf("[trader] broker login failed: %v", err)
		}
		backfill(ctx, client, store, streamSymbols, cfg.Duration(), cfg.PastPeriod)
	}

	var gateway model.BrokerGateway
	switch {
	case cfg.Paper():
		var feed model.BrokerGateway
		if client != nil {
			feed = client
		} else {
			log.Println("[trader] WARNING: paper mode without broker feed, no ticks will arrive")
		}
		gateway = execution.NewPaperBroker("JPY", cfg.PaperBalance, instruments, feed)
		log.Printf("[trader] *** PAPER MODE: orders are simulated (balance %.0f JPY) ***", cfg.PaperBalance)
	default:
		gateway = client
	}

	// ---- Strategy params ----
	params, err := paramstore.Open(cfg.ParamsPath)
	if err != nil {
		log.Fatalf("[trader] params: %v", err)
	}
	params.OnChange(func(s paramstore.Snapshot) {
		log.Printf("[trader] strategy params v%d live (ema=%t atr=%t adx=%t)",
			s.Version, s.Params.EMA.Enabled, s.Params.ATR.Enabled, s.Params.ADX.Enabled)
	})

	// ---- Coordinator ----
	coordCfg := execution.DefaultConfig(instruments)
	coordCfg.Duration = cfg.Duration()
	coordCfg.Interval = cfg.CycleInterval
	coordCfg.ReconcileEvery = cfg.ReconcileEvery
	coordCfg.StopLimitPercent = cfg.StopLimitPercent
	coordCfg.PlaceStopOrders = cfg.PlaceStopOrders

	limits := portfolio.DefaultRiskLimits()
	limits.MaxCollateralUsage = cfg.UsePercent
	limits.StopLimitPercent = cfg.StopLimitPercent

	coord := execution.New(coordCfg, execution.Deps{
		Broker:    gateway,
		Candles:   store,
		Gate:      portfolio.NewRiskGate(limits, time.Now().UTC()),
		Params:    params.Current,
		Notifier:  notifier,
		Journal:   journal,
		Decisions: decisions,
		Metrics:   prom,
		Session:   markethours.InstrumentOpen,
	})

	// ---- Tick pipeline: stream -> fan-out -> aggregator -> bar events ----
	tickCh := make(chan model.Tick, 10000)
	barCh := make(chan agg.BarEvent, 256)

	ticks := bus.New[model.Tick](10000)
	ticks.OnDrop = func(name string) { log.Printf("[trader] tick subscriber %s full, dropping", name) }
	aggIn := ticks.Subscribe("aggregator")
	healthIn := ticks.Subscribe("health")

	aggregator := agg.New(store, durations, cfg.Duration(), candlePub)
	aggregator.OnTick = func(model.Tick) { prom.TicksTotal.Inc() }
	aggregator.OnCreated = func(d model.Duration) { prom.CandlesCreated.WithLabelValues(string(d)).Inc() }

	scan := scanner.New(scanner.Config{
		Instruments: cfg.Instruments(),
		Durations:   config.ParseDurations(cfg.AlertDurations),
		Window:      cfg.PastPeriod,
		Interval:    time.Minute,
	}, store, notifier, prom)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticks.Run(gctx, tickCh)
		return nil
	})
	g.Go(func() error {
		aggregator.Run(gctx, aggIn, barCh)
		return nil
	})
	g.Go(func() error {
		for range healthIn {
			health.SetLastTickTime(time.Now())
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-barCh:
				log.Printf("[trader] %s %s bar closed @ %.5f", ev.Instrument, ev.Duration, ev.Closed.Close)
				coord.Wake()
			}
		}
	})
	g.Go(func() error {
		health.SetStreamConnected(true)
		defer health.SetStreamConnected(false)
		err := gateway.StreamTicks(gctx, streamSymbols, func(t model.Tick) {
			select {
			case tickCh <- t:
			default:
				log.Printf("[trader] tick channel full, dropping %s", t.Instrument)
			}
		})
		if err != nil {
			alertStreamLost(context.WithoutCancel(gctx), notifier, err)
		}
		return err
	})
	g.Go(func() error {
		scan.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := params.Watch(gctx); err != nil {
			log.Printf("[trader] params watcher stopped: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		err := coord.Run(gctx)
		if err != nil {
			health.SetHalted(err)
		}
		return err
	})

	log.Printf("[trader] running: instruments=%v duration=%s paper=%t", cfg.Instruments(), cfg.Duration(), cfg.Paper())
	log.Printf("[trader] %s", markethours.StatusString(time.Now()))

	err = g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Stop(shutdownCtx)

	sum := coord.PnL.GetSummary()
	log.Printf("[trader] stopped: cycles=%d open_positions=%d realized_pnl=%.2f", coord.Cycles(), coord.Table.Count(), sum.RealizedPnL)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[trader] %v", err)
	}
}

// withCrosses adds the JPY crosses needed for FX conversion to the stream.
func withCrosses(insts []model.Instrument) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, inst := range insts {
		add(inst.Symbol)
	}
	for _, inst := range insts {
		add(portfolio.CrossFor(inst))
	}
	return out
}

// backfill seeds the trading duration with broker history so strategies can
// warm up without waiting for live bars.
func backfill(ctx context.Context, client *fxbroker.Client, store *sqlitestore.Store, symbols []string, d model.Duration, count int) {
	for _, sym := range symbols {
		candles, err := client.GetCandles(ctx, sym, d, count)
		if err != nil {
			log.Printf("[trader] backfill %s %s: %v", sym, d, err)
			continue
		}
		if err := store.SaveCandles(ctx, candles); err != nil {
			log.Printf("[trader] backfill save %s: %v", sym, err)
			continue
		}
		log.Printf("[trader] backfilled %d %s candles for %s", len(candles), d, sym)
	}
}

func buildNotifier(cfg *config.Config) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		n = append(n, notification.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return n
}

// alertStreamLost reports a permanent price stream failure. Delivery errors
// are logged and returned.
func alertStreamLost(ctx context.Context, n notification.Notifier, cause error) error {
	err := n.Send(ctx, notification.Alert{
		Level: notification.AlertCritical, Title: "Price stream lost", Message: cause.Error(),
	})
	if err != nil {
		log.Printf("[trader] stream-lost alert delivery failed: %v", err)
	}
	return err
}
