// Package execution runs the trading cycle: it turns detector decisions into
// broker orders, keeps the position table in step with the broker, and
// journals every lifecycle change.
//
// The Coordinator is the only writer of the position table. Within a cycle
// each instrument is evaluated on its own goroutine under that instrument's
// table lock; the balance snapshot is the only state shared across them.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"fxtrader/internal/indicator"
	"fxtrader/internal/logger"
	"fxtrader/internal/metrics"
	"fxtrader/internal/model"
	"fxtrader/internal/notification"
	"fxtrader/internal/portfolio"
	"fxtrader/internal/strategy"
)

// Config tunes the cycle loop.
type Config struct {
	Instruments      []model.Instrument
	Duration         model.Duration // candle duration the strategies trade on
	WindowSize       int            // candles fetched per evaluation
	Interval         time.Duration  // sleep between cycles
	ReconcileEvery   int            // refresh balance and reconcile every N cycles
	StopLimitPercent float64        // balance fraction held back by sizing
	PlaceStopOrders  bool           // mirror ATR stops as resting broker stop orders
}

// DefaultConfig returns the reference loop settings.
func DefaultConfig(instruments []model.Instrument) Config {
	return Config{
		Instruments:      instruments,
		Duration:         model.Duration1M,
		WindowSize:       200,
		Interval:         5 * time.Second,
		ReconcileEvery:   180,
		StopLimitPercent: 0.1,
		PlaceStopOrders:  true,
	}
}

// DecisionPublisher receives every actionable decision, e.g. redis.Publisher.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, instrument string, payload []byte) error
}

// Deps are the collaborators a Coordinator drives. Journal, Decisions,
// Metrics and Session are optional.
type Deps struct {
	Broker    model.BrokerGateway
	Candles   model.CandleStore
	Table     *portfolio.Table
	Balance   *portfolio.BalanceBook
	Gate      *portfolio.RiskGate
	PnL       *portfolio.PnLTracker
	Params    func() strategy.Set
	Notifier  notification.Notifier
	Journal   TradeRecorder
	Decisions DecisionPublisher
	Metrics   *metrics.Metrics
	Session   func(model.Instrument, time.Time) bool
}

// Coordinator owns the evaluation loop.
type Coordinator struct {
	cfg Config
	Deps

	cycle int
	wake  chan struct{}

	// evaluate is strategy.Evaluate; tests substitute canned decisions.
	evaluate func(model.SignalTag, indicator.Snapshot, []model.Position, model.Instrument) strategy.Decision
	now      func() time.Time
}

// New creates a coordinator. Missing optional deps get no-op defaults.
func New(cfg Config, deps Deps) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 180
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 200
	}
	if deps.Table == nil {
		deps.Table = portfolio.NewTable()
	}
	if deps.Balance == nil {
		deps.Balance = portfolio.NewBalanceBook(model.Balance{})
	}
	if deps.PnL == nil {
		deps.PnL = portfolio.NewPnLTracker()
	}
	if deps.Params == nil {
		deps.Params = strategy.DefaultSet
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier()
	}
	if deps.Session == nil {
		deps.Session = func(model.Instrument, time.Time) bool { return true }
	}
	return &Coordinator{
		cfg:      cfg,
		Deps:     deps,
		wake:     make(chan struct{}, 1),
		evaluate: strategy.Evaluate,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Wake runs the next cycle immediately, e.g. when a new bar opens.
func (c *Coordinator) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Cycles returns the number of cycles run so far.
func (c *Coordinator) Cycles() int { return c.cycle }

// Run loops until ctx is cancelled or a permanent broker failure halts the
// engine, in which case that error is returned.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Printf("[coordinator] started: %d instruments, duration=%s interval=%s reconcile every %d cycles",
		len(c.cfg.Instruments), c.cfg.Duration, c.cfg.Interval, c.cfg.ReconcileEvery)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := c.RunCycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			log.Printf("[coordinator] stopped after %d cycles", c.cycle)
			return nil
		case <-ticker.C:
		case <-c.wake:
		}
	}
}

// RunCycle performs one evaluation cycle. Only permanent failures are returned.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	c.cycle++
	ctx = logger.WithTraceID(ctx, logger.NewTraceID("cycle"))
	start := time.Now()
	if c.Metrics != nil {
		c.Metrics.CyclesTotal.Inc()
		defer func() { c.Metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()
	}

	if (c.cycle-1)%c.cfg.ReconcileEvery == 0 {
		if err := c.refresh(ctx); err != nil {
			if model.IsPermanent(err) {
				return c.halt(ctx, err)
			}
			slog.Warn("refresh failed", append(logger.LogWithTrace(ctx), "error", err)...)
		}
	}

	now := c.now()
	var open []model.Instrument
	for _, inst := range c.cfg.Instruments {
		if c.Session(inst, now) {
			open = append(open, inst)
		}
	}
	if c.Metrics != nil {
		if len(open) > 0 {
			c.Metrics.MarketState.Set(1)
		} else {
			c.Metrics.MarketState.Set(0)
		}
	}
	if len(open) == 0 {
		if c.Metrics != nil {
			c.Metrics.CyclesSkipped.WithLabelValues("market_closed").Inc()
		}
		return nil
	}

	crosses := c.crossCloses(ctx, open)

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range open {
		inst := inst
		g.Go(func() error {
			return c.evaluateInstrument(gctx, inst, crosses)
		})
	}
	if err := g.Wait(); err != nil {
		return c.halt(ctx, err)
	}

	if c.Metrics != nil {
		c.Metrics.OpenPositions.Set(float64(c.Table.Count()))
	}
	return nil
}

func (c *Coordinator) halt(ctx context.Context, err error) error {
	slog.Error("engine halted", append(logger.LogWithTrace(ctx), "error", err)...)
	c.alert(context.WithoutCancel(ctx), notification.Alert{
		Level:   notification.AlertCritical,
		Title:   "Engine halted",
		Message: err.Error(),
	})
	return fmt.Errorf("coordinator: halted: %w", err)
}

// refresh replaces the balance snapshot and reconciles the table against the
// broker's open trades. The broker wins every disagreement.
func (c *Coordinator) refresh(ctx context.Context) error {
	bal, err := c.Broker.GetBalance(ctx)
	if err != nil {
		c.brokerError("get_balance")
		return fmt.Errorf("coordinator: refresh balance: %w", err)
	}
	c.Balance.Replace(bal)

	trades, err := c.Broker.GetOpenTrades(ctx, "")
	if err != nil {
		c.brokerError("get_open_trades")
		return fmt.Errorf("coordinator: refresh open trades: %w", err)
	}
	ids := make([]string, len(trades))
	for i, t := range trades {
		ids[i] = t.TradeID
	}

	dropped := c.Table.Reconcile(ids)
	for _, p := range dropped {
		c.dropped(ctx, p, "not reported by broker")
	}

	known := make(map[string]struct{})
	for _, p := range c.Table.All() {
		known[p.TradeID] = struct{}{}
	}
	for _, t := range trades {
		if _, ok := known[t.TradeID]; !ok {
			slog.Warn("untracked broker trade", append(logger.LogWithTrace(ctx),
				"instrument", t.Instrument, "trade_id", t.TradeID, "side", t.Side, "units", t.Units)...)
		}
	}

	log.Printf("[coordinator] refresh: balance=%.2f %s collateral=%.2f broker_trades=%d dropped=%d",
		bal.Available, bal.Currency, bal.RequiredCollateral, len(trades), len(dropped))
	return nil
}

// dropped reports a position the broker no longer holds, after it has been
// removed from the table.
func (c *Coordinator) dropped(ctx context.Context, p model.Position, reason string) {
	slog.Warn("position dropped", append(logger.LogWithTrace(ctx),
		"instrument", p.Instrument, "tag", p.Tag, "trade_id", p.TradeID, "reason", reason)...)
	if c.Metrics != nil {
		c.Metrics.ReconcileDrops.Inc()
	}
	c.alert(ctx, notification.Alert{
		Level:      notification.AlertWarning,
		Title:      "Position closed at broker",
		Message:    fmt.Sprintf("%s %s %g units (trade %s) no longer open", p.Tag, p.Side, p.Units, p.TradeID),
		Instrument: p.Instrument,
	})
	c.record(ctx, TradeEvent{
		Kind: EventReconcileDrop, Instrument: p.Instrument, Tag: p.Tag, Side: p.Side,
		Units: p.Units, Price: p.EntryPrice, StopLoss: p.StopLoss, TradeID: p.TradeID,
		Reason: reason,
	})
}

// crossCloses fetches the latest close of every JPY cross needed to convert
// the open instruments' quote currencies.
func (c *Coordinator) crossCloses(ctx context.Context, insts []model.Instrument) map[string]float64 {
	out := make(map[string]float64)
	for _, inst := range insts {
		cross := portfolio.CrossFor(inst)
		if cross == "" {
			continue
		}
		if _, done := out[cross]; done {
			continue
		}
		candles, err := c.Candles.GetRecentCandles(ctx, cross, c.cfg.Duration, 1)
		if err != nil || len(candles) == 0 {
			log.Printf("[coordinator] cross %s unavailable (err=%v), fx factor falls back to 1", cross, err)
			continue
		}
		out[cross] = candles[len(candles)-1].Close
	}
	return out
}

// evaluateInstrument runs every enabled detector for inst in tag order and
// applies its decision. Only permanent broker failures are returned.
func (c *Coordinator) evaluateInstrument(ctx context.Context, inst model.Instrument, crosses map[string]float64) error {
	unlock := c.Table.Lock(inst.Symbol)
	defer unlock()

	candles, err := c.Candles.GetRecentCandles(ctx, inst.Symbol, c.cfg.Duration, c.cfg.WindowSize)
	if err != nil {
		log.Printf("[coordinator] %s: candle window: %v", inst.Symbol, err)
		return nil
	}
	set := c.Params()
	snap := indicator.Compute(inst.Symbol, candles, set.Indicator())
	fx := portfolio.FXFactor(inst, crosses)

	for _, tag := range model.AllTags {
		if !set.Enabled(tag) {
			continue
		}
		held := c.Table.GetPositions(inst.Symbol, tag)
		d := c.evaluate(tag, snap, held, inst)
		if c.Metrics != nil {
			c.Metrics.Decisions.WithLabelValues(string(tag), d.Kind.String()).Inc()
		}
		if d.Kind == strategy.NoAction {
			continue
		}

		actx := logger.Child(ctx, inst.Symbol+"."+string(tag))
		slog.Info("decision", append(logger.LogWithTrace(actx),
			"instrument", inst.Symbol, "tag", tag, "kind", d.Kind.String(),
			"price", d.Price, "stop_loss", d.StopLoss, "reason", d.Reason)...)
		c.publishDecision(actx, inst.Symbol, d)

		if err := c.apply(actx, inst, snap, d, held, fx); err != nil {
			if model.IsPermanent(err) {
				return err
			}
			slog.Warn("action failed", append(logger.LogWithTrace(actx),
				"instrument", inst.Symbol, "tag", tag, "kind", d.Kind.String(), "error", err)...)
		}
	}
	return nil
}

func (c *Coordinator) apply(ctx context.Context, inst model.Instrument, snap indicator.Snapshot, d strategy.Decision, held []model.Position, fx float64) error {
	switch d.Kind {
	case strategy.OpenLong, strategy.OpenShort:
		if len(held) > 0 {
			return nil
		}
		return c.open(ctx, inst, snap, d, fx)
	case strategy.CloseAll:
		return c.closeAll(ctx, inst, d, held, fx)
	case strategy.UpdateStopLoss:
		if len(held) == 0 {
			return nil
		}
		return c.replaceStop(ctx, inst, d, held[0])
	}
	return nil
}

func (c *Coordinator) alert(ctx context.Context, a notification.Alert) {
	if err := c.Notifier.Send(ctx, a); err != nil {
		log.Printf("[coordinator] alert delivery failed: %v", err)
	}
}

func (c *Coordinator) record(ctx context.Context, ev TradeEvent) {
	if c.Journal == nil {
		return
	}
	if ev.TraceID == "" {
		ev.TraceID = logger.TraceID(ctx)
	}
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	if err := c.Journal.Record(ctx, ev); err != nil {
		log.Printf("[coordinator] journal: %v", err)
	}
}

func (c *Coordinator) brokerError(op string) {
	if c.Metrics != nil {
		c.Metrics.BrokerErrors.WithLabelValues(op).Inc()
	}
}

// orderResult labels an order outcome for metrics.
func orderResult(err error) string {
	switch {
	case err == nil:
		return "filled"
	case errors.Is(err, model.ErrOrderUnresolved):
		return "unresolved"
	case errors.Is(err, model.ErrOrderTimeout):
		return "timeout"
	case errors.Is(err, model.ErrRejected):
		return "rejected"
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
