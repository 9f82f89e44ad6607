// Package optimizer periodically re-tunes strategy parameters from stored
// candles and writes them to the params file the trader watches.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/jpillora/backoff"

	"fxtrader/internal/backtest"
	"fxtrader/internal/metrics"
	"fxtrader/internal/model"
	"fxtrader/internal/paramstore"
	"fxtrader/internal/strategy"
)

// Config controls what is optimized and how often.
type Config struct {
	Instrument  string
	Duration    model.Duration
	PastPeriod  int           // candles per run
	NumRanking  int           // strategies enabled from the top of the ranking
	ParamsPath  string
	Interval    time.Duration // between successful runs
	MaxAttempts int           // per scheduled run
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns hourly runs with up to 5 attempts backing off 10s..5m.
func DefaultConfig() Config {
	return Config{
		Duration:    model.Duration1M,
		PastPeriod:  365,
		NumRanking:  3,
		Interval:    time.Hour,
		MaxAttempts: 5,
		MinBackoff:  10 * time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

// Optimizer runs backtest.Optimize on a schedule.
type Optimizer struct {
	cfg     Config
	candles model.CandleStore
	metrics *metrics.Metrics

	sleep func(context.Context, time.Duration) error
}

// New creates an optimizer. m may be nil.
func New(cfg Config, candles model.CandleStore, m *metrics.Metrics) *Optimizer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Optimizer{cfg: cfg, candles: candles, metrics: m, sleep: sleepCtx}
}

// RunOnce loads the candle window, optimizes and writes the params file.
// The current file, when present, supplies every value the grids don't tune.
func (o *Optimizer) RunOnce(ctx context.Context) (backtest.Result, error) {
	candles, err := o.candles.GetRecentCandles(ctx, o.cfg.Instrument, o.cfg.Duration, o.cfg.PastPeriod)
	if err != nil {
		return backtest.Result{}, fmt.Errorf("optimizer: candles: %w", err)
	}
	if len(candles) == 0 {
		return backtest.Result{}, fmt.Errorf("optimizer: no %s candles for %s: %w", o.cfg.Duration, o.cfg.Instrument, backtest.ErrInsufficientCandles)
	}

	base := strategy.DefaultSet()
	doc, err := paramstore.Read(o.cfg.ParamsPath)
	switch {
	case err == nil:
		base = doc.Params
	case !errors.Is(err, fs.ErrNotExist):
		log.Printf("[optimizer] ignoring unreadable params file: %v", err)
	}

	res, err := backtest.Optimize(ctx, backtest.NewRunner(o.cfg.Instrument, candles), base, o.cfg.NumRanking)
	if err != nil {
		return backtest.Result{}, fmt.Errorf("optimizer: %w", err)
	}

	ranking := make([]paramstore.Rank, len(res.Ranking))
	for i, s := range res.Ranking {
		ranking[i] = paramstore.Rank{Strategy: s.Strategy, Performance: s.Performance}
	}
	if err := paramstore.Write(o.cfg.ParamsPath, paramstore.Document{Params: res.Params, Ranking: ranking}); err != nil {
		return backtest.Result{}, fmt.Errorf("optimizer: %w", err)
	}
	log.Printf("[optimizer] %s %s: wrote %s from %d candles", o.cfg.Instrument, o.cfg.Duration, o.cfg.ParamsPath, len(candles))
	return res, nil
}

// RunWithRetry calls RunOnce until it succeeds, backing off between
// attempts, and gives up after MaxAttempts.
func (o *Optimizer) RunWithRetry(ctx context.Context) (backtest.Result, error) {
	b := &backoff.Backoff{Min: o.cfg.MinBackoff, Max: o.cfg.MaxBackoff, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		res, err := o.RunOnce(ctx)
		if err == nil {
			o.count("ok")
			return res, nil
		}
		if ctx.Err() != nil {
			return backtest.Result{}, ctx.Err()
		}
		lastErr = err
		o.count("retry")
		if attempt == o.cfg.MaxAttempts {
			break
		}
		wait := b.Duration()
		log.Printf("[optimizer] attempt %d/%d failed: %v (retry in %s)", attempt, o.cfg.MaxAttempts, err, wait)
		if err := o.sleep(ctx, wait); err != nil {
			return backtest.Result{}, err
		}
	}
	o.count("failed")
	return backtest.Result{}, fmt.Errorf("optimizer: gave up after %d attempts: %w", o.cfg.MaxAttempts, lastErr)
}

// Run optimizes now and then every Interval until ctx is cancelled.
// A run that exhausts its retries is logged and the schedule continues.
func (o *Optimizer) Run(ctx context.Context) error {
	for {
		if _, err := o.RunWithRetry(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[optimizer] %v", err)
		}
		if err := o.sleep(ctx, o.cfg.Interval); err != nil {
			return nil
		}
	}
}

func (o *Optimizer) count(result string) {
	if o.metrics != nil {
		o.metrics.OptimizerRuns.WithLabelValues(result).Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
