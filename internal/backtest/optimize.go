package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"fxtrader/internal/strategy"
)

// Strategy names used in rankings and on the command line.
const (
	NameEMA      = "ema"
	NameBB       = "bb"
	NameATR      = "atr"
	NameIchimoku = "ichimoku"
	NameRSI      = "rsi"
	NameMACD     = "macd"
)

// Names lists every backtestable strategy.
var Names = []string{NameEMA, NameBB, NameATR, NameIchimoku, NameRSI, NameMACD}

// ErrInsufficientCandles is returned when the window cannot warm up any grid.
var ErrInsufficientCandles = errors.New("backtest: insufficient candles")

// Score is one strategy's best grid result.
type Score struct {
	Strategy    string  `json:"strategy"`
	Performance float64 `json:"performance"`
	Enabled     bool    `json:"enabled"`
}

// Result is the tuned parameter set and the ranking that enabled it.
type Result struct {
	Params  strategy.Set `json:"params"`
	Ranking []Score      `json:"ranking"`
}

// MinCandles is the shortest window Optimize accepts.
const MinCandles = ichimokuSpan + 1

// Optimize grid-searches every strategy over the runner's window. Tuned
// values replace those in base. The top numRanking strategies with positive
// performance are enabled; ATR is always enabled.
func Optimize(ctx context.Context, r *Runner, base strategy.Set, numRanking int) (Result, error) {
	if r.Len() < MinCandles {
		return Result{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCandles, r.Len(), MinCandles)
	}
	out := base
	var perf [6]float64

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, fast, slow := r.OptimizeEMA(ctx)
		perf[0], out.EMA.Fast, out.EMA.Mid = p, fast, slow
		return ctx.Err()
	})
	g.Go(func() error {
		p, n, k := r.OptimizeBB(ctx)
		perf[1], out.BB.N, out.BB.K = p, n, k
		return ctx.Err()
	})
	g.Go(func() error {
		p, n, k1, k2 := r.OptimizeATR(ctx)
		perf[2], out.ATR.N, out.ATR.K1, out.ATR.K2 = p, n, k1, k2
		return ctx.Err()
	})
	g.Go(func() error {
		perf[3] = r.OptimizeIchimoku()
		return ctx.Err()
	})
	g.Go(func() error {
		p, period, buy, sell := r.OptimizeRSI(ctx)
		perf[4], out.RSI.Period, out.RSI.BuyThread, out.RSI.SellThread = p, period, buy, sell
		return ctx.Err()
	})
	g.Go(func() error {
		p, fast, slow, sig := r.OptimizeMACD(ctx)
		perf[5], out.MACD.Fast, out.MACD.Slow, out.MACD.Signal = p, fast, slow, sig
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	ranked := []Score{
		{Strategy: NameEMA, Performance: perf[0]},
		{Strategy: NameBB, Performance: perf[1]},
		{Strategy: NameIchimoku, Performance: perf[3]},
		{Strategy: NameRSI, Performance: perf[4]},
		{Strategy: NameMACD, Performance: perf[5]},
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Performance > ranked[j].Performance })
	for i := range ranked {
		ranked[i].Enabled = i < numRanking && ranked[i].Performance > 0
	}
	ranking := append(ranked, Score{Strategy: NameATR, Performance: perf[2], Enabled: true})

	for _, s := range ranking {
		switch s.Strategy {
		case NameEMA:
			out.EMA.Enabled = s.Enabled
		case NameBB:
			out.BB.Enabled = s.Enabled
		case NameATR:
			out.ATR.Enabled = s.Enabled
		case NameIchimoku:
			out.Ichimoku.Enabled = s.Enabled
		case NameRSI:
			out.RSI.Enabled = s.Enabled
		case NameMACD:
			out.MACD.Enabled = s.Enabled
		}
	}
	if out.EMA.Slow <= out.EMA.Mid {
		out.EMA.Slow = base.EMA.Slow
	}
	return Result{Params: out, Ranking: ranking}, nil
}

// step returns start + i*inc rounded to one decimal.
func step(start, inc float64, i int) float64 {
	return math.Round((start+inc*float64(i))*10) / 10
}

func profitOf(ev *Events) (float64, bool) {
	if ev == nil {
		return 0, false
	}
	return ev.Profit(), true
}

// OptimizeEMA searches fast 5..11 and slow 12..19.
func (r *Runner) OptimizeEMA(ctx context.Context) (perf float64, fast, slow int) {
	fast, slow = 7, 14
	for f := 5; f <= 11; f++ {
		if ctx.Err() != nil {
			return
		}
		for s := 12; s <= 19; s++ {
			if p, ok := profitOf(r.EMA(f, s)); ok && p > perf {
				perf, fast, slow = p, f, s
			}
		}
	}
	return
}

// OptimizeBB searches n 10..19 and k 1.9..2.1.
func (r *Runner) OptimizeBB(ctx context.Context) (perf float64, n int, k float64) {
	n, k = 20, 2.0
	for period := 10; period <= 19; period++ {
		if ctx.Err() != nil {
			return
		}
		for i := 0; i <= 2; i++ {
			kk := step(1.9, 0.1, i)
			if p, ok := profitOf(r.Bollinger(period, kk)); ok && p > perf {
				perf, n, k = p, period, kk
			}
		}
	}
	return
}

// OptimizeATR searches n 7..16, k1 1.0..2.8 and k2 -1.0..0.8, both step 0.2.
func (r *Runner) OptimizeATR(ctx context.Context) (perf float64, n int, k1, k2 float64) {
	n, k1, k2 = 14, 2.0, 0.0
	for period := 7; period <= 16; period++ {
		if ctx.Err() != nil {
			return
		}
		for i := 0; i < 10; i++ {
			a := step(1.0, 0.2, i)
			for j := 0; j < 10; j++ {
				b := step(-1.0, 0.2, j)
				if p, ok := profitOf(r.ATR(period, a, b)); ok && p > perf {
					perf, n, k1, k2 = p, period, a, b
				}
			}
		}
	}
	return
}

// OptimizeIchimoku has no grid; it returns the profit of the fixed cloud.
func (r *Runner) OptimizeIchimoku() float64 {
	p, _ := profitOf(r.Ichimoku())
	return p
}

// OptimizeRSI searches period 10..19 with fixed 30/70 thresholds.
func (r *Runner) OptimizeRSI(ctx context.Context) (perf float64, period int, buy, sell float64) {
	period, buy, sell = 14, 30, 70
	for p := 10; p <= 19; p++ {
		if ctx.Err() != nil {
			return
		}
		if v, ok := profitOf(r.RSI(p, 30, 70)); ok && v > perf {
			perf, period = v, p
		}
	}
	return
}

// OptimizeMACD searches fast 10..18, slow 20..29 and signal 5..14.
func (r *Runner) OptimizeMACD(ctx context.Context) (perf float64, fast, slow, signal int) {
	fast, slow, signal = 12, 26, 9
	for f := 10; f <= 18; f++ {
		if ctx.Err() != nil {
			return
		}
		for s := 20; s <= 29; s++ {
			for sig := 5; sig <= 14; sig++ {
				if p, ok := profitOf(r.MACD(f, s, sig)); ok && p > perf {
					perf, fast, slow, signal = p, f, s, sig
				}
			}
		}
	}
	return
}

// Run backtests a single named strategy with the parameters in set.
func Run(r *Runner, name string, set strategy.Set) (*Events, error) {
	var ev *Events
	switch name {
	case NameEMA:
		ev = r.EMA(set.EMA.Fast, set.EMA.Mid)
	case NameBB:
		ev = r.Bollinger(set.BB.N, set.BB.K)
	case NameATR:
		ev = r.ATR(set.ATR.N, set.ATR.K1, set.ATR.K2)
	case NameIchimoku:
		ev = r.Ichimoku()
	case NameRSI:
		ev = r.RSI(set.RSI.Period, set.RSI.BuyThread, set.RSI.SellThread)
	case NameMACD:
		ev = r.MACD(set.MACD.Fast, set.MACD.Slow, set.MACD.Signal)
	default:
		return nil, fmt.Errorf("backtest: unknown strategy %q", name)
	}
	if ev == nil {
		return nil, fmt.Errorf("%w for %s: have %d", ErrInsufficientCandles, name, r.Len())
	}
	return ev, nil
}
