// cmd/backtest runs one strategy, or the full optimizer grid, over candles
// stored in SQLite and prints the result.
//
// Usage:
//
//	go run ./cmd/backtest --instrument=USD_JPY --duration=1m --strategy=atr
//	go run ./cmd/backtest --optimize --ranking=3
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fxtrader/internal/backtest"
	"fxtrader/internal/model"
	"fxtrader/internal/paramstore"
	"fxtrader/internal/strategy"
	sqlitestore "fxtrader/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	instrument := flag.String("instrument", model.USDJPY, "Instrument to backtest")
	durStr := flag.String("duration", "1m", "Candle duration")
	name := flag.String("strategy", backtest.NameEMA, "Strategy: ema, bb, atr, ichimoku, rsi, macd")
	period := flag.Int("period", 365, "Number of recent candles")
	dbPath := flag.String("db", "data/fxtrader.db", "Path to SQLite database")
	paramsPath := flag.String("params", "data/params.yaml", "Params file supplying strategy settings")
	optimize := flag.Bool("optimize", false, "Grid-search every strategy instead of one backtest")
	ranking := flag.Int("ranking", 3, "Strategies enabled from the top of the ranking (with --optimize)")
	asJSON := flag.Bool("json", false, "Print the result as JSON")
	flag.Parse()

	d, err := model.ParseDuration(*durStr)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	candles, err := store.GetRecentCandles(ctx, *instrument, d, *period)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	log.Printf("[backtest] loaded %d %s candles for %s", len(candles), d, *instrument)

	set := strategy.DefaultSet()
	if doc, err := paramstore.Read(*paramsPath); err == nil {
		set = doc.Params
	} else if !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[backtest] ignoring params file: %v", err)
	}

	runner := backtest.NewRunner(*instrument, candles)
	if *optimize {
		res, err := backtest.Optimize(ctx, runner, set, *ranking)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		if *asJSON {
			printJSON(res)
			return
		}
		fmt.Println("strategy   performance  enabled")
		for _, s := range res.Ranking {
			fmt.Printf("%-9s %12.4f  %t\n", s.Strategy, s.Performance, s.Enabled)
		}
		fmt.Printf("\nema fast=%d mid=%d | bb n=%d k=%.1f | atr n=%d k1=%.1f k2=%.1f | rsi %d | macd %d/%d/%d\n",
			res.Params.EMA.Fast, res.Params.EMA.Mid, res.Params.BB.N, res.Params.BB.K,
			res.Params.ATR.N, res.Params.ATR.K1, res.Params.ATR.K2, res.Params.RSI.Period,
			res.Params.MACD.Fast, res.Params.MACD.Slow, res.Params.MACD.Signal)
		return
	}

	ev, err := backtest.Run(runner, *name, set)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	if *asJSON {
		printJSON(ev)
		return
	}
	for _, s := range ev.Signals {
		fmt.Printf("  %s %-4s @ %.5f\n", s.Time.Format("2006-01-02 15:04"), s.Side, s.Price)
	}
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Strategy:          %-16s ║\n", *name)
	fmt.Printf("║  Candles:           %-16d ║\n", runner.Len())
	fmt.Printf("║  Signals:           %-16d ║\n", len(ev.Signals))
	fmt.Printf("║  Profit:            %-16.5f ║\n", ev.Profit())
	fmt.Println("╚══════════════════════════════════════╝")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("[backtest] encode: %v", err)
	}
}
