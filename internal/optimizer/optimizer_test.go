package optimizer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/backtest"
	"fxtrader/internal/metrics"
	"fxtrader/internal/model"
	"fxtrader/internal/paramstore"
	sqlitestore "fxtrader/internal/store/sqlite"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func swings(n int) []model.Candle {
	out := make([]model.Candle, n)
	price, dir := 150.0, -0.2
	for i := range out {
		if i%25 == 0 {
			dir = -dir
		}
		price += dir
		out[i] = model.Candle{
			Instrument: "USD_JPY", Duration: model.Duration1M,
			Time: t0.Add(time.Duration(i) * time.Minute),
			Open: price - dir, High: price + 0.05, Low: price - 0.05 - 0.1, Close: price,
		}
	}
	return out
}

// flaky fails with no candles for the first misses calls.
type flaky struct {
	misses  int
	calls   int
	candles []model.Candle
}

func (f *flaky) GetRecentCandles(context.Context, string, model.Duration, int) ([]model.Candle, error) {
	f.calls++
	if f.calls <= f.misses {
		return nil, nil
	}
	return f.candles, nil
}

func (f *flaky) UpsertFromTick(context.Context, string, model.Duration, model.Tick) (bool, error) {
	return false, nil
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Instrument = "USD_JPY"
	cfg.ParamsPath = filepath.Join(t.TempDir(), "params.yaml")
	cfg.PastPeriod = 300
	cfg.MaxAttempts = 3
	return cfg
}

func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestRunOnceWritesParams(t *testing.T) {
	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SaveCandles(context.Background(), swings(300)))

	cfg := testConfig(t)
	o := New(cfg, store, nil)
	res, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Params.ATR.Enabled)

	doc, err := paramstore.Read(cfg.ParamsPath)
	require.NoError(t, err)
	assert.Equal(t, res.Params, doc.Params)
	assert.Len(t, doc.Ranking, len(backtest.Names))
}

func TestRunWithRetryRecovers(t *testing.T) {
	var waits []time.Duration
	store := &flaky{misses: 2, candles: swings(200)}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	o := New(testConfig(t), store, m)
	o.sleep = noSleep(&waits)

	_, err := o.RunWithRetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)
	require.Len(t, waits, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OptimizerRuns.WithLabelValues("retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizerRuns.WithLabelValues("ok")))
}

func TestRunWithRetryGivesUp(t *testing.T) {
	var waits []time.Duration
	store := &flaky{misses: 100}
	o := New(testConfig(t), store, nil)
	o.sleep = noSleep(&waits)

	_, err := o.RunWithRetry(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, backtest.ErrInsufficientCandles))
	assert.Equal(t, 3, store.calls)
	assert.Len(t, waits, 2)
	for _, w := range waits {
		assert.LessOrEqual(t, w, DefaultConfig().MaxBackoff)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := New(testConfig(t), &flaky{misses: 100}, nil)
	o.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	assert.NoError(t, o.Run(ctx))
}
