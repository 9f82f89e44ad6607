package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/model"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DBPath: filepath.Join(t.TempDir(), "candles.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tick(at time.Time, bid, ask, vol float64) model.Tick {
	return model.Tick{Instrument: model.USDJPY, Time: at, Bid: bid, Ask: ask, Volume: vol}
}

func TestUpsertFromTick_CreateThenUpdate(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	created, err := s.UpsertFromTick(ctx, model.USDJPY, model.Duration1M, tick(base.Add(5*time.Second), 150.0, 150.2, 1))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertFromTick(ctx, model.USDJPY, model.Duration1M, tick(base.Add(20*time.Second), 150.4, 150.6, 2))
	require.NoError(t, err)
	assert.False(t, created)

	created, err = s.UpsertFromTick(ctx, model.USDJPY, model.Duration1M, tick(base.Add(40*time.Second), 149.8, 150.0, 3))
	require.NoError(t, err)
	assert.False(t, created)

	candles, err := s.GetRecentCandles(ctx, model.USDJPY, model.Duration1M, 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	c := candles[0]
	assert.Equal(t, base, c.Time)
	assert.InDelta(t, 150.1, c.Open, 1e-9)
	assert.InDelta(t, 150.5, c.High, 1e-9)
	assert.InDelta(t, 149.9, c.Low, 1e-9)
	assert.InDelta(t, 149.9, c.Close, 1e-9)
	assert.InDelta(t, 6, c.Volume, 1e-9)
}

func TestUpsertFromTick_NewBucketPerDuration(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	for _, at := range []time.Duration{0, 30 * time.Second, 61 * time.Second} {
		_, err := s.UpsertFromTick(ctx, model.USDJPY, model.Duration1M, tick(base.Add(at), 150, 150, 1))
		require.NoError(t, err)
		_, err = s.UpsertFromTick(ctx, model.USDJPY, model.Duration5M, tick(base.Add(at), 150, 150, 1))
		require.NoError(t, err)
	}

	n, err := s.CountCandles(ctx, model.USDJPY, model.Duration1M)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.CountCandles(ctx, model.USDJPY, model.Duration5M)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetRecentCandles_AscendingAndLimited(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	var in []model.Candle
	for i := 0; i < 10; i++ {
		px := 100 + float64(i)
		in = append(in, model.Candle{
			Instrument: model.EURUSD, Duration: model.Duration1H,
			Time: base.Add(time.Duration(i) * time.Hour),
			Open: px, High: px, Low: px, Close: px,
		})
	}
	require.NoError(t, s.SaveCandles(ctx, in))

	got, err := s.GetRecentCandles(ctx, model.EURUSD, model.Duration1H, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 107.0, got[0].Close)
	assert.Equal(t, 109.0, got[2].Close)
	assert.True(t, got[0].Time.Before(got[1].Time))

	between, err := s.GetCandlesBetween(ctx, model.EURUSD, model.Duration1H, base.Add(2*time.Hour), base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Len(t, between, 3)

	other, err := s.GetRecentCandles(ctx, model.USDJPY, model.Duration1H, 3)
	require.NoError(t, err)
	assert.Empty(t, other)
}
