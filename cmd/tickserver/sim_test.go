package main

import (
	"context"
	"math/rand"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/model"
	"fxtrader/pkg/fxbroker"
)

func TestNewQuoteUsesInstrumentTick(t *testing.T) {
	q := newQuote(model.USDJPY)
	assert.Equal(t, 3, q.Digits)
	assert.InDelta(t, 0.003, q.Spread, 1e-12)

	msg := q.message(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "PRICE", msg.Type)
	for _, px := range []string{msg.Bids[0].Price, msg.Asks[0].Price} {
		dot := strings.IndexByte(px, '.')
		require.Positive(t, dot)
		assert.Len(t, px[dot+1:], 3, px)
	}
	assert.Less(t, msg.Bids[0].Price, msg.Asks[0].Price)

	unknown := newQuote("XAU_USD")
	assert.Equal(t, 100.0, unknown.Mid)
	assert.Greater(t, unknown.Spread, 0.0)
}

func TestWalkStaysPositive(t *testing.T) {
	q := newQuote(model.EURUSD)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		q.walk(rng)
		require.Greater(t, q.Mid, q.Spread)
	}
}

func startServer(t *testing.T, token string, symbols ...string) (*generator, string) {
	t.Helper()
	h := newHub()
	var quotes []quote
	for _, s := range symbols {
		quotes = append(quotes, newQuote(s))
	}
	gen := &generator{hub: h, quotes: quotes, rng: rand.New(rand.NewSource(7)), now: time.Now}
	srv := httptest.NewServer(streamHandler(h, token))
	t.Cleanup(srv.Close)
	return gen, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBrokerClientReadsSimulatedStream(t *testing.T) {
	gen, url := startServer(t, "tok", model.USDJPY, model.EURUSD)
	client := fxbroker.New(fxbroker.Config{StreamURL: url, Token: "tok"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []model.Tick
	)
	done := make(chan error, 1)
	go func() {
		done <- client.StreamTicks(ctx, []string{model.USDJPY}, func(tk model.Tick) {
			mu.Lock()
			got = append(got, tk)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		gen.step()
		gen.beat()
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 3
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	for _, tk := range got {
		assert.Equal(t, model.USDJPY, tk.Instrument, "subscription filter")
		assert.Less(t, tk.Bid, tk.Ask)
	}
}

func TestStreamRejectsBadToken(t *testing.T) {
	_, url := startServer(t, "tok", model.USDJPY)
	client := fxbroker.New(fxbroker.Config{StreamURL: url, Token: "wrong"}, nil)
	err := client.StreamTicks(context.Background(), []string{model.USDJPY}, func(model.Tick) {})
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}
