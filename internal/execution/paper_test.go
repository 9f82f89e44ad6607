package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/model"
	"fxtrader/internal/portfolio"
)

func quote(inst string, bid, ask float64) model.Tick {
	return model.Tick{Instrument: inst, Bid: bid, Ask: ask, Time: time.Now().UTC()}
}

func TestPaperBroker_FillAndClose(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker("JPY", 100000, []model.Instrument{model.DefaultInstruments[model.USDJPY]}, nil)

	_, err := p.SendOrder(ctx, model.Order{Instrument: model.USDJPY, Side: model.Buy, Units: 100, Type: model.OrderTrail, Price: 0.2})
	assert.ErrorIs(t, err, model.ErrTransient, "no quote yet")

	p.Observe(quote(model.USDJPY, 150.00, 150.02))
	tr, err := p.SendOrder(ctx, model.Order{Instrument: model.USDJPY, Side: model.Buy, Units: 100, Type: model.OrderTrail, Price: 0.2})
	require.NoError(t, err)
	assert.Equal(t, 150.02, tr.Price)

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	inst := model.DefaultInstruments[model.USDJPY]
	assert.InDelta(t, portfolio.Collateral(inst, 100, 150.02, 1), bal.RequiredCollateral, 1e-6)
	assert.InDelta(t, 25*100*150.02, bal.RequiredCollateral, 1e-6)

	open, err := p.GetOpenTrades(ctx, model.USDJPY)
	require.NoError(t, err)
	require.Len(t, open, 1)

	p.Observe(quote(model.USDJPY, 151.02, 151.04))
	closed, err := p.CloseTrade(ctx, tr.TradeID)
	require.NoError(t, err)
	assert.Equal(t, 151.02, closed.Price)

	bal, _ = p.GetBalance(ctx)
	assert.InDelta(t, 100000+100, bal.Available, 1e-6)
	assert.Zero(t, bal.RequiredCollateral)

	_, err = p.CloseTrade(ctx, tr.TradeID)
	assert.ErrorIs(t, err, model.ErrRejected)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPaperBroker_CollateralUsesCrossQuote(t *testing.T) {
	ctx := context.Background()
	eurusd := model.DefaultInstruments[model.EURUSD]
	p := NewPaperBroker("JPY", 100000, []model.Instrument{eurusd}, nil)
	p.Observe(quote(model.EURUSD, 1.0999, 1.1001))
	p.Observe(quote(model.USDJPY, 149.99, 150.01))

	tr, err := p.SendOrder(ctx, model.Order{Instrument: model.EURUSD, Side: model.Buy, Units: 1000, Type: model.OrderTrail, Price: 0.002})
	require.NoError(t, err)

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, portfolio.Collateral(eurusd, 1000, tr.Price, 150), bal.RequiredCollateral, 1e-6)
}

func TestPaperBroker_StopTriggersClose(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker("JPY", 100000, nil, nil)
	p.Observe(quote(model.USDJPY, 150.00, 150.02))

	_, err := p.SendOrder(ctx, model.Order{Instrument: model.USDJPY, Side: model.Buy, Units: 10})
	require.NoError(t, err)
	stop, err := p.SendStopOrder(ctx, model.Order{Instrument: model.USDJPY, Side: model.Sell, Units: 10, Price: 149.5})
	require.NoError(t, err)

	p.Observe(quote(model.USDJPY, 149.8, 149.82))
	open, _ := p.GetOpenTrades(ctx, "")
	assert.Len(t, open, 1)

	p.Observe(quote(model.USDJPY, 149.4, 149.42))
	open, _ = p.GetOpenTrades(ctx, "")
	assert.Empty(t, open)
	assert.False(t, p.CancelStopOrder(ctx, model.USDJPY, stop.TradeID), "triggered stop is gone")
}

func TestPaperBroker_CancelStop(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker("JPY", 1, nil, nil)
	stop, err := p.SendStopOrder(ctx, model.Order{Instrument: model.EURJPY, Side: model.Buy, Units: 1, Price: 160})
	require.NoError(t, err)

	assert.False(t, p.CancelStopOrder(ctx, model.USDJPY, stop.TradeID), "wrong instrument")
	assert.True(t, p.CancelStopOrder(ctx, model.EURJPY, stop.TradeID))
	assert.False(t, p.CancelStopOrder(ctx, model.EURJPY, stop.TradeID))

	_, err = p.SendStopOrder(ctx, model.Order{Instrument: model.EURJPY, Side: model.Buy, Units: 1})
	assert.ErrorIs(t, err, model.ErrRejected)
}

func TestPaperBroker_StreamPushedTicks(t *testing.T) {
	p := NewPaperBroker("JPY", 1, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p.Push(quote(model.EURJPY, 160, 160.02))
	p.Push(quote(model.USDJPY, 150, 150.02))

	var got []string
	err := p.StreamTicks(ctx, []string{model.USDJPY}, func(tk model.Tick) {
		got = append(got, tk.Instrument)
		cancel()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{model.USDJPY}, got)

	// the filtered EUR_JPY tick still updated the quote book
	_, err = p.SendOrder(context.Background(), model.Order{Instrument: model.EURJPY, Side: model.Sell, Units: 1})
	assert.NoError(t, err)
}
