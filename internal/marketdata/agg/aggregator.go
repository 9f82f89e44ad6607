// Package agg folds streaming ticks into candles of every configured
// duration and announces when a new bar opens on the trading duration.
package agg

import (
	"context"
	"log"
	"time"

	"fxtrader/internal/model"
)

// BarEvent is emitted when a tick opens a new bucket on the trading duration.
// Closed is the bar that just completed; it is zero for the first bar seen.
type BarEvent struct {
	Instrument string
	Duration   model.Duration
	OpenedAt   time.Time
	Closed     model.Candle
}

// CandlePublisher receives each completed trading-duration bar, e.g. redis.Publisher.
type CandlePublisher interface {
	PublishCandle(ctx context.Context, c model.Candle) error
}

// Aggregator upserts every tick into each configured duration.
// It runs in a single goroutine; the store serializes writes.
type Aggregator struct {
	store     model.CandleStore
	durations []model.Duration
	trade     model.Duration
	publisher CandlePublisher

	// Metrics hooks (optional, set externally)
	OnTick    func(model.Tick)
	OnCreated func(d model.Duration)
	OnError   func(error)
}

// New creates an aggregator writing to store. trade is the duration whose
// new bars produce BarEvents. publisher may be nil.
func New(store model.CandleStore, durations []model.Duration, trade model.Duration, publisher CandlePublisher) *Aggregator {
	return &Aggregator{
		store:     store,
		durations: durations,
		trade:     trade,
		publisher: publisher,
	}
}

// Run consumes ticks from tickCh and sends a BarEvent to barCh for every new
// trading-duration bucket. Blocks until ctx is cancelled or tickCh is closed.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, barCh chan<- BarEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			ev, opened := a.Process(ctx, tick)
			if !opened {
				continue
			}
			select {
			case barCh <- ev:
			default:
				log.Printf("[agg] bar channel full, dropping %s %s event", ev.Instrument, ev.Duration)
			}
		}
	}
}

// Process upserts tick into every duration. It reports a BarEvent when the
// tick opened a new trading-duration bucket.
func (a *Aggregator) Process(ctx context.Context, tick model.Tick) (BarEvent, bool) {
	if tick.Instrument == "" || tick.Bid <= 0 || tick.Ask <= 0 {
		return BarEvent{}, false
	}
	if tick.Time.IsZero() {
		tick.Time = time.Now().UTC()
	}
	if a.OnTick != nil {
		a.OnTick(tick)
	}

	var (
		ev     BarEvent
		opened bool
	)
	for _, d := range a.durations {
		created, err := a.store.UpsertFromTick(ctx, tick.Instrument, d, tick)
		if err != nil {
			if a.OnError != nil {
				a.OnError(err)
			}
			log.Printf("[agg] upsert %s/%s: %v", tick.Instrument, d, err)
			continue
		}
		if !created {
			continue
		}
		if a.OnCreated != nil {
			a.OnCreated(d)
		}
		if d == a.trade {
			ev, opened = a.barEvent(ctx, tick, d), true
		}
	}
	return ev, opened
}

func (a *Aggregator) barEvent(ctx context.Context, tick model.Tick, d model.Duration) BarEvent {
	ev := BarEvent{Instrument: tick.Instrument, Duration: d, OpenedAt: d.Truncate(tick.Time)}
	recent, err := a.store.GetRecentCandles(ctx, tick.Instrument, d, 2)
	if err != nil || len(recent) < 2 {
		return ev
	}
	ev.Closed = recent[0]
	if a.publisher != nil {
		if err := a.publisher.PublishCandle(ctx, ev.Closed); err != nil {
			log.Printf("[agg] publish %s: %v", ev.Closed.Key(), err)
		}
	}
	return ev
}
