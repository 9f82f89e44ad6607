package execution

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"fxtrader/internal/model"
	"fxtrader/internal/portfolio"
)

type paperStop struct {
	order model.Order
	id    string
}

// PaperBroker is an in-memory BrokerGateway with immediate fills at the last
// observed quote. Resting stops trigger on later quotes and close the
// matching open trade. Prices come from an optional upstream feed, or from
// Push.
type PaperBroker struct {
	mu          sync.Mutex
	currency    string
	cash        float64
	instruments map[string]model.Instrument
	quotes      map[string]model.Tick
	trades      map[string]model.Trade
	stops       map[string]paperStop
	seq         int64

	feed   model.BrokerGateway
	pushCh chan model.Tick
	now    func() time.Time
}

// NewPaperBroker creates a paper account funded with balance. feed may be nil.
func NewPaperBroker(currency string, balance float64, instruments []model.Instrument, feed model.BrokerGateway) *PaperBroker {
	byName := make(map[string]model.Instrument, len(instruments))
	for _, inst := range instruments {
		byName[inst.Symbol] = inst
	}
	return &PaperBroker{
		currency:    currency,
		cash:        balance,
		instruments: byName,
		quotes:      make(map[string]model.Tick),
		trades:      make(map[string]model.Trade),
		stops:       make(map[string]paperStop),
		feed:        feed,
		pushCh:      make(chan model.Tick, 256),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ model.BrokerGateway = (*PaperBroker)(nil)

func (p *PaperBroker) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s-%d", prefix, p.seq)
}

// GetBalance returns cash plus realised P&L and the collateral of open
// trades, booked with portfolio.Collateral at the latest cross quotes.
func (p *PaperBroker) GetBalance(ctx context.Context) (model.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	crosses := make(map[string]float64, len(p.quotes))
	for sym, q := range p.quotes {
		crosses[sym] = q.Mid()
	}
	var margin float64
	for _, t := range p.trades {
		if inst, ok := p.instruments[t.Instrument]; ok {
			margin += portfolio.Collateral(inst, t.Units, t.Price, portfolio.FXFactor(inst, crosses))
		}
	}
	return model.Balance{
		Currency:           p.currency,
		Available:          p.cash,
		RequiredCollateral: margin,
		FetchedAt:          p.now(),
	}, nil
}

// GetOpenTrades lists open paper trades ordered by id.
func (p *PaperBroker) GetOpenTrades(ctx context.Context, instrument string) ([]model.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Trade, 0, len(p.trades))
	for _, t := range p.trades {
		if instrument == "" || t.Instrument == instrument {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].OpenTime.Before(out[j].OpenTime)
		}
		return out[i].TradeID < out[j].TradeID
	})
	return out, nil
}

// SendOrder fills at the current ask (buy) or bid (sell).
func (p *PaperBroker) SendOrder(ctx context.Context, order model.Order) (model.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if order.Units <= 0 {
		return model.Trade{}, fmt.Errorf("paper: %w: units must be positive", model.ErrRejected)
	}
	px, err := p.fillPrice(order.Instrument, order.Side)
	if err != nil {
		return model.Trade{}, err
	}
	t := model.Trade{
		TradeID:    p.nextID("PAPER"),
		Instrument: order.Instrument,
		Side:       order.Side,
		Price:      px,
		Units:      order.Units,
		OpenTime:   p.now(),
	}
	p.trades[t.TradeID] = t
	log.Printf("[paper] %s %s %s units=%g @ %g trade=%s", order.Type, order.Side, order.Instrument, order.Units, px, t.TradeID)
	return t, nil
}

// SendStopOrder rests a stop until Push or the feed crosses its price.
func (p *PaperBroker) SendStopOrder(ctx context.Context, order model.Order) (model.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if order.Price <= 0 {
		return model.Trade{}, fmt.Errorf("paper: %w: stop needs a price", model.ErrRejected)
	}
	order.Type = model.OrderStop
	id := p.nextID("STOP")
	p.stops[id] = paperStop{order: order, id: id}
	return model.Trade{
		TradeID: id, Instrument: order.Instrument, Side: order.Side,
		Price: order.Price, Units: order.Units, OpenTime: p.now(),
	}, nil
}

// CancelStopOrder removes a resting stop.
func (p *PaperBroker) CancelStopOrder(ctx context.Context, instrument, orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stops[orderID]
	if !ok || s.order.Instrument != instrument {
		return false
	}
	delete(p.stops, orderID)
	return true
}

// CloseTrade closes a trade at the current quote and books its P&L.
func (p *PaperBroker) CloseTrade(ctx context.Context, tradeID string) (model.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.trades[tradeID]
	if !ok {
		return model.Trade{}, fmt.Errorf("paper: close %s: %w: %w", tradeID, model.ErrRejected, model.ErrNotFound)
	}
	px, err := p.fillPrice(t.Instrument, t.Side.Opposite())
	if err != nil {
		return model.Trade{}, err
	}
	return p.closeLocked(t, px), nil
}

func (p *PaperBroker) closeLocked(t model.Trade, px float64) model.Trade {
	diff := px - t.Price
	if t.Side == model.Sell {
		diff = -diff
	}
	p.cash += diff * t.Units
	delete(p.trades, t.TradeID)
	return model.Trade{
		TradeID: t.TradeID, Instrument: t.Instrument, Side: t.Side.Opposite(),
		Price: px, Units: t.Units, OpenTime: p.now(),
	}
}

func (p *PaperBroker) fillPrice(instrument string, side model.Side) (float64, error) {
	q, ok := p.quotes[instrument]
	if !ok {
		return 0, fmt.Errorf("paper: %s: %w: no quote yet", instrument, model.ErrTransient)
	}
	if side == model.Buy {
		return q.Ask, nil
	}
	return q.Bid, nil
}

// Observe updates the quote for tick.Instrument and triggers resting stops.
func (p *PaperBroker) Observe(tick model.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[tick.Instrument] = tick

	for id, s := range p.stops {
		if s.order.Instrument != tick.Instrument {
			continue
		}
		hit := (s.order.Side == model.Sell && tick.Bid <= s.order.Price) ||
			(s.order.Side == model.Buy && tick.Ask >= s.order.Price)
		if !hit {
			continue
		}
		delete(p.stops, id)
		if t, ok := p.matchTrade(s.order); ok {
			closed := p.closeLocked(t, s.order.Price)
			log.Printf("[paper] stop %s triggered: closed %s @ %g", id, closed.TradeID, closed.Price)
		}
	}
}

// matchTrade finds the oldest open trade a stop order protects.
func (p *PaperBroker) matchTrade(stop model.Order) (model.Trade, bool) {
	var best model.Trade
	found := false
	for _, t := range p.trades {
		if t.Instrument != stop.Instrument || t.Side != stop.Side.Opposite() || t.Units != stop.Units {
			continue
		}
		if !found || t.OpenTime.Before(best.OpenTime) || (t.OpenTime.Equal(best.OpenTime) && t.TradeID < best.TradeID) {
			best, found = t, true
		}
	}
	return best, found
}

// Push injects a tick when no upstream feed is configured.
func (p *PaperBroker) Push(tick model.Tick) {
	select {
	case p.pushCh <- tick:
	default:
		log.Printf("[paper] push buffer full, dropping %s tick", tick.Instrument)
	}
}

// StreamTicks relays the upstream feed, or pushed ticks, observing each one.
func (p *PaperBroker) StreamTicks(ctx context.Context, instruments []string, fn model.TickHandler) error {
	if p.feed != nil {
		return p.feed.StreamTicks(ctx, instruments, func(t model.Tick) {
			p.Observe(t)
			fn(t)
		})
	}
	want := make(map[string]bool, len(instruments))
	for _, s := range instruments {
		want[s] = true
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-p.pushCh:
			p.Observe(t)
			if len(want) == 0 || want[t.Instrument] {
				fn(t)
			}
		}
	}
}
