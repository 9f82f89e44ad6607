package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fxtrader/internal/model"
)

// priceMsg is the broker's PRICE stream message.
type priceMsg struct {
	Type       string       `json:"type"`
	Instrument string       `json:"instrument"`
	Time       string       `json:"time"`
	Bids       []priceLevel `json:"bids"`
	Asks       []priceLevel `json:"asks"`
}

type priceLevel struct {
	Price string `json:"price"`
}

// quote is the simulated state of one instrument.
type quote struct {
	Symbol string
	Mid    float64
	Spread float64
	Digits int
}

var startPrices = map[string]float64{
	model.USDJPY:   150.000,
	model.EURJPY:   162.500,
	model.EURUSD:   1.08500,
	model.GBPUSD:   1.27000,
	model.FXBTCJPY: 9_500_000,
}

// newQuote seeds a quote from the reference instrument table.
func newQuote(symbol string) quote {
	q := quote{Symbol: symbol, Mid: startPrices[symbol], Digits: 5}
	if q.Mid == 0 {
		q.Mid = 100
	}
	if inst, ok := model.DefaultInstruments[symbol]; ok && inst.PriceTick > 0 {
		q.Spread = inst.PriceTick * 3
		q.Digits = len(strconv.FormatFloat(inst.PriceTick, 'f', -1, 64)) - 2
		if q.Digits < 0 {
			q.Digits = 0
		}
	} else {
		q.Spread = q.Mid * 0.0001
	}
	return q
}

// walk applies a random step of at most ±0.05% to the mid.
func (q *quote) walk(rng *rand.Rand) {
	pct := (rng.Float64()*0.1 - 0.05) / 100.0
	q.Mid += q.Mid * pct
	if q.Mid <= q.Spread {
		q.Mid = q.Spread * 2
	}
}

func (q quote) message(at time.Time) priceMsg {
	f := func(p float64) string { return strconv.FormatFloat(p, 'f', q.Digits, 64) }
	return priceMsg{
		Type:       "PRICE",
		Instrument: q.Symbol,
		Time:       at.UTC().Format(time.RFC3339Nano),
		Bids:       []priceLevel{{Price: f(q.Mid - q.Spread/2)}},
		Asks:       []priceLevel{{Price: f(q.Mid + q.Spread/2)}},
	}
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type subscriber struct {
	ch   chan []byte
	want map[string]bool // empty means every instrument
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*subscriber
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*subscriber)}
}

func (h *hub) register(conn *websocket.Conn, instruments []string) *subscriber {
	s := &subscriber{ch: make(chan []byte, 256), want: make(map[string]bool)}
	for _, i := range instruments {
		s.want[i] = true
	}
	h.mu.Lock()
	h.clients[conn] = s
	h.mu.Unlock()
	return s
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if s, ok := h.clients[conn]; ok {
		close(s.ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// broadcast sends msg to clients subscribed to instrument; "" reaches all.
func (h *hub) broadcast(instrument string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.clients {
		if instrument != "" && len(s.want) > 0 && !s.want[instrument] {
			continue
		}
		select {
		case s.ch <- msg:
		default: // slow client, drop
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// streamHandler serves /v3/pricing/stream. When token is set, requests
// without the matching bearer header get 401, as the broker does.
func streamHandler(h *hub, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, `{"errorMessage":"Insufficient authorization"}`, http.StatusUnauthorized)
			return
		}
		var instruments []string
		for _, s := range strings.Split(r.URL.Query().Get("instruments"), ",") {
			if s = strings.TrimSpace(s); s != "" {
				instruments = append(instruments, s)
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s instruments=%v", r.RemoteAddr, instruments)

		s := h.register(conn, instruments)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Drain reads so close frames are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range s.ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Generator ────────────────────────────────────────────────────────────────

type generator struct {
	hub       *hub
	quotes    []quote
	interval  time.Duration
	heartbeat time.Duration
	rng       *rand.Rand
	now       func() time.Time
}

// step advances every quote and broadcasts it.
func (g *generator) step() {
	at := g.now()
	for i := range g.quotes {
		g.quotes[i].walk(g.rng)
		b, err := json.Marshal(g.quotes[i].message(at))
		if err != nil {
			continue
		}
		g.hub.broadcast(g.quotes[i].Symbol, b)
	}
}

func (g *generator) beat() {
	b, _ := json.Marshal(map[string]string{"type": "HEARTBEAT", "time": g.now().UTC().Format(time.RFC3339Nano)})
	g.hub.broadcast("", b)
}

func (g *generator) run(stop <-chan struct{}) {
	ticks := time.NewTicker(g.interval)
	defer ticks.Stop()
	beats := time.NewTicker(g.heartbeat)
	defer beats.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticks.C:
			g.step()
		case <-beats.C:
			g.beat()
		}
	}
}
