package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"fxtrader/internal/model"
)

// EventKind classifies a journal entry.
type EventKind string

const (
	EventOpen          EventKind = "open"
	EventClose         EventKind = "close"
	EventStopReplace   EventKind = "stop_replace"
	EventReconcileDrop EventKind = "reconcile_drop"
)

// TradeEvent is one position lifecycle change.
type TradeEvent struct {
	Kind       EventKind       `json:"kind"`
	Instrument string          `json:"instrument"`
	Tag        model.SignalTag `json:"tag"`
	Side       model.Side      `json:"side"`
	Units      float64         `json:"units"`
	Price      float64         `json:"price"`
	StopLoss   float64         `json:"stop_loss,omitempty"`
	TradeID    string          `json:"trade_id,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	PnL        float64         `json:"pnl,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	TraceID    string          `json:"trace_id,omitempty"`
	At         time.Time       `json:"at"`
}

// TradeRecorder receives every trade event the coordinator produces.
type TradeRecorder interface {
	Record(ctx context.Context, ev TradeEvent) error
}

// EventSink forwards serialized events to a stream, e.g. redis.BufferedEvents.
type EventSink interface {
	Append(stream string, payload []byte)
}

// Journal persists trade events to SQLite and mirrors them onto an event stream.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	sink   EventSink
	stream string
}

// NewJournal creates the trades table on db. sink may be nil.
func NewJournal(db *sql.DB, sink EventSink, stream string) (*Journal, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		kind        TEXT NOT NULL,
		instrument  TEXT NOT NULL,
		tag         TEXT NOT NULL,
		side        TEXT NOT NULL,
		units       REAL NOT NULL,
		price       REAL NOT NULL,
		stop_loss   REAL DEFAULT 0,
		trade_id    TEXT,
		order_id    TEXT,
		pnl         REAL DEFAULT 0,
		reason      TEXT,
		trace_id    TEXT,
		at          TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument, tag);
	CREATE INDEX IF NOT EXISTS idx_trades_at ON trades(at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	log.Printf("[journal] trade journal ready")
	return &Journal{db: db, sink: sink, stream: stream}, nil
}

// Record persists ev and publishes it to the event stream.
func (j *Journal) Record(ctx context.Context, ev TradeEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	j.mu.Lock()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (kind, instrument, tag, side, units, price, stop_loss, trade_id, order_id, pnl, reason, trace_id, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.Instrument, string(ev.Tag), string(ev.Side),
		ev.Units, ev.Price, ev.StopLoss, ev.TradeID, ev.OrderID, ev.PnL,
		ev.Reason, ev.TraceID, ev.At.Format(time.RFC3339Nano),
	)
	j.mu.Unlock()
	if err != nil {
		return fmt.Errorf("journal: record %s %s/%s: %w", ev.Kind, ev.Instrument, ev.Tag, err)
	}

	if j.sink != nil {
		if payload, err := json.Marshal(ev); err == nil {
			j.sink.Append(j.stream, payload)
		}
	}
	return nil
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID int64 `json:"id"`
	TradeEvent
}

// GetTrades returns the last limit events, newest first.
func (j *Journal) GetTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kind, instrument, tag, side, units, price, stop_loss,
		        COALESCE(trade_id, ''), COALESCE(order_id, ''), pnl,
		        COALESCE(reason, ''), COALESCE(trace_id, ''), at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			r                   TradeRecord
			kind, tag, side, at string
		)
		if err := rows.Scan(&r.ID, &kind, &r.Instrument, &tag, &side, &r.Units, &r.Price,
			&r.StopLoss, &r.TradeID, &r.OrderID, &r.PnL, &r.Reason, &r.TraceID, &at); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		r.Kind = EventKind(kind)
		r.Tag = model.SignalTag(tag)
		r.Side = model.Side(side)
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}
