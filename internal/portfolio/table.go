// Package portfolio owns the engine's view of open positions, the balance
// snapshot, sizing and the pre-trade risk gate.
//
// The position table is keyed instrument → signal tag → positions. Each
// (instrument, tag) slice holds at most one position; the broker is the
// source of truth and Reconcile drops anything it no longer reports.
package portfolio

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"fxtrader/internal/model"
)

// ErrSlotOccupied is returned by RecordOpen when the (instrument, tag)
// slice already holds a position.
var ErrSlotOccupied = errors.New("portfolio: position already open for tag")

// Table tracks open positions per instrument and signal tag.
type Table struct {
	mu        sync.RWMutex
	positions map[string]map[model.SignalTag][]model.Position

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewTable creates an empty position table.
func NewTable() *Table {
	return &Table{
		positions: make(map[string]map[model.SignalTag][]model.Position),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-instrument action lock and returns its release func.
// Every open, close and stop replacement for an instrument runs under it.
func (t *Table) Lock(instrument string) func() {
	t.lockMu.Lock()
	l, ok := t.locks[instrument]
	if !ok {
		l = &sync.Mutex{}
		t.locks[instrument] = l
	}
	t.lockMu.Unlock()
	l.Lock()
	return l.Unlock
}

// GetPositions returns a copy of the (instrument, tag) slice.
func (t *Table) GetPositions(instrument string, tag model.SignalTag) []model.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	src := t.positions[instrument][tag]
	if len(src) == 0 {
		return nil
	}
	out := make([]model.Position, len(src))
	copy(out, src)
	return out
}

// RecordOpen stores a newly filled position.
func (t *Table) RecordOpen(p model.Position) error {
	if p.TradeID == "" {
		return fmt.Errorf("portfolio: record open %s/%s: empty trade id", p.Instrument, p.Tag)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	byTag, ok := t.positions[p.Instrument]
	if !ok {
		byTag = make(map[model.SignalTag][]model.Position)
		t.positions[p.Instrument] = byTag
	}
	if len(byTag[p.Tag]) > 0 {
		return fmt.Errorf("portfolio: record open %s/%s: %w", p.Instrument, p.Tag, ErrSlotOccupied)
	}
	byTag[p.Tag] = []model.Position{p}
	return nil
}

// RecordClose clears the (instrument, tag) slice and returns what it held.
func (t *Table) RecordClose(instrument string, tag model.SignalTag) []model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	byTag := t.positions[instrument]
	removed := byTag[tag]
	delete(byTag, tag)
	return removed
}

// RemoveTrade drops the position with tradeID from the (instrument, tag)
// slice and reports whether it was there.
func (t *Table) RemoveTrade(instrument string, tag model.SignalTag, tradeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	byTag := t.positions[instrument]
	slice := byTag[tag]
	for i, p := range slice {
		if p.TradeID != tradeID {
			continue
		}
		kept := append(slice[:i:i], slice[i+1:]...)
		if len(kept) == 0 {
			delete(byTag, tag)
		} else {
			byTag[tag] = kept
		}
		return true
	}
	return false
}

// UpdateStopLoss sets the stop level and resting stop order id on every
// position in the slice. It reports whether anything was updated.
func (t *Table) UpdateStopLoss(instrument string, tag model.SignalTag, price float64, stopOrderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	slice := t.positions[instrument][tag]
	for i := range slice {
		slice[i].StopLoss = price
		slice[i].StopOrderID = stopOrderID
	}
	return len(slice) > 0
}

// Reconcile drops every position whose trade id is not in openTradeIDs and
// returns the dropped positions. It takes each instrument's action lock, so
// callers must not hold one.
func (t *Table) Reconcile(openTradeIDs []string) []model.Position {
	open := make(map[string]struct{}, len(openTradeIDs))
	for _, id := range openTradeIDs {
		open[id] = struct{}{}
	}

	var dropped []model.Position
	for _, instrument := range t.Instruments() {
		unlock := t.Lock(instrument)
		t.mu.Lock()
		for tag, slice := range t.positions[instrument] {
			kept := slice[:0]
			for _, p := range slice {
				if _, ok := open[p.TradeID]; ok {
					kept = append(kept, p)
					continue
				}
				dropped = append(dropped, p)
			}
			if len(kept) == 0 {
				delete(t.positions[instrument], tag)
			} else {
				t.positions[instrument][tag] = kept
			}
		}
		t.mu.Unlock()
		unlock()
	}

	if n := t.Count(); n != len(openTradeIDs) {
		log.Printf("[portfolio] reconcile: local=%d broker=%d dropped=%d", n, len(openTradeIDs), len(dropped))
	}
	return dropped
}

// Instruments lists instruments with at least one slice, sorted.
func (t *Table) Instruments() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.positions))
	for k := range t.positions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All returns a snapshot of every open position.
func (t *Table) All() []model.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []model.Position
	for _, byTag := range t.positions {
		for _, slice := range byTag {
			out = append(out, slice...)
		}
	}
	return out
}

// Count returns the number of open positions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, byTag := range t.positions {
		for _, slice := range byTag {
			n += len(slice)
		}
	}
	return n
}
