package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"fxtrader/internal/breaker"
)

// EventAppender is the stream write BufferedEvents guards.
type EventAppender interface {
	AppendEvent(ctx context.Context, stream string, payload []byte) error
}

type pendingEvent struct {
	stream  string
	payload []byte
}

// BufferedEvents wraps an EventAppender with a circuit breaker. While the
// breaker is open, events are held in memory (oldest dropped past maxBuf) and
// replayed when it closes again.
type BufferedEvents struct {
	sink EventAppender
	cb   *breaker.Breaker
	ctx  context.Context

	mu     sync.Mutex
	buffer []pendingEvent
	maxBuf int

	// OnBuffer is called when an event is buffered (for metrics).
	OnBuffer func()
	// OnFlush is called after buffered events are replayed.
	OnFlush func(count int)
}

// NewBufferedEvents registers a flush on the breaker's close transition.
func NewBufferedEvents(ctx context.Context, sink EventAppender, cb *breaker.Breaker, maxBufferSize int) *BufferedEvents {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	be := &BufferedEvents{
		sink:   sink,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingEvent, 0, 64),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(name string, from, to breaker.State) {
		if prev != nil {
			prev(name, from, to)
		}
		if to == breaker.StateClosed {
			go be.flush()
		}
	}
	return be
}

// Append writes an event through the breaker, buffering it on failure.
func (be *BufferedEvents) Append(stream string, payload []byte) {
	err := be.cb.Execute(func() error {
		return be.sink.AppendEvent(be.ctx, stream, payload)
	})
	if err == nil {
		return
	}
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		log.Printf("[redis] append %s failed, buffering: %v", stream, err)
	}
	be.bufferEvent(stream, payload)
}

func (be *BufferedEvents) bufferEvent(stream string, payload []byte) {
	be.mu.Lock()
	defer be.mu.Unlock()
	if len(be.buffer) >= be.maxBuf {
		be.buffer = be.buffer[1:]
	}
	be.buffer = append(be.buffer, pendingEvent{stream: stream, payload: payload})
	if be.OnBuffer != nil {
		be.OnBuffer()
	}
}

func (be *BufferedEvents) flush() {
	be.mu.Lock()
	if len(be.buffer) == 0 {
		be.mu.Unlock()
		return
	}
	toFlush := be.buffer
	be.buffer = make([]pendingEvent, 0, 64)
	be.mu.Unlock()

	flushed := 0
	for i, ev := range toFlush {
		if err := be.sink.AppendEvent(be.ctx, ev.stream, ev.payload); err != nil {
			log.Printf("[redis] flush stopped after %d events: %v", flushed, err)
			be.mu.Lock()
			be.buffer = append(toFlush[i:], be.buffer...)
			be.mu.Unlock()
			break
		}
		flushed++
	}

	log.Printf("[redis] flushed %d buffered events", flushed)
	if be.OnFlush != nil {
		be.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events.
func (be *BufferedEvents) PendingCount() int {
	be.mu.Lock()
	defer be.mu.Unlock()
	return len(be.buffer)
}
