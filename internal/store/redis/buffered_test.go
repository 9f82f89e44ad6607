package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/breaker"
)

type fakeSink struct {
	mu   sync.Mutex
	fail bool
	got  []string
}

func (f *fakeSink) AppendEvent(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.got = append(f.got, string(payload))
	return nil
}

func (f *fakeSink) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeSink) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func TestBufferedEvents_PassThrough(t *testing.T) {
	sink := &fakeSink{}
	be := NewBufferedEvents(context.Background(), sink, breaker.New("redis", 2, time.Hour), 10)
	be.Append(TradeStream, []byte("a"))
	be.Append(TradeStream, []byte("b"))
	assert.Equal(t, []string{"a", "b"}, sink.received())
	assert.Zero(t, be.PendingCount())
}

func TestBufferedEvents_BuffersAndFlushesOnClose(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb := breaker.New("redis", 1, 10*time.Millisecond)
	be := NewBufferedEvents(context.Background(), sink, cb, 10)

	flushed := make(chan int, 1)
	be.OnFlush = func(n int) { flushed <- n }

	be.Append(TradeStream, []byte("1")) // fails, opens breaker
	be.Append(TradeStream, []byte("2")) // rejected by open breaker
	require.Equal(t, 2, be.PendingCount())
	require.Equal(t, breaker.StateOpen, cb.CurrentState())

	sink.setFail(false)
	time.Sleep(20 * time.Millisecond)
	be.Append(TradeStream, []byte("3")) // probe succeeds, closes breaker

	select {
	case n := <-flushed:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("flush not triggered")
	}
	assert.ElementsMatch(t, []string{"1", "2", "3"}, sink.received())
	assert.Zero(t, be.PendingCount())
}

func TestBufferedEvents_DropsOldestWhenFull(t *testing.T) {
	sink := &fakeSink{fail: true}
	be := NewBufferedEvents(context.Background(), sink, breaker.New("redis", 1, time.Hour), 2)
	for _, p := range []string{"1", "2", "3"} {
		be.Append(TradeStream, []byte(p))
	}
	require.Equal(t, 2, be.PendingCount())
	assert.Equal(t, "2", string(be.buffer[0].payload))
}
