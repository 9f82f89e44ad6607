// Package bus broadcasts values from one producer to several consumers.
package bus

import (
	"context"
	"log"
	"sync"
)

// FanOut broadcasts values from a single input channel to N output channels.
// If an output channel is full, the value is dropped for that consumer to
// prevent a slow consumer from blocking the pipeline.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	names   []string
	bufSize int

	// OnDrop is called when a value is dropped for the named subscriber.
	OnDrop func(subscriber string)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel for name.
func (f *FanOut[T]) Subscribe(name string) <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Publish delivers v to every subscriber without blocking.
func (f *FanOut[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, ch := range f.outputs {
		select {
		case ch <- v:
		default:
			if f.OnDrop != nil {
				f.OnDrop(f.names[i])
			} else {
				log.Printf("[bus] subscriber %s full, dropping value", f.names[i])
			}
		}
	}
}

// Run reads from input and fans out to all subscribers, closing them on
// return. Blocks until ctx is cancelled or input is closed.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.Publish(v)
		}
	}
}

// ChannelStat is the (length, capacity) of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats reports the fill level of each subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
