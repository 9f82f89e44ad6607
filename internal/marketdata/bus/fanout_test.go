package bus

import (
	"context"
	"testing"
	"time"

	"fxtrader/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[model.Tick](10)
	out1 := fo.Subscribe("ingest")
	out2 := fo.Subscribe("health")

	input := make(chan model.Tick, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Tick{Instrument: "USD_JPY", Bid: 150, Ask: 150.02}

	for name, out := range map[string]<-chan model.Tick{"out1": out1, "out2": out2} {
		select {
		case tk := <-out:
			if tk.Instrument != "USD_JPY" {
				t.Errorf("%s: expected USD_JPY, got %s", name, tk.Instrument)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for tick", name)
		}
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New[int](1)
	fast := fo.Subscribe("fast")
	_ = fo.Subscribe("slow")

	var dropped []string
	fo.OnDrop = func(name string) { dropped = append(dropped, name) }

	fo.Publish(1)
	<-fast
	fo.Publish(2)

	if len(dropped) != 1 || dropped[0] != "slow" {
		t.Fatalf("expected one drop for slow, got %v", dropped)
	}
	stats := fo.ChannelStats()
	if stats[1].Len != 1 || stats[1].Cap != 1 {
		t.Errorf("slow stats = %+v", stats[1])
	}
}

func TestFanOut_ClosesOutputsOnInputClose(t *testing.T) {
	fo := New[int](1)
	out := fo.Subscribe("a")
	input := make(chan int)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	close(input)
	<-done
	if _, ok := <-out; ok {
		t.Fatal("output should be closed")
	}
}
