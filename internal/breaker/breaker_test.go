package breaker

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(max int, cool time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", max, cool)
	b.now = clk.now
	return b, clk
}

var errFail = errors.New("fail")

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", b.CurrentState())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.CurrentState() != StateOpen {
		t.Fatalf("expected Open after 3 failures, got %v", b.CurrentState())
	}
	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("expected rejection without calling fn, got err=%v called=%v", err, called)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	var transitions []State
	b.OnStateChange = func(_ string, _, to State) { transitions = append(transitions, to) }

	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })
	clk.advance(2 * time.Second)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed after probe, got %v", b.CurrentState())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second)
	b.Execute(func() error { return errFail })
	clk.advance(2 * time.Second)

	b.Execute(func() error { return errFail })
	if b.CurrentState() != StateOpen {
		t.Fatalf("expected Open after failed probe, got %v", b.CurrentState())
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("cool-down restarted, expected rejection, got %v", err)
	}
}

func TestBreaker_UncountedErrorsDoNotTrip(t *testing.T) {
	errRejected := errors.New("rejected")
	b, _ := newTestBreaker(2, time.Second)
	b.Counts = func(err error) bool { return !errors.Is(err, errRejected) }

	for i := 0; i < 5; i++ {
		b.Execute(func() error { return errRejected })
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("business rejections opened the breaker: %v", b.CurrentState())
	}
}

func TestDo(t *testing.T) {
	b, _ := newTestBreaker(1, time.Second)
	v, err := Do(b, func() (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("Do = %d, %v", v, err)
	}
	b.Execute(func() error { return errFail })
	v, err = Do(b, func() (int, error) { return 7, nil })
	if !errors.Is(err, ErrCircuitOpen) || v != 0 {
		t.Errorf("Do on open breaker = %d, %v", v, err)
	}
}
