package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream boom")

func failingCall() error { return errUpstream }
func okCall() error      { return nil }

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, SuccessThreshold: 1, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Call(ctx, failingCall); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d error = %v, want upstream error passed through", i, err)
		}
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open after 3 failures", got)
	}

	if err := cb.Call(ctx, okCall); !errors.Is(err, ErrOpen) {
		t.Errorf("Call() on open circuit error = %v, want ErrOpen", err)
	}
}

func TestCircuitBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	_ = cb.Call(ctx, failingCall)
	_ = cb.Call(ctx, failingCall)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("State() = %v, want closed at 2 of 3 failures", got)
	}

	// A success resets the consecutive failure count.
	if err := cb.Call(ctx, okCall); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	_ = cb.Call(ctx, failingCall)
	_ = cb.Call(ctx, failingCall)
	if got := cb.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed (failure count reset by success)", got)
	}
}

func TestCircuitBreaker_HalfOpenProbeClosesAfterSuccesses(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 20 * time.Millisecond})
	ctx := context.Background()

	_ = cb.Call(ctx, failingCall)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open", got)
	}

	time.Sleep(30 * time.Millisecond)

	if err := cb.Call(ctx, okCall); err != nil {
		t.Fatalf("probe call error = %v", err)
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("State() = %v, want half_open after one of two probe successes", got)
	}
	if err := cb.Call(ctx, okCall); err != nil {
		t.Fatalf("second probe error = %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed after success threshold", got)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 20 * time.Millisecond})
	ctx := context.Background()

	_ = cb.Call(ctx, failingCall)
	time.Sleep(30 * time.Millisecond)

	if err := cb.Call(ctx, failingCall); !errors.Is(err, errUpstream) {
		t.Fatalf("probe call error = %v, want upstream error", err)
	}
	if got := cb.State(); got != StateOpen {
		t.Errorf("State() = %v, want open after failed probe", got)
	}
	if err := cb.Call(ctx, okCall); !errors.Is(err, ErrOpen) {
		t.Errorf("Call() error = %v, want ErrOpen during renewed cooldown", err)
	}
}

func TestCircuitBreaker_ContextErrorShortCircuits(t *testing.T) {
	cb := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Call(ctx, func() error { called = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Call() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn should not run with a cancelled context")
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed (context errors are not upstream failures)", got)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	type change struct{ from, to State }
	var changes []change
	cb := New(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Cooldown:         10 * time.Millisecond,
		OnStateChange:    func(from, to State) { changes = append(changes, change{from, to}) },
	})
	ctx := context.Background()

	_ = cb.Call(ctx, failingCall)
	time.Sleep(20 * time.Millisecond)
	_ = cb.Call(ctx, okCall)

	want := []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d transitions %v, want %d", len(changes), changes, len(want))
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("transition %d = %v -> %v, want %v -> %v",
				i, changes[i].from, changes[i].to, want[i].from, want[i].to)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
