package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

// The yield rate provider trips its circuit after 3 failures; these
// tests exercise the breaker the way that client drives it.

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("rate_provider") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	// Two failed rate fetches: still closed.
	b.RecordFailure("rate_provider")
	b.RecordFailure("rate_provider")
	if !b.Allow("rate_provider") {
		t.Fatal("should still allow before threshold")
	}

	// Third failure opens the circuit.
	b.RecordFailure("rate_provider")
	if b.Allow("rate_provider") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("rate_provider") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("rate_provider"))
	}
}

func TestBreaker_OpenToHalfOpenAfterDuration(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("rate_provider")
	b.RecordFailure("rate_provider")
	if b.Allow("rate_provider") {
		t.Fatal("should be open")
	}

	// Wait out the open window.
	time.Sleep(60 * time.Millisecond)

	// One trial request goes through half-open.
	if !b.Allow("rate_provider") {
		t.Fatal("should allow one request in half-open")
	}
	if b.State("rate_provider") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("rate_provider"))
	}

	// A second caller while the trial is in flight is rejected.
	if b.Allow("rate_provider") {
		t.Fatal("should reject second request in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("rate_provider")
	b.RecordFailure("rate_provider")
	time.Sleep(60 * time.Millisecond)
	b.Allow("rate_provider") // Transitions to half-open

	b.RecordSuccess("rate_provider")
	if b.State("rate_provider") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("rate_provider"))
	}
	if !b.Allow("rate_provider") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("rate_provider")
	b.RecordFailure("rate_provider")
	time.Sleep(60 * time.Millisecond)
	b.Allow("rate_provider") // Transitions to half-open

	b.RecordFailure("rate_provider")
	if b.State("rate_provider") != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State("rate_provider"))
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("rate_provider")
	b.RecordFailure("rate_provider")
	b.RecordSuccess("rate_provider")

	// The counter was reset; one more failure must not trip it.
	b.RecordFailure("rate_provider")
	if !b.Allow("rate_provider") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	// The rate provider going down must not block fiat payouts.
	b.RecordFailure("rate_provider")
	b.RecordFailure("rate_provider")

	if b.Allow("rate_provider") {
		t.Fatal("rate_provider should be open")
	}
	if !b.Allow("fiat_rail") {
		t.Fatal("fiat_rail should be closed")
	}
}

func TestBreaker_UnknownKeyIsClosed(t *testing.T) {
	b := New(2, 100*time.Millisecond)
	if b.State("chain_rpc") != StateClosed {
		t.Fatalf("expected StateClosed for untouched key, got %v", b.State("chain_rpc"))
	}
}

func TestBreaker_OnTransitionCallback(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	var mu sync.Mutex
	var transitions []struct{ from, to State }
	b.OnTransition(func(key string, from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	})

	b.RecordFailure("rate_provider")
	b.RecordFailure("rate_provider") // Should trigger closed→open.

	// Give goroutine time to run.
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Fatalf("expected closed→open, got %v→%v", transitions[0].from, transitions[0].to)
	}
	mu.Unlock()
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
