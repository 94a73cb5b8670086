package yield

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPRateProvider_CurrentRate(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rates/current" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"annualRate": "7.25"}`))
	}))
	defer ts.Close()

	p := NewHTTPRateProvider(ts.URL, "key123", nil)
	rate, err := p.CurrentRate(context.Background())
	if err != nil {
		t.Fatalf("CurrentRate failed: %v", err)
	}
	if rate != "7.25" {
		t.Errorf("rate = %q, want 7.25", rate)
	}
	if gotAuth != "Bearer key123" {
		t.Errorf("auth header = %q", gotAuth)
	}
}

func TestHTTPRateProvider_MalformedRate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"annualRate": "not-a-rate"}`))
	}))
	defer ts.Close()

	p := NewHTTPRateProvider(ts.URL, "", nil)
	if _, err := p.CurrentRate(context.Background()); err == nil {
		t.Fatal("expected error for malformed rate")
	}
}

func TestHTTPRateProvider_BreakerOpensAfterFailures(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	p := NewHTTPRateProvider(ts.URL, "", nil)
	ctx := context.Background()

	if !p.Available() {
		t.Fatal("provider should start available")
	}

	// Three consecutive failures trip the circuit.
	for i := 0; i < 3; i++ {
		if _, err := p.CurrentRate(ctx); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if p.Available() {
		t.Error("provider still reports available with the circuit open")
	}
	if calls != 3 {
		t.Fatalf("provider called %d times, want 3", calls)
	}

	// While open, the provider is never contacted.
	_, err := p.CurrentRate(ctx)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if calls != 3 {
		t.Errorf("provider called %d times after circuit opened, want 3", calls)
	}
}
