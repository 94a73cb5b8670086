package health

import (
	"context"
	"errors"
	"testing"
)

func TestCheckAllAggregates(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Ok("database")
	})
	r.Register("custody", func(ctx context.Context) Status {
		return Ok("custody")
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("all checks pass but aggregate is unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	if statuses[0].Name != "database" || statuses[1].Name != "custody" {
		t.Errorf("statuses out of registration order: %+v", statuses)
	}
}

func TestCheckAllOneSubsystemDown(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Ok("database")
	})
	r.Register("rate_provider", func(ctx context.Context) Status {
		return Fail("rate_provider", errors.New("circuit open"))
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("aggregate healthy with a failing subsystem")
	}
	if statuses[1].Healthy || statuses[1].Detail != "circuit open" {
		t.Errorf("failing status = %+v", statuses[1])
	}
}

func TestFailWithNilError(t *testing.T) {
	s := Fail("custody", nil)
	if s.Healthy || s.Detail != "" {
		t.Errorf("Fail with nil error = %+v", s)
	}
}

func TestEmptyRegistryIsHealthy(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	if !healthy || len(statuses) != 0 {
		t.Errorf("empty registry: healthy=%v statuses=%v", healthy, statuses)
	}
}
