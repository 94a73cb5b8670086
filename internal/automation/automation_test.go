package automation

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeSweeper struct {
	deposits  int
	custodies int
	payouts   int
	err       error
}

func (f *fakeSweeper) DetectDeposits(ctx context.Context) error {
	f.deposits++
	return f.err
}

func (f *fakeSweeper) ProcessExpiredCustodies(ctx context.Context) error {
	f.custodies++
	return f.err
}

func (f *fakeSweeper) ProcessPendingPayouts(ctx context.Context) error {
	f.payouts++
	return f.err
}

type fakeAccruer struct {
	runs []time.Time
	err  error
}

func (f *fakeAccruer) RunDaily(ctx context.Context, date time.Time) error {
	f.runs = append(f.runs, date)
	return f.err
}

func TestTrigger_DispatchesByName(t *testing.T) {
	ctx := context.Background()
	sweeper := &fakeSweeper{}
	accruer := &fakeAccruer{}
	s := NewScheduler(sweeper, accruer, nil)

	for _, process := range []string{"deposits", "custodies", "payouts", "yield"} {
		if err := s.Trigger(ctx, process); err != nil {
			t.Fatalf("Trigger(%s): %v", process, err)
		}
	}
	if sweeper.deposits != 1 || sweeper.custodies != 1 || sweeper.payouts != 1 {
		t.Errorf("sweeps = %d/%d/%d, want 1/1/1",
			sweeper.deposits, sweeper.custodies, sweeper.payouts)
	}
	if len(accruer.runs) != 1 {
		t.Errorf("yield runs = %d, want 1", len(accruer.runs))
	}
}

func TestTrigger_UnknownProcess(t *testing.T) {
	s := NewScheduler(&fakeSweeper{}, &fakeAccruer{}, nil)
	if err := s.Trigger(context.Background(), "bogus"); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("err = %v, want ErrUnknownProcess", err)
	}
	// Notifications trigger without a wired outbox is unknown too.
	if err := s.Trigger(context.Background(), "notifications"); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("err = %v, want ErrUnknownProcess", err)
	}
}

func TestMaybeAccrue_OncePerDayAtConfiguredHour(t *testing.T) {
	ctx := context.Background()
	accruer := &fakeAccruer{}
	now := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)
	s := NewScheduler(&fakeSweeper{}, accruer, nil,
		WithClock(func() time.Time { return now }),
		WithAccrualHour(1))

	// Wrong hour: nothing runs.
	s.maybeAccrue(ctx)
	if len(accruer.runs) != 0 {
		t.Fatalf("accrual ran outside the configured hour")
	}

	// Configured hour: runs once, then holds for the rest of the day.
	now = time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	s.maybeAccrue(ctx)
	now = now.Add(5 * time.Minute)
	s.maybeAccrue(ctx)
	if len(accruer.runs) != 1 {
		t.Fatalf("accrual runs = %d, want 1", len(accruer.runs))
	}

	// Next day, same hour: runs again.
	now = now.Add(24 * time.Hour)
	s.maybeAccrue(ctx)
	if len(accruer.runs) != 2 {
		t.Fatalf("accrual runs = %d, want 2", len(accruer.runs))
	}
}

func TestMaybeAccrue_RetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	accruer := &fakeAccruer{err: errors.New("provider down")}
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	s := NewScheduler(&fakeSweeper{}, accruer, nil,
		WithClock(func() time.Time { return now }),
		WithAccrualHour(1))

	s.maybeAccrue(ctx)
	accruer.err = nil
	now = now.Add(time.Minute)
	s.maybeAccrue(ctx)
	if len(accruer.runs) != 2 {
		t.Fatalf("accrual runs = %d, want a retry after the failure", len(accruer.runs))
	}
}

func newTestRouter(s *Scheduler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(s).RegisterAdminRoutes(r)
	return r
}

func TestTriggerEndpoint(t *testing.T) {
	sweeper := &fakeSweeper{}
	r := newTestRouter(NewScheduler(sweeper, &fakeAccruer{}, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/automation/trigger",
		bytes.NewBufferString(`{"process":"deposits"}`))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if sweeper.deposits != 1 {
		t.Errorf("deposit sweep not triggered")
	}
}

func TestTriggerEndpoint_UnknownProcess(t *testing.T) {
	r := newTestRouter(NewScheduler(&fakeSweeper{}, &fakeAccruer{}, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/automation/trigger",
		bytes.NewBufferString(`{"process":"bogus"}`))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestTriggerEndpoint_SweepFailure(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("rail offline")}
	r := newTestRouter(NewScheduler(sweeper, &fakeAccruer{}, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/automation/trigger",
		bytes.NewBufferString(`{"process":"payouts"}`))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
