package yield

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	}
}

func TestRateMicros(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"0.072", 72000, true},
		{"0.10", 100000, true},
		{"1", 1000000, true},
		{"0", 0, true},
		{"-0.05", 0, false},
		{"abc", 0, false},
		{"0.0.1", 0, false},
	}
	for _, tc := range cases {
		got, ok := rateMicros(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("rateMicros(%q) = %d, %v, want %d, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDailyInterest(t *testing.T) {
	// 10,000.00 pesos at 7.2% annual: one day is 1.972602... pesos,
	// rounded half-up at micro-peso resolution.
	if got := dailyInterest(10_000_000_000, 72000); got != 1_972_603 {
		t.Errorf("dailyInterest = %d, want 1972603", got)
	}
	if got := dailyInterest(0, 72000); got != 0 {
		t.Errorf("dailyInterest on zero = %d, want 0", got)
	}
	// 9999 * 72000 / 365e6 = 1.97...: rounds up to 2, never truncates
	// down to 1.
	if got := dailyInterest(9_999, 72000); got != 2 {
		t.Errorf("dailyInterest = %d, want 2", got)
	}
}

func TestMicrosToCents(t *testing.T) {
	cases := []struct {
		micros, want int64
	}{
		{1_972_603, 197},
		{1_975_000, 198}, // exact half rounds up
		{1_974_999, 197},
		{0, 0},
	}
	for _, tc := range cases {
		if got := microsToCents(tc.micros); got != tc.want {
			t.Errorf("microsToCents(%d) = %d, want %d", tc.micros, got, tc.want)
		}
	}
}

func TestParseMicrosRoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1.972603", 1_972_603, true},
		{"59.347661", 59_347_661, true},
		{"1.97", 1_970_000, true}, // centavo-precision input
		{"0", 0, true},
		{"", 0, true},
		{"-1.00", 0, false},
		{"1.2.3", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseMicros(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseMicros(%q) = %d, %v, want %d, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
	if got := formatMicros(1_972_603); got != "1.972603" {
		t.Errorf("formatMicros = %q, want 1.972603", got)
	}
}

func TestThirtyDayCompounding(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, StaticRate("0.072"), WithClock(fixedClock()))

	a, err := svc.Activate(ctx, "pay_1", 1000000) // 10,000.00
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for day := 0; day < 30; day++ {
		if err := svc.RunDaily(ctx, start.AddDate(0, 0, day)); err != nil {
			t.Fatalf("RunDaily day %d: %v", day, err)
		}
	}

	earnings, err := store.Earnings(ctx, a.ID)
	if err != nil {
		t.Fatalf("Earnings: %v", err)
	}
	if len(earnings) != 30 {
		t.Fatalf("earnings rows = %d, want 30", len(earnings))
	}
	if earnings[0].Amount != "1.97" {
		t.Errorf("day 1 = %s, want 1.97", earnings[0].Amount)
	}
	if earnings[29].Amount != "1.98" {
		t.Errorf("day 30 = %s, want 1.98", earnings[29].Amount)
	}
	if earnings[29].Cumulative != "59.347661" {
		t.Errorf("30-day cumulative = %s, want 59.347661", earnings[29].Cumulative)
	}

	// The running total must track the compound closed form
	// 10000 * ((1 + 0.072/365)^30 - 1) = 59.3477 to within a centavo.
	got, err := strconv.ParseFloat(earnings[29].Cumulative, 64)
	if err != nil {
		t.Fatalf("ParseFloat(%q): %v", earnings[29].Cumulative, err)
	}
	want := 10000 * (math.Pow(1+0.072/365, 30) - 1)
	if math.Abs(got-want) > 0.01 {
		t.Errorf("30-day cumulative = %.4f, want within 0.01 of %.4f", got, want)
	}
}

func TestRunDailyIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, StaticRate("0.072"), WithClock(fixedClock()))

	a, _ := svc.Activate(ctx, "pay_1", 1000000)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := svc.RunDaily(ctx, day); err != nil {
			t.Fatalf("RunDaily pass %d: %v", i, err)
		}
	}
	earnings, _ := store.Earnings(ctx, a.ID)
	if len(earnings) != 1 {
		t.Fatalf("earnings rows = %d, want 1 after replay", len(earnings))
	}
}

type downProvider struct{}

func (downProvider) CurrentRate(ctx context.Context) (string, error) {
	return "", errors.New("connection refused")
}

func TestFallbackRateWhenProviderDown(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, downProvider{}, WithClock(fixedClock()))

	a, err := svc.Activate(ctx, "pay_1", 1000000)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if a.AnnualRate != DefaultAnnualRate {
		t.Errorf("rate = %s, want fallback %s", a.AnnualRate, DefaultAnnualRate)
	}

	if err := svc.RunDaily(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("RunDaily with provider down: %v", err)
	}
	earnings, _ := store.Earnings(ctx, a.ID)
	if len(earnings) != 1 || earnings[0].Amount != "1.97" {
		t.Errorf("earnings with fallback rate = %+v", earnings)
	}
}

func TestActivateTwiceFails(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), StaticRate("0.072"), WithClock(fixedClock()))

	if _, err := svc.Activate(ctx, "pay_1", 1000000); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := svc.Activate(ctx, "pay_1", 1000000); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("err = %v, want ErrAlreadyActive", err)
	}
}

func TestCompleteSplitsEightyTwenty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, StaticRate("0.072"), WithClock(fixedClock()))

	a, _ := svc.Activate(ctx, "pay_1", 1000000)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for day := 0; day < 30; day++ {
		if err := svc.RunDaily(ctx, start.AddDate(0, 0, day)); err != nil {
			t.Fatalf("RunDaily: %v", err)
		}
	}

	p, err := svc.Complete(ctx, "pay_1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// 59.35 total: 80% payer = 47.48, platform keeps 11.87.
	if p.TotalYield != "59.35" || p.PayerShare != "47.48" || p.PlatformShare != "11.87" {
		t.Errorf("payout = %+v", p)
	}

	got, _ := store.GetActivation(ctx, a.ID)
	if got.Status != StatusCompleted || got.EndedAt == nil {
		t.Errorf("activation not completed: %+v", got)
	}

	// Completing again returns the same payout, no new rows.
	again, err := svc.Complete(ctx, "pay_1")
	if err != nil {
		t.Fatalf("Complete repeat: %v", err)
	}
	if again.ID != p.ID {
		t.Errorf("second Complete created a new payout")
	}

	// Accrual stops once completed.
	if err := svc.RunDaily(ctx, start.AddDate(0, 0, 31)); err != nil {
		t.Fatalf("RunDaily after completion: %v", err)
	}
	earnings, _ := store.Earnings(ctx, a.ID)
	if len(earnings) != 30 {
		t.Errorf("earnings = %d rows, want 30 after completion", len(earnings))
	}
}

type stubStatuses struct {
	status string
}

func (s *stubStatuses) PaymentStatus(ctx context.Context, paymentID string) (string, error) {
	return s.status, nil
}

func TestRunDailySkipsNonEarningPayments(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	statuses := &stubStatuses{status: "custody_active"}
	svc := NewService(store, StaticRate("0.072"),
		WithClock(fixedClock()),
		WithPaymentStatuses(statuses))

	a, err := svc.Activate(ctx, "pay_1", 1000000)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.RunDaily(ctx, start); err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	earnings, _ := store.Earnings(ctx, a.ID)
	if len(earnings) != 1 {
		t.Fatalf("earnings = %d rows, want 1", len(earnings))
	}

	// Payment parked for manual review: the activation stays active
	// but accrual stops, however many runs pass.
	statuses.status = "failed"
	for day := 1; day <= 5; day++ {
		if err := svc.RunDaily(ctx, start.AddDate(0, 0, day)); err != nil {
			t.Fatalf("RunDaily day %d: %v", day, err)
		}
	}
	earnings, _ = store.Earnings(ctx, a.ID)
	if len(earnings) != 1 {
		t.Errorf("earnings = %d rows, want 1 while payment is parked", len(earnings))
	}
	got, _ := store.GetActivation(ctx, a.ID)
	if got.Status != StatusActive {
		t.Errorf("activation status = %s, want still active", got.Status)
	}

	// Recovered payments pick accrual back up.
	statuses.status = "release_pending"
	if err := svc.RunDaily(ctx, start.AddDate(0, 0, 6)); err != nil {
		t.Fatalf("RunDaily after recovery: %v", err)
	}
	earnings, _ = store.Earnings(ctx, a.ID)
	if len(earnings) != 2 {
		t.Errorf("earnings = %d rows, want 2 after recovery", len(earnings))
	}
}

func TestRunDailyGateStatuses(t *testing.T) {
	earning := []string{"funded", "custody_active", "release_pending", "released", "payout_pending", "completed"}
	for _, s := range earning {
		if !accrues(s) {
			t.Errorf("accrues(%q) = false, want true", s)
		}
	}
	idle := []string{"pending", "disputed", "failed", ""}
	for _, s := range idle {
		if accrues(s) {
			t.Errorf("accrues(%q) = true, want false", s)
		}
	}
}

func TestCompleteWithNoEarnings(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), StaticRate("0.072"), WithClock(fixedClock()))

	if _, err := svc.Activate(ctx, "pay_1", 1000000); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	p, err := svc.Complete(ctx, "pay_1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if p.TotalYield != "0.00" || p.PayerShare != "0.00" {
		t.Errorf("payout with no earnings = %+v", p)
	}
}
