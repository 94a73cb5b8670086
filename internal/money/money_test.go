package money

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		want  int64
		valid bool
	}{
		{"", 0, true},
		{"0", 0, true},
		{"1", 100, true},
		{"1500.50", 150050, true},
		{"100000", 10000000, true},
		{"0.01", 1, true},
		{"0.019", 1, true}, // truncated, not rounded
		{"-5", 0, false},
		{"1.2.3", 0, false},
		{"abc", 0, false},
	}

	for _, tc := range cases {
		got, ok := Parse(tc.in)
		if ok != tc.valid {
			t.Errorf("Parse(%q) valid = %v, want %v", tc.in, ok, tc.valid)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{150050, "1500.50"},
		{10000000, "100000.00"},
		{-250, "-2.50"},
	}
	for _, tc := range cases {
		if got := Format(tc.in); got != tc.want {
			t.Errorf("Format(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestApplyPercent(t *testing.T) {
	// 3% of 50,000.00 = 1,500.00
	if got := ApplyPercent(5000000, 300); got != 150000 {
		t.Errorf("3%% of 50000.00 = %s, want 1500.00", Format(got))
	}
	// 2% of 50,000.00 = 1,000.00
	if got := ApplyPercent(5000000, 200); got != 100000 {
		t.Errorf("2%% of 50000.00 = %s, want 1000.00", Format(got))
	}
	// Truncation: 33.33% of 0.01 truncates to zero.
	if got := ApplyPercent(1, 3333); got != 0 {
		t.Errorf("truncation failed: got %d", got)
	}
}

func TestTokenUnitsRoundTrip(t *testing.T) {
	units := TokenUnits(150050)
	want := big.NewInt(1500500000)
	if units.Cmp(want) != 0 {
		t.Fatalf("TokenUnits = %s, want %s", units, want)
	}
	if back := FromTokenUnits(units); back != 150050 {
		t.Fatalf("FromTokenUnits = %d, want 150050", back)
	}
}
