package services

import (
	"errors"
	"testing"
)

func TestPriceUSDC(t *testing.T) {
	cases := []struct {
		count int
		want  string
	}{
		{1, "0.20"},
		{2, "0.40"},
		{3, "0.30"}, // bundle discount: three cost less than two
	}
	for _, tc := range cases {
		got, err := PriceUSDC(tc.count)
		if err != nil {
			t.Fatalf("PriceUSDC(%d): %v", tc.count, err)
		}
		if got != tc.want {
			t.Fatalf("PriceUSDC(%d) = %s, want %s", tc.count, got, tc.want)
		}
	}
}

func TestPriceUSDC_Deterministic(t *testing.T) {
	first, err := PriceUSDC(2)
	if err != nil {
		t.Fatalf("PriceUSDC: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := PriceUSDC(2)
		if err != nil || got != first {
			t.Fatalf("price changed across calls: %s vs %s (%v)", got, first, err)
		}
	}
}

func TestPriceUSDC_InvalidCounts(t *testing.T) {
	for _, n := range []int{0, -1, 4, 100} {
		if _, err := PriceUSDC(n); !errors.Is(err, ErrInvalidPhraseCount) {
			t.Fatalf("PriceUSDC(%d): expected ErrInvalidPhraseCount, got %v", n, err)
		}
	}
}

func TestPriceAtomic(t *testing.T) {
	cases := []struct {
		count int
		want  int64
	}{
		{1, 200000},
		{2, 400000},
		{3, 300000},
	}
	for _, tc := range cases {
		got, err := PriceAtomic(tc.count)
		if err != nil {
			t.Fatalf("PriceAtomic(%d): %v", tc.count, err)
		}
		if got.Int64() != tc.want {
			t.Fatalf("PriceAtomic(%d) = %s, want %d", tc.count, got, tc.want)
		}
	}
}

func TestPriceAtomic_InvalidCount(t *testing.T) {
	if _, err := PriceAtomic(5); !errors.Is(err, ErrInvalidPhraseCount) {
		t.Fatalf("expected ErrInvalidPhraseCount, got %v", err)
	}
}

func Test_usdcToAtomic(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"0.20", 200000, false},
		{"1", 1000000, false},
		{"1.5", 1500000, false},
		{"0.000001", 1, false},
		{".5", 500000, false},
		{"0.1234567", 0, true}, // beyond 6 decimals
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := usdcToAtomic(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("usdcToAtomic(%q): expected error, got %s", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("usdcToAtomic(%q): %v", tc.in, err)
		}
		if got.Int64() != tc.want {
			t.Fatalf("usdcToAtomic(%q) = %s, want %d", tc.in, got, tc.want)
		}
	}
}
