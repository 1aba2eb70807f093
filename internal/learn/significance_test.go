package learn

import (
	"math"
	"testing"
)

func TestRuleOfThreeUpper(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want float64
	}{
		{"five hundred clean trials", 500, 0.006},
		{"one hundred fifty", 150, 0.02},
		{"single trial", 1, 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RuleOfThreeUpper(tt.n)
			if got != tt.want {
				t.Errorf("RuleOfThreeUpper(%d) = %v, want %v exactly", tt.n, got, tt.want)
			}
		})
	}
	if !math.IsInf(RuleOfThreeUpper(0), 1) {
		t.Errorf("RuleOfThreeUpper(0) should be +Inf")
	}
}

func TestBinomialPValueGuards(t *testing.T) {
	if got := BinomialPValue(0, 0, 0.1); got != 1.0 {
		t.Errorf("n=0 should give p=1, got %v", got)
	}
	if got := BinomialPValue(10, 10, 0.1); got != 1.0 {
		t.Errorf("k>=n should give p=1, got %v", got)
	}
	if got := BinomialPValue(-1, 10, 0.1); got != 0.0 {
		t.Errorf("k<0 should give p=0, got %v", got)
	}
	for _, k := range []int{0, 1, 5, 50} {
		p := BinomialPValue(k, 100, 0.05)
		if p < 0 || p > 1 {
			t.Errorf("p-value %v out of [0,1] for k=%d", p, k)
		}
	}
}

func TestBinomialPValueExactSmall(t *testing.T) {
	// P(K <= 0 | Bin(10, 0.1)) = 0.9^10
	got := BinomialPValue(0, 10, 0.1)
	want := math.Pow(0.9, 10)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("exact tail = %v, want %v", got, want)
	}
}

func TestBinomialPValueMonotoneInK(t *testing.T) {
	prev := -1.0
	for k := 0; k < 20; k++ {
		p := BinomialPValue(k, 200, 0.05)
		if p < prev {
			t.Fatalf("left tail decreased at k=%d: %v < %v", k, p, prev)
		}
		prev = p
	}
}

func TestBinomialPValueNormalApproximation(t *testing.T) {
	// Large n switches to the normal path; the tail for k far below the
	// mean must be tiny, and near the mean close to one half.
	small := BinomialPValue(10, 5000, 0.02) // mean 100
	if small > 1e-6 {
		t.Errorf("far-left tail should be tiny, got %v", small)
	}
	mid := BinomialPValue(100, 5000, 0.02)
	if mid < 0.4 || mid > 0.6 {
		t.Errorf("tail at the mean should be near 0.5, got %v", mid)
	}
}

func TestBHQValuesMonotone(t *testing.T) {
	p := []float64{0.001, 0.01, 0.02, 0.2}
	q := BHQValues(p)

	if len(q) != len(p) {
		t.Fatalf("length mismatch")
	}
	for i, v := range q {
		if v < 0 || v > 1 {
			t.Errorf("q[%d] = %v out of [0,1]", i, v)
		}
	}
	// Input is already sorted, so q must be non-decreasing in place.
	for i := 1; i < len(q); i++ {
		if q[i] < q[i-1] {
			t.Errorf("q not monotone at %d: %v < %v", i, q[i], q[i-1])
		}
	}
}

func TestBHQValuesKnownValues(t *testing.T) {
	// m=4: raw q = [0.004, 0.02, 0.0266.., 0.2]; already monotone.
	p := []float64{0.001, 0.01, 0.02, 0.2}
	q := BHQValues(p)

	want := []float64{0.004, 0.02, 0.02 * 4 / 3, 0.2}
	for i := range want {
		if math.Abs(q[i]-want[i]) > 1e-12 {
			t.Errorf("q[%d] = %v, want %v", i, q[i], want[i])
		}
	}
}

func TestBHQValuesMapsBackToInputOrder(t *testing.T) {
	p := []float64{0.2, 0.001, 0.02, 0.01}
	q := BHQValues(p)
	// The smallest p must receive the smallest q regardless of position.
	if q[1] >= q[0] || q[1] >= q[2] || q[1] >= q[3] {
		t.Errorf("smallest p did not get smallest q: %v", q)
	}
}

func TestBHQValuesEmpty(t *testing.T) {
	if got := BHQValues(nil); got != nil {
		t.Errorf("empty input should give nil, got %v", got)
	}
}
