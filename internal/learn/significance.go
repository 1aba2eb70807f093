package learn

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// exactTailMaxN bounds the exact binomial summation; above it the normal
// approximation with continuity correction takes over.
const exactTailMaxN = 2000

// RuleOfThreeUpper is the frequentist 95% upper bound on the probability of
// an unobserved counterexample after n clean trials: 3/n.
func RuleOfThreeUpper(n int) float64 {
	if n <= 0 {
		return math.Inf(1)
	}
	return 3.0 / float64(n)
}

// BinomialPValue is the left-tail one-sided p-value P(K <= k | K ~ Bin(n, p0)).
// Small values mean the observed counterexample rate is credibly below the
// tolerance p0. Exact summation for n < 2000, normal approximation with
// continuity correction beyond that. The result is clamped into [0, 1].
func BinomialPValue(k, n int, p0 float64) float64 {
	if n <= 0 {
		return 1.0
	}
	if k >= n {
		return 1.0
	}
	if k < 0 {
		return 0.0
	}
	if p0 <= 0 {
		return 1.0 // every k >= 0 is the whole mass when no counterexamples are expected
	}
	if p0 >= 1 {
		if k < n {
			return 0.0
		}
		return 1.0
	}

	var p float64
	if n < exactTailMaxN {
		bin := distuv.Binomial{N: float64(n), P: p0}
		p = bin.CDF(float64(k))
	} else {
		mean := float64(n) * p0
		sd := math.Sqrt(float64(n) * p0 * (1 - p0))
		if sd == 0 {
			if float64(k) >= mean {
				return 1.0
			}
			return 0.0
		}
		z := (float64(k) + 0.5 - mean) / sd
		p = distuv.Normal{Mu: 0, Sigma: 1}.CDF(z)
	}
	return math.Min(1.0, math.Max(0.0, p))
}

// BHQValues computes Benjamini–Hochberg q-values for a p-value slice:
// sort ascending, q at rank r is p*m/r, monotonicity enforced by a reverse
// cumulative minimum, clamped to [0,1], mapped back to input order.
func BHQValues(pValues []float64) []float64 {
	m := len(pValues)
	if m == 0 {
		return nil
	}

	idx := make([]int, m)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return pValues[idx[a]] < pValues[idx[b]] })

	qRanked := make([]float64, m)
	for rank := 1; rank <= m; rank++ {
		qRanked[rank-1] = pValues[idx[rank-1]] * float64(m) / float64(rank)
	}

	minSoFar := 1.0
	for i := m - 1; i >= 0; i-- {
		if qRanked[i] < minSoFar {
			minSoFar = qRanked[i]
		}
		qRanked[i] = minSoFar
	}

	out := make([]float64, m)
	for i, orig := range idx {
		out[orig] = math.Min(1.0, qRanked[i])
	}
	return out
}
