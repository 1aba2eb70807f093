package learn

import (
	"runtime"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// PairStats holds the counterexample and support counts for every ordered
// metric pair, laid out as flat contiguous arrays indexed i*d+j. All
// popcounts run word-wise over the bitsets.
type PairStats struct {
	D     int
	N1    []int // support per source metric: popcount(values_i), i
	Both  []int // popcount(values_i & values_j), i*d+j
	K     []int // counterexamples popcount(values_i &^ (values_j | unknown_j)), i*d+j
	Known []int // events where metric j is known: N - popcount(unknown_j), j
}

// ComputePairStats derives the flat statistics arrays from a binarization.
// Work is partitioned across source-metric ranges; each worker writes only
// its own rows of the shared accumulators, so no locking is needed.
func ComputePairStats(b *Binarization) *PairStats {
	d := len(b.Metrics)
	ps := &PairStats{
		D:     d,
		N1:    make([]int, d),
		Both:  make([]int, d*d),
		K:     make([]int, d*d),
		Known: make([]int, d),
	}

	// cover_j = values_j | unknown_j: an event is a counterexample for i->j
	// only when it lies outside this set and inside values_i.
	cover := make([]*bitset.BitSet, d)
	for j := 0; j < d; j++ {
		cover[j] = b.Values[j].Union(b.Unknown[j])
		ps.Known[j] = int(b.N) - int(b.Unknown[j].Count())
	}
	for i := 0; i < d; i++ {
		ps.N1[i] = int(b.Values[i].Count())
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > d {
		workers = d
	}
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	chunk := (d + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > d {
			hi = d
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				if ps.N1[i] == 0 {
					continue // no support: row stays zero and is skipped later
				}
				vi := b.Values[i]
				row := i * len(cover)
				for j := range cover {
					if j == i {
						continue
					}
					ps.K[row+j] = int(vi.DifferenceCardinality(cover[j]))
					ps.Both[row+j] = int(vi.IntersectionCardinality(b.Values[j]))
				}
			}
		}(lo, hi)
	}
	wg.Wait()
	return ps
}

// Lift estimates P(j=1 | i=1) / P(j=1) for the ordered pair. Returns 0 when
// either probability is undefined.
func (ps *PairStats) Lift(i, j int) float64 {
	if ps.N1[i] == 0 || ps.Known[j] == 0 || ps.N1[j] == 0 {
		return 0
	}
	pCond := float64(ps.Both[i*ps.D+j]) / float64(ps.N1[i])
	pBase := float64(ps.N1[j]) / float64(ps.Known[j])
	if pBase == 0 {
		return 0
	}
	return pCond / pBase
}
