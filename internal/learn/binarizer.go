package learn

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// Binarization holds the three-valued encoding of a learning batch: for each
// metric a values bitset and an unknown bitset, bit k addressing event k.
// Invariant: Values[m] AND Unknown[m] is empty for every m.
type Binarization struct {
	Metrics []string
	Values  []*bitset.BitSet
	Unknown []*bitset.BitSet
	N       uint
}

// Binarize maps events to per-metric bitsets with margin delta around each
// threshold:
//
//	x >= a+delta  -> value bit set
//	x <= a-delta  -> both bits clear (known zero)
//	otherwise, or missing -> unknown bit set
//
// Metric order is the sorted threshold key set so results are reproducible
// for a fixed event order.
func Binarize(events []Event, thresholds map[string]float64, delta float64) *Binarization {
	metrics := make([]string, 0, len(thresholds))
	for m := range thresholds {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	n := uint(len(events))
	b := &Binarization{
		Metrics: metrics,
		Values:  make([]*bitset.BitSet, len(metrics)),
		Unknown: make([]*bitset.BitSet, len(metrics)),
		N:       n,
	}
	for i := range metrics {
		b.Values[i] = bitset.New(n)
		b.Unknown[i] = bitset.New(n)
	}

	for k, ev := range events {
		bit := uint(k)
		for i, m := range metrics {
			a := thresholds[m]
			x, ok := ev.Metric(m)
			if !ok {
				b.Unknown[i].Set(bit)
				continue
			}
			switch {
			case x >= a+delta:
				b.Values[i].Set(bit)
			case x <= a-delta:
				// known zero
			default:
				// inside the margin band: Kleene unknown
				b.Unknown[i].Set(bit)
			}
		}
	}
	return b
}

// MetricIndex returns the position of a metric name, or -1.
func (b *Binarization) MetricIndex(name string) int {
	for i, m := range b.Metrics {
		if m == name {
			return i
		}
	}
	return -1
}
