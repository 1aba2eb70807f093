package learn

import (
	"sort"
	"strings"

	"github.com/bolcd/condense-engine/internal/config"
)

// SegmentAll is the label used when no segment keys are configured.
const SegmentAll = "_all"

// OtherValue folds values outside a segment key's allow-list.
const OtherValue = "_other"

// UnknownValue labels events missing a segment key entirely.
const UnknownValue = "_unknown"

// SegmentLabel computes the bucket label for an event under the configured
// key tuple: "key=value" terms joined by "|" in key order.
func SegmentLabel(ev Event, keys []config.SegmentKey) string {
	if len(keys) == 0 {
		return SegmentAll
	}
	terms := make([]string, 0, len(keys))
	for _, k := range keys {
		v := ev.Key(k.Key)
		switch {
		case v == "":
			v = UnknownValue
		case len(k.Values) > 0 && !containsString(k.Values, v):
			v = OtherValue
		}
		terms = append(terms, k.Key+"="+v)
	}
	return strings.Join(terms, "|")
}

// PartitionBySegment buckets events by their segment label, preserving event
// order inside each bucket. Labels are returned sorted for deterministic
// iteration.
func PartitionBySegment(events []Event, keys []config.SegmentKey) (map[string][]Event, []string) {
	buckets := make(map[string][]Event)
	for _, ev := range events {
		label := SegmentLabel(ev, keys)
		buckets[label] = append(buckets[label], ev)
	}
	labels := make([]string, 0, len(buckets))
	for l := range buckets {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return buckets, labels
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
