// Package graph holds the canonical learned DAG, its lookup indexes, and the
// JSON/GraphML codecs. A published snapshot is immutable; replacement is an
// atomic pointer swap, so readers never observe a half-built graph.
package graph

import (
	"sync/atomic"

	"github.com/bolcd/condense-engine/pkg/models"
)

// Snapshot is an immutable view of the learned graph plus the indexes the
// decision engine reads on every alert.
type Snapshot struct {
	Graph *models.Graph

	inDegree map[string]map[string]int             // segment -> rule -> incoming edges
	edges    map[string]map[[2]string]models.EdgeRecord // segment -> (src,dst) -> edge
}

// NewSnapshot indexes a graph for per-alert lookups. The union graph's edges
// carry their own segment labels, so one snapshot can serve all segments.
func NewSnapshot(g *models.Graph) *Snapshot {
	s := &Snapshot{
		Graph:    g,
		inDegree: make(map[string]map[string]int),
		edges:    make(map[string]map[[2]string]models.EdgeRecord),
	}
	if g == nil {
		return s
	}
	for _, e := range g.Edges {
		if s.inDegree[e.Segment] == nil {
			s.inDegree[e.Segment] = make(map[string]int)
			s.edges[e.Segment] = make(map[[2]string]models.EdgeRecord)
		}
		s.inDegree[e.Segment][e.Dst]++
		s.edges[e.Segment][[2]string{e.Src, e.Dst}] = e
	}
	return s
}

// Empty reports whether the snapshot carries no usable graph.
func (s *Snapshot) Empty() bool {
	return s == nil || s.Graph == nil || len(s.Graph.Edges) == 0
}

// InDegree returns the number of incoming edges to a rule within a segment.
func (s *Snapshot) InDegree(segment, rule string) int {
	if s == nil {
		return 0
	}
	return s.inDegree[segment][rule]
}

// Edge looks up the edge src->dst within a segment.
func (s *Snapshot) Edge(segment, src, dst string) (models.EdgeRecord, bool) {
	if s == nil {
		return models.EdgeRecord{}, false
	}
	e, ok := s.edges[segment][[2]string{src, dst}]
	return e, ok
}

// Segments lists the segment labels present in the snapshot.
func (s *Snapshot) Segments() []string {
	out := make([]string, 0, len(s.edges))
	for seg := range s.edges {
		out = append(out, seg)
	}
	return out
}

// Store publishes graph snapshots to concurrent readers.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore starts empty: every decision is a no_graph deliver until the
// first publish.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(NewSnapshot(nil))
	return s
}

// Publish swaps in a new snapshot. Old snapshots stay valid for readers that
// already hold them.
func (s *Store) Publish(g *models.Graph) *Snapshot {
	snap := NewSnapshot(g)
	s.current.Store(snap)
	return snap
}

// Current returns the active snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}
