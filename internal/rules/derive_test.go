package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bolcd/condense-engine/pkg/models"
)

func edge(src, dst, seg string) models.EdgeRecord {
	return models.EdgeRecord{Src: src, Dst: dst, Segment: seg}
}

func TestDeriveTwoHopRule(t *testing.T) {
	g := &models.Graph{
		Edges: []models.EdgeRecord{
			edge("A", "B", "_all"),
			edge("B", "C", "_all"),
		},
		EdgesPreTR: []models.EdgeRecord{
			edge("A", "B", "_all"),
			edge("B", "C", "_all"),
			edge("A", "C", "_all"),
		},
	}
	rules := Derive(g)
	require.Len(t, rules, 1)
	r := rules[0]
	require.Equal(t, "bolcd_suppress_A_C__all", r.Name)
	require.Equal(t, "A", r.Src)
	require.Equal(t, "C", r.Dst)
	require.Equal(t, "B", r.Via)
	require.Equal(t, "_all", r.Segment)
	require.Equal(t, "A", r.Selector.SrcField)
}

func TestDeriveRequiresPreTREdge(t *testing.T) {
	// Without A->C in the pre-reduction set, the two-hop path proves
	// nothing about the direct implication.
	g := &models.Graph{
		Edges: []models.EdgeRecord{
			edge("A", "B", "_all"),
			edge("B", "C", "_all"),
		},
		EdgesPreTR: []models.EdgeRecord{
			edge("A", "B", "_all"),
			edge("B", "C", "_all"),
		},
	}
	require.Empty(t, Derive(g))
}

func TestDeriveSegmentsIsolated(t *testing.T) {
	g := &models.Graph{
		Edges: []models.EdgeRecord{
			edge("A", "B", "env=prod"),
			edge("B", "C", "env=staging"),
		},
		EdgesPreTR: []models.EdgeRecord{
			edge("A", "B", "env=prod"),
			edge("B", "C", "env=staging"),
			edge("A", "C", "env=prod"),
		},
	}
	require.Empty(t, Derive(g), "two-hop paths must not cross segments")
}

func TestDeriveIdempotentByName(t *testing.T) {
	g := &models.Graph{
		Edges: []models.EdgeRecord{
			edge("A", "B", "_all"),
			edge("B", "C", "_all"),
			// A duplicate edge pair in the reduced set must not duplicate
			// the derived rule.
			edge("A", "B", "_all"),
		},
		EdgesPreTR: []models.EdgeRecord{
			edge("A", "C", "_all"),
		},
	}
	r1 := Derive(g)
	r2 := Derive(g)
	require.Equal(t, r1, r2)
	require.Len(t, r1, 1)
}
