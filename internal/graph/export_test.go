package graph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bolcd/condense-engine/pkg/models"
)

func sampleGraph() *models.Graph {
	q := 0.0042
	return &models.Graph{
		Nodes: []string{"X", "Y", "Z"},
		Edges: []models.EdgeRecord{
			{Src: "X", Dst: "Y", NSrc1: 150, KCounterex: 0, CI95Upper: 0.02, Lift: 1.6, Segment: "_all"},
			{Src: "Y", Dst: "Z", NSrc1: 250, KCounterex: 3, QValue: &q, Lift: 1.2, Segment: "_all"},
		},
		EdgesPreTR: []models.EdgeRecord{
			{Src: "X", Dst: "Z", NSrc1: 150, KCounterex: 0, CI95Upper: 0.02, Segment: "_all"},
		},
		Segment: "_all",
	}
}

func TestJSONRoundTrip(t *testing.T) {
	g := sampleGraph()
	data, err := MarshalJSON(g)
	require.NoError(t, err)

	back, err := UnmarshalJSON(data)
	require.NoError(t, err)

	require.Equal(t, g.Nodes, back.Nodes)
	require.Equal(t, len(g.Edges), len(back.Edges))
	for i := range g.Edges {
		require.Equal(t, g.Edges[i].Src, back.Edges[i].Src)
		require.Equal(t, g.Edges[i].Dst, back.Edges[i].Dst)
		require.Equal(t, g.Edges[i].NSrc1, back.Edges[i].NSrc1)
		require.Equal(t, g.Edges[i].KCounterex, back.Edges[i].KCounterex)
		require.Equal(t, g.Edges[i].CI95Upper, back.Edges[i].CI95Upper)
		if g.Edges[i].QValue == nil {
			require.Nil(t, back.Edges[i].QValue)
		} else {
			require.NotNil(t, back.Edges[i].QValue)
			require.Equal(t, *g.Edges[i].QValue, *back.Edges[i].QValue)
		}
	}
	require.Equal(t, g.EdgesPreTR[0].Src, back.EdgesPreTR[0].Src)
}

func TestGraphMLRoundTrip(t *testing.T) {
	g := sampleGraph()
	data, err := MarshalGraphML(g)
	require.NoError(t, err)
	require.Contains(t, string(data), `edgedefault="directed"`)

	back, err := UnmarshalGraphML(data)
	require.NoError(t, err)

	require.Equal(t, g.Nodes, back.Nodes)
	require.Len(t, back.Edges, 2)
	require.Equal(t, 150, back.Edges[0].NSrc1)
	require.Equal(t, 0.02, back.Edges[0].CI95Upper)
	require.Nil(t, back.Edges[0].QValue)
	require.NotNil(t, back.Edges[1].QValue)
	require.Equal(t, 0.0042, *back.Edges[1].QValue)
	require.Equal(t, 3, back.Edges[1].KCounterex)
}

func TestWriteReadJSONFile(t *testing.T) {
	dir := t.TempDir()
	g := sampleGraph()

	path, err := WriteJSONFile(g, dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "_all.json"), path)

	back, err := ReadJSONFile(path)
	require.NoError(t, err)
	require.Equal(t, g.Nodes, back.Nodes)
}

func TestSnapshotIndexes(t *testing.T) {
	snap := NewSnapshot(sampleGraph())

	require.False(t, snap.Empty())
	require.Equal(t, 0, snap.InDegree("_all", "X"))
	require.Equal(t, 1, snap.InDegree("_all", "Y"))
	require.Equal(t, 1, snap.InDegree("_all", "Z"))

	e, ok := snap.Edge("_all", "X", "Y")
	require.True(t, ok)
	require.Equal(t, 150, e.NSrc1)

	_, ok = snap.Edge("_all", "Y", "X")
	require.False(t, ok)
	_, ok = snap.Edge("other", "X", "Y")
	require.False(t, ok)
}

func TestStorePublishSwap(t *testing.T) {
	st := NewStore()
	require.True(t, st.Current().Empty())

	old := st.Current()
	st.Publish(sampleGraph())
	require.False(t, st.Current().Empty())
	// The old snapshot stays usable for readers that hold it.
	require.True(t, old.Empty())
}
