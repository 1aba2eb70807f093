package learn

import (
	"sort"

	"github.com/bolcd/condense-engine/pkg/models"
)

// TransitiveReduction removes every edge (u,v) that is reachable from u via
// the remaining edges, leaving the minimal subset with identical
// reachability. Edges are visited in lexicographic (src,dst) order so the
// result is reproducible.
func TransitiveReduction(edges []models.EdgeRecord) []models.EdgeRecord {
	ordered := make([]models.EdgeRecord, len(edges))
	copy(ordered, edges)
	sort.Slice(ordered, func(a, b int) bool {
		if ordered[a].Src != ordered[b].Src {
			return ordered[a].Src < ordered[b].Src
		}
		return ordered[a].Dst < ordered[b].Dst
	})

	adj := make(map[string]map[string]bool)
	for _, e := range ordered {
		if adj[e.Src] == nil {
			adj[e.Src] = make(map[string]bool)
		}
		adj[e.Src][e.Dst] = true
	}

	kept := make([]models.EdgeRecord, 0, len(ordered))
	for _, e := range ordered {
		delete(adj[e.Src], e.Dst)
		if reachable(adj, e.Src, e.Dst) {
			continue // transitively implied: drop for good
		}
		adj[e.Src][e.Dst] = true
		kept = append(kept, e)
	}
	return kept
}

// reachable runs a BFS from src over the adjacency map, neighbor order made
// deterministic by sorting. Returns true when dst is reachable.
func reachable(adj map[string]map[string]bool, src, dst string) bool {
	if src == dst {
		return true
	}
	visited := map[string]bool{src: true}
	queue := []string{src}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		next := make([]string, 0, len(adj[u]))
		for v := range adj[u] {
			next = append(next, v)
		}
		sort.Strings(next)
		for _, v := range next {
			if v == dst {
				return true
			}
			if !visited[v] {
				visited[v] = true
				queue = append(queue, v)
			}
		}
	}
	return false
}

// BreakCycles drops the weakest edge of every cycle until the edge set is
// acyclic. Acceptance can admit both directions of a pair whose metrics
// always fire together, so each segment's accepted set passes through here;
// the weakest edge is the one with
// the highest q-value, ties broken by highest ci95_upper then lexicographic
// order. Returns the acyclic set and the dropped edges.
func BreakCycles(edges []models.EdgeRecord) (kept, dropped []models.EdgeRecord) {
	kept = make([]models.EdgeRecord, len(edges))
	copy(kept, edges)

	for {
		cycle := findCycle(kept)
		if cycle == nil {
			return kept, dropped
		}
		weakest := 0
		for i := 1; i < len(cycle); i++ {
			if weakerEdge(kept[cycle[i]], kept[cycle[weakest]]) {
				weakest = i
			}
		}
		drop := cycle[weakest]
		dropped = append(dropped, kept[drop])
		kept = append(kept[:drop], kept[drop+1:]...)
	}
}

// weakerEdge reports whether a is weaker evidence than b.
func weakerEdge(a, b models.EdgeRecord) bool {
	qa, qb := edgeQ(a), edgeQ(b)
	if qa != qb {
		return qa > qb
	}
	if a.CI95Upper != b.CI95Upper {
		return a.CI95Upper > b.CI95Upper
	}
	return a.Src+a.Dst > b.Src+b.Dst
}

func edgeQ(e models.EdgeRecord) float64 {
	if e.QValue == nil {
		return 0
	}
	return *e.QValue
}

// findCycle returns the indices of edges forming one cycle, or nil when the
// set is acyclic. Iterative DFS with a three-color walk.
func findCycle(edges []models.EdgeRecord) []int {
	type arc struct {
		to  string
		idx int
	}
	adj := make(map[string][]arc)
	nodes := make([]string, 0)
	seenNode := make(map[string]bool)
	for i, e := range edges {
		adj[e.Src] = append(adj[e.Src], arc{to: e.Dst, idx: i})
		for _, n := range []string{e.Src, e.Dst} {
			if !seenNode[n] {
				seenNode[n] = true
				nodes = append(nodes, n)
			}
		}
	}
	sort.Strings(nodes)
	for _, arcs := range adj {
		sort.Slice(arcs, func(a, b int) bool { return arcs[a].to < arcs[b].to })
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	parentArc := make(map[string]int) // node -> edge index that entered it

	var cycle []int
	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, a := range adj[u] {
			switch color[a.to] {
			case white:
				parentArc[a.to] = a.idx
				if dfs(a.to) {
					return true
				}
			case gray:
				// back edge: unwind the gray path from u back to a.to
				cycle = []int{a.idx}
				for cur := u; cur != a.to; {
					idx := parentArc[cur]
					cycle = append(cycle, idx)
					cur = edges[idx].Src
				}
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, n := range nodes {
		if color[n] == white {
			if dfs(n) {
				return cycle
			}
		}
	}
	return nil
}
