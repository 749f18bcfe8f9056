// Package graphtest provides small graphs shared by tests across packages.
package graphtest

import (
	"math"
	"math/rand"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// Triangle node ids.
const (
	A types.NodeID = 1
	B types.NodeID = 2
	C types.NodeID = 3
)

// Edge returns a traversable corridor edge with reliability 1.
func Edge(from, to types.NodeID, cost float64) types.Edge {
	return types.Edge{
		From:        from,
		To:          to,
		BaseCost:    cost,
		Reliability: 1,
		Skill:       types.SkillFollowCorridor,
		Traversable: true,
	}
}

// Both returns the edge pair from <-> to with identical attributes.
func Both(from, to types.NodeID, cost float64) []types.Edge {
	return []types.Edge{Edge(from, to, cost), Edge(to, from, cost)}
}

// Triangle is A(0,0) B(10,0) C(10,10) with A-B 10, B-C 10, A-C 25 in both
// directions. A is the dock; zones "zone-b" and "zone-c" hold B and C.
func Triangle() types.GraphData {
	dock := A
	data := types.GraphData{
		Nodes: []types.Node{
			{ID: A, Pose: types.Pose{X: 0, Y: 0}, Zone: "dock", Label: "dock"},
			{ID: B, Pose: types.Pose{X: 10, Y: 0}, Zone: "zone-b", Label: "hallway"},
			{ID: C, Pose: types.Pose{X: 10, Y: 10}, Zone: "zone-c", Label: "kitchen"},
		},
		Dock: &dock,
	}
	data.Edges = append(data.Edges, Both(A, B, 10)...)
	data.Edges = append(data.Edges, Both(B, C, 10)...)
	data.Edges = append(data.Edges, Both(A, C, 25)...)
	return data
}

// Random builds a reproducible graph of n nodes scattered in a size x size
// square. Each node gets up to degree outgoing edges whose base cost is the
// straight-line distance times a factor in [1, 1.5), so the Euclidean
// heuristic stays admissible. Some graphs are disconnected.
func Random(seed int64, n, degree int, size float64) types.GraphData {
	rng := rand.New(rand.NewSource(seed))
	data := types.GraphData{}
	for i := 0; i < n; i++ {
		data.Nodes = append(data.Nodes, types.Node{
			ID:   types.NodeID(i),
			Pose: types.Pose{X: math.Round(rng.Float64() * size), Y: math.Round(rng.Float64() * size)},
		})
	}

	seen := make(map[types.EdgeKey]bool)
	for i := 0; i < n; i++ {
		for d := 0; d < degree; d++ {
			j := rng.Intn(n)
			key := types.EdgeKey{From: types.NodeID(i), To: types.NodeID(j)}
			if j == i || seen[key] {
				continue
			}
			seen[key] = true
			dist := data.Nodes[i].Pose.DistanceTo(data.Nodes[j].Pose)
			e := Edge(key.From, key.To, dist*(1+rng.Float64()/2))
			e.Reliability = 0.5 + rng.Float64()/2
			e.Traversable = rng.Intn(10) != 0
			data.Edges = append(data.Edges, e)
		}
	}
	return data
}
