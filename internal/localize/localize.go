// ============================================================================
// topo-nav Localizer
// ============================================================================
//
// Package: internal/localize
// File: localize.go
// Purpose: Snap a continuous pose to the nearest graph node
//
// Strategy:
//   - Below the threshold: linear scan over nodes sorted by id
//   - At or above it: static 2-d tree built once from node poses
//   - Both compare squared Euclidean distance on (x, y) and break ties to
//     the lowest node id, so they always agree
//   - theta is ignored
//
// Node poses never change after the graph is built, so the index is built
// once in New and never invalidated by penalty updates.
//
// ============================================================================

package localize

import (
	"errors"
	"sort"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// DefaultKDTreeThreshold is the node count at which the k-d tree is used.
const DefaultKDTreeThreshold = 256

var (
	ErrEmptyGraph = errors.New("graph has no nodes")
)

// NodeSource is satisfied by *graph.Store and graph.Reader.
type NodeSource interface {
	Nodes() []types.Node
}

// Localizer answers nearest-node queries.
type Localizer struct {
	nodes []types.Node // sorted by id
	tree  *kdNode
}

// New builds a Localizer over the nodes of src. threshold <= 0 selects
// DefaultKDTreeThreshold.
func New(src NodeSource, threshold int) *Localizer {
	if threshold <= 0 {
		threshold = DefaultKDTreeThreshold
	}
	nodes := src.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	l := &Localizer{nodes: nodes}
	if len(nodes) >= threshold {
		l.tree = buildKD(append([]types.Node(nil), nodes...), 0)
	}
	return l
}

// Indexed reports whether queries go through the k-d tree.
func (l *Localizer) Indexed() bool {
	return l.tree != nil
}

// NearestNode returns the id of the node closest to pose.
func (l *Localizer) NearestNode(pose types.Pose) (types.NodeID, error) {
	if len(l.nodes) == 0 {
		return 0, ErrEmptyGraph
	}
	if l.tree != nil {
		best := nearest{dist: -1}
		l.tree.search(pose, &best)
		return best.id, nil
	}
	return linearScan(l.nodes, pose), nil
}

// NearestNode is a one-shot query without building an index.
func NearestNode(src NodeSource, pose types.Pose) (types.NodeID, error) {
	nodes := src.Nodes()
	if len(nodes) == 0 {
		return 0, ErrEmptyGraph
	}
	return linearScan(nodes, pose), nil
}

func linearScan(nodes []types.Node, pose types.Pose) types.NodeID {
	best := nearest{dist: -1}
	for _, n := range nodes {
		best.offer(n, pose)
	}
	return best.id
}

func sqDist(a, b types.Pose) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

type nearest struct {
	id   types.NodeID
	dist float64 // squared; -1 = none yet
}

func (b *nearest) offer(n types.Node, pose types.Pose) {
	d := sqDist(n.Pose, pose)
	if b.dist < 0 || d < b.dist || (d == b.dist && n.ID < b.id) {
		b.id, b.dist = n.ID, d
	}
}

// ----------------------------------------------------------------------------
// k-d tree
// ----------------------------------------------------------------------------

type kdNode struct {
	node        types.Node
	axis        int // 0 = x, 1 = y
	left, right *kdNode
}

func coord(p types.Pose, axis int) float64 {
	if axis == 0 {
		return p.X
	}
	return p.Y
}

func buildKD(nodes []types.Node, depth int) *kdNode {
	if len(nodes) == 0 {
		return nil
	}
	axis := depth % 2
	sort.Slice(nodes, func(i, j int) bool {
		ci, cj := coord(nodes[i].Pose, axis), coord(nodes[j].Pose, axis)
		if ci != cj {
			return ci < cj
		}
		return nodes[i].ID < nodes[j].ID
	})
	mid := len(nodes) / 2
	return &kdNode{
		node:  nodes[mid],
		axis:  axis,
		left:  buildKD(nodes[:mid], depth+1),
		right: buildKD(nodes[mid+1:], depth+1),
	}
}

func (k *kdNode) search(pose types.Pose, best *nearest) {
	if k == nil {
		return
	}
	best.offer(k.node, pose)

	diff := coord(pose, k.axis) - coord(k.node.Pose, k.axis)
	near, far := k.left, k.right
	if diff > 0 {
		near, far = k.right, k.left
	}
	near.search(pose, best)
	// <= keeps equidistant candidates on the far side in play for tie-breaking.
	if diff*diff <= best.dist {
		far.search(pose, best)
	}
}
