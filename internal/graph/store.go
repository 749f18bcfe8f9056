// ============================================================================
// topo-nav Graph Store
// ============================================================================
//
// Package: internal/graph
// File: store.go
// Purpose: Owns nodes, directed edges, adjacency and per-edge penalty state
//
// Data layout:
//   nodes map[NodeID]Node          - immutable after New()
//   order []NodeID                 - node ids ascending, for deterministic scans
//   adj   map[NodeID][]*Edge       - outgoing edges, sorted by destination id
//   edges map[EdgeKey]*Edge        - same edge pointers, keyed by (from, to)
//   zones map[string]NodeID        - zone -> representative (entry) node
//
// Concurrency:
//   - sync.RWMutex guards everything; only penalties ever change
//   - ApplyPenalty / DecayPenalties / ResetPenalties / RestorePenalties take
//     the write lock, each touching penalties only
//   - Read(fn) holds the read lock for the whole callback so a planner sees
//     one consistent cost state from its first expansion to its last
//   - version increases on every mutation; caches key on it
//
// ============================================================================

package graph

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

var (
	// ErrNotFound is wrapped by every lookup of an unknown node, edge or zone.
	ErrNotFound = errors.New("not found")
	// ErrInvalidGraph is wrapped by construction failures.
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrInvalidPenalty rejects non-positive or non-finite penalty amounts.
	ErrInvalidPenalty = errors.New("invalid penalty")
)

// ValidationError describes the first problem found while building a graph.
type ValidationError struct {
	Field  string // "node", "edge" or "zone"
	Ref    string // offending id or edge key
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid graph: %s %s: %s", e.Field, e.Ref, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidGraph
}

// Reader is the read-only view planners and localizers work against.
type Reader interface {
	Node(id types.NodeID) (types.Node, error)
	Nodes() []types.Node
	Neighbors(id types.NodeID) ([]types.Edge, error)
	Edge(from, to types.NodeID) (types.Edge, error)
	ZoneEntry(zone string) (types.NodeID, error)
	Zones() []string
	Len() int
	Version() uint64
}

// Store is the thread-safe graph.
type Store struct {
	mu      sync.RWMutex
	nodes   map[types.NodeID]types.Node
	order   []types.NodeID
	adj     map[types.NodeID][]*types.Edge
	edges   map[types.EdgeKey]*types.Edge
	zones   map[string]types.NodeID
	dock    *types.NodeID
	version uint64
}

// New validates data and builds a Store. The input is copied.
func New(data types.GraphData) (*Store, error) {
	s := &Store{
		nodes: make(map[types.NodeID]types.Node, len(data.Nodes)),
		adj:   make(map[types.NodeID][]*types.Edge, len(data.Nodes)),
		edges: make(map[types.EdgeKey]*types.Edge, len(data.Edges)),
		zones: make(map[string]types.NodeID),
	}

	for _, n := range data.Nodes {
		if _, dup := s.nodes[n.ID]; dup {
			return nil, &ValidationError{Field: "node", Ref: fmt.Sprint(n.ID), Reason: "duplicate id"}
		}
		if !finite(n.Pose.X) || !finite(n.Pose.Y) {
			return nil, &ValidationError{Field: "node", Ref: fmt.Sprint(n.ID), Reason: "pose must be finite"}
		}
		s.nodes[n.ID] = n
		s.order = append(s.order, n.ID)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })

	for _, e := range data.Edges {
		if err := s.validateEdge(e); err != nil {
			return nil, err
		}
		edge := e
		s.edges[e.Key()] = &edge
		s.adj[e.From] = append(s.adj[e.From], &edge)
	}
	for id := range s.adj {
		out := s.adj[id]
		sort.Slice(out, func(i, j int) bool { return out[i].To < out[j].To })
	}

	// Declared entries win; otherwise the lowest node id in the zone.
	for _, id := range s.order {
		zone := s.nodes[id].Zone
		if zone == "" {
			continue
		}
		if _, ok := s.zones[zone]; !ok {
			s.zones[zone] = id
		}
	}
	for _, z := range data.Zones {
		if z.ID == "" {
			return nil, &ValidationError{Field: "zone", Ref: "\"\"", Reason: "empty zone id"}
		}
		if _, ok := s.nodes[z.Entry]; !ok {
			return nil, &ValidationError{Field: "zone", Ref: z.ID, Reason: fmt.Sprintf("entry node %d does not exist", z.Entry)}
		}
		s.zones[z.ID] = z.Entry
	}

	if data.Dock != nil {
		if _, ok := s.nodes[*data.Dock]; !ok {
			return nil, &ValidationError{Field: "node", Ref: fmt.Sprint(*data.Dock), Reason: "dock node does not exist"}
		}
		dock := *data.Dock
		s.dock = &dock
	}

	return s, nil
}

func (s *Store) validateEdge(e types.Edge) error {
	ref := e.Key().String()
	if _, ok := s.nodes[e.From]; !ok {
		return &ValidationError{Field: "edge", Ref: ref, Reason: fmt.Sprintf("unknown source node %d", e.From)}
	}
	if _, ok := s.nodes[e.To]; !ok {
		return &ValidationError{Field: "edge", Ref: ref, Reason: fmt.Sprintf("unknown destination node %d", e.To)}
	}
	if _, dup := s.edges[e.Key()]; dup {
		return &ValidationError{Field: "edge", Ref: ref, Reason: "duplicate edge"}
	}
	if e.BaseCost < 0 || !finite(e.BaseCost) {
		return &ValidationError{Field: "edge", Ref: ref, Reason: "base_cost must be finite and >= 0"}
	}
	if !(e.Reliability > 0 && e.Reliability <= 1) {
		return &ValidationError{Field: "edge", Ref: ref, Reason: "reliability must be in (0, 1]"}
	}
	if !e.Skill.Valid() {
		return &ValidationError{Field: "edge", Ref: ref, Reason: fmt.Sprintf("unknown skill %q", e.Skill)}
	}
	if e.FailurePenalty < 0 || !finite(e.FailurePenalty) {
		return &ValidationError{Field: "edge", Ref: ref, Reason: "failure_penalty must be finite and >= 0"}
	}
	return nil
}

// Read runs fn against a consistent view under the read lock. fn must not
// call mutating Store methods.
func (s *Store) Read(fn func(r Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{s})
}

// Node returns the node with the given id.
func (s *Store) Node(id types.NodeID) (types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.Node(id)
}

// Nodes returns all nodes ordered by id.
func (s *Store) Nodes() []types.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.Nodes()
}

// Neighbors returns copies of the outgoing edges of id, ordered by destination.
func (s *Store) Neighbors(id types.NodeID) ([]types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.Neighbors(id)
}

// Edge returns a copy of the edge from -> to.
func (s *Store) Edge(from, to types.NodeID) (types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.Edge(from, to)
}

// ZoneEntry returns the representative node of zone.
func (s *Store) ZoneEntry(zone string) (types.NodeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.ZoneEntry(zone)
}

// Zones returns all zone ids, sorted.
func (s *Store) Zones() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.Zones()
}

// Len returns the node count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Dock returns the dock node declared in the graph data, if any.
func (s *Store) Dock() (types.NodeID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dock == nil {
		return 0, false
	}
	return *s.dock, true
}

// Version returns the mutation counter.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ApplyPenalty adds amount to the failure penalty of from -> to.
//
// Parameters:
//   - from, to: edge endpoints
//   - amount: strictly positive, finite
//
// Returns:
//   - float64: the edge's new penalty
//   - error: ErrNotFound for an unknown edge, ErrInvalidPenalty for a bad amount
func (s *Store) ApplyPenalty(from, to types.NodeID, amount float64) (float64, error) {
	if amount <= 0 || !finite(amount) {
		return 0, fmt.Errorf("%w: amount %v", ErrInvalidPenalty, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.edges[types.EdgeKey{From: from, To: to}]
	if !ok {
		return 0, fmt.Errorf("edge %d->%d: %w", from, to, ErrNotFound)
	}
	e.FailurePenalty += amount
	s.version++
	return e.FailurePenalty, nil
}

// DecayPenalties multiplies every penalty by factor. A factor of 0 resets them.
func (s *Store) DecayPenalties(factor float64) error {
	if factor < 0 || factor >= 1 || math.IsNaN(factor) {
		return fmt.Errorf("%w: decay factor %v not in [0, 1)", ErrInvalidPenalty, factor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.edges {
		if e.FailurePenalty == 0 {
			continue
		}
		e.FailurePenalty *= factor
	}
	s.version++
	return nil
}

// ResetPenalties zeroes every penalty.
func (s *Store) ResetPenalties() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.edges {
		e.FailurePenalty = 0
	}
	s.version++
}

// Penalties returns every non-zero penalty.
func (s *Store) Penalties() map[types.EdgeKey]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.EdgeKey]float64)
	for key, e := range s.edges {
		if e.FailurePenalty > 0 {
			out[key] = e.FailurePenalty
		}
	}
	return out
}

// RestorePenalties replaces the penalty state with the given values. Edges
// not listed end at zero. The whole set is validated before anything changes.
func (s *Store) RestorePenalties(penalties map[types.EdgeKey]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, p := range penalties {
		if _, ok := s.edges[key]; !ok {
			return fmt.Errorf("edge %s: %w", key, ErrNotFound)
		}
		if p < 0 || !finite(p) {
			return fmt.Errorf("%w: edge %s penalty %v", ErrInvalidPenalty, key, p)
		}
	}
	for key, e := range s.edges {
		e.FailurePenalty = penalties[key]
	}
	s.version++
	return nil
}

// Snapshot returns a deep copy of the graph, including current penalties.
func (s *Store) Snapshot() types.GraphData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := types.GraphData{
		Nodes: make([]types.Node, 0, len(s.order)),
	}
	for _, id := range s.order {
		data.Nodes = append(data.Nodes, s.nodes[id])
		for _, e := range s.adj[id] {
			data.Edges = append(data.Edges, *e)
		}
	}

	zoneIDs := make([]string, 0, len(s.zones))
	for z := range s.zones {
		zoneIDs = append(zoneIDs, z)
	}
	sort.Strings(zoneIDs)
	for _, z := range zoneIDs {
		data.Zones = append(data.Zones, types.ZoneSpec{ID: z, Entry: s.zones[z]})
	}

	if s.dock != nil {
		dock := *s.dock
		data.Dock = &dock
	}
	return data
}

// view implements Reader without locking; the caller holds s.mu.
type view struct {
	s *Store
}

func (v view) Node(id types.NodeID) (types.Node, error) {
	n, ok := v.s.nodes[id]
	if !ok {
		return types.Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return n, nil
}

func (v view) Nodes() []types.Node {
	out := make([]types.Node, 0, len(v.s.order))
	for _, id := range v.s.order {
		out = append(out, v.s.nodes[id])
	}
	return out
}

func (v view) Neighbors(id types.NodeID) ([]types.Edge, error) {
	if _, ok := v.s.nodes[id]; !ok {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	out := make([]types.Edge, 0, len(v.s.adj[id]))
	for _, e := range v.s.adj[id] {
		out = append(out, *e)
	}
	return out, nil
}

func (v view) Edge(from, to types.NodeID) (types.Edge, error) {
	e, ok := v.s.edges[types.EdgeKey{From: from, To: to}]
	if !ok {
		return types.Edge{}, fmt.Errorf("edge %d->%d: %w", from, to, ErrNotFound)
	}
	return *e, nil
}

func (v view) ZoneEntry(zone string) (types.NodeID, error) {
	id, ok := v.s.zones[zone]
	if !ok {
		return 0, fmt.Errorf("zone %q: %w", zone, ErrNotFound)
	}
	return id, nil
}

func (v view) Zones() []string {
	out := make([]string, 0, len(v.s.zones))
	for z := range v.s.zones {
		out = append(out, z)
	}
	sort.Strings(out)
	return out
}

func (v view) Len() int {
	return len(v.s.order)
}

func (v view) Version() uint64 {
	return v.s.version
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
