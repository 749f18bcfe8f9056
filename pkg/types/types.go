// Package types defines the core domain model shared by the topo-nav planner,
// executor and their surfaces.
package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// NodeID uniquely identifies a node for the lifetime of a graph.
type NodeID int

// Pose is a planar pose. Theta is carried but never used for distance.
type Pose struct {
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Theta float64 `json:"theta" yaml:"theta"` // orientation in radians
}

// DistanceTo returns the Euclidean distance between the two poses' positions.
func (p Pose) DistanceTo(other Pose) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Node is a semantic location in the facility graph. Immutable once the graph is built.
type Node struct {
	ID    NodeID `json:"id" yaml:"id"`
	Pose  Pose   `json:"pose" yaml:"pose"`
	Zone  string `json:"zone,omitempty" yaml:"zone,omitempty"`   // many nodes may share a zone
	Label string `json:"label,omitempty" yaml:"label,omitempty"` // free-text semantic label
}

// SkillKind names the execution primitive needed to traverse an edge.
type SkillKind string

const (
	SkillEnterZone               SkillKind = "enter_zone"
	SkillExitZone                SkillKind = "exit_zone"
	SkillFollowCorridor          SkillKind = "follow_corridor"
	SkillEnterFacility           SkillKind = "enter_facility"
	SkillExitFacility            SkillKind = "exit_facility"
	SkillNavigateServiceCorridor SkillKind = "navigate_service_corridor"
)

var skillKinds = []SkillKind{
	SkillEnterZone,
	SkillExitZone,
	SkillFollowCorridor,
	SkillEnterFacility,
	SkillExitFacility,
	SkillNavigateServiceCorridor,
}

// SkillKinds returns every known skill kind in declaration order.
func SkillKinds() []SkillKind {
	out := make([]SkillKind, len(skillKinds))
	copy(out, skillKinds)
	return out
}

// Valid reports whether k is one of the known skill kinds.
func (k SkillKind) Valid() bool {
	for _, known := range skillKinds {
		if k == known {
			return true
		}
	}
	return false
}

// EdgeKey identifies a directed edge.
type EdgeKey struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("%d->%d", k.From, k.To)
}

// MarshalText lets EdgeKey be used as a JSON map key ("3->4").
func (k EdgeKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the "from->to" form produced by MarshalText.
func (k *EdgeKey) UnmarshalText(text []byte) error {
	from, to, ok := strings.Cut(string(text), "->")
	if !ok {
		return fmt.Errorf("invalid edge key %q", text)
	}
	f, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return fmt.Errorf("invalid edge key %q: %w", text, err)
	}
	t, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return fmt.Errorf("invalid edge key %q: %w", text, err)
	}
	k.From, k.To = NodeID(f), NodeID(t)
	return nil
}

// Edge is a directed navigational affordance. Only FailurePenalty mutates after
// construction.
type Edge struct {
	From           NodeID    `json:"from" yaml:"from"`
	To             NodeID    `json:"to" yaml:"to"`
	BaseCost       float64   `json:"base_cost" yaml:"base_cost"`     // distance units, >= 0
	Reliability    float64   `json:"reliability" yaml:"reliability"` // (0, 1], 1 = perfectly reliable
	Skill          SkillKind `json:"skill" yaml:"skill"`
	Traversable    bool      `json:"traversable" yaml:"traversable"`
	FailurePenalty float64   `json:"failure_penalty,omitempty" yaml:"failure_penalty,omitempty"`
}

// Key returns the edge's (from, to) identity.
func (e Edge) Key() EdgeKey {
	return EdgeKey{From: e.From, To: e.To}
}

// ZoneSpec declares the representative (entry) node of a zone.
type ZoneSpec struct {
	ID    string `json:"id" yaml:"id"`
	Entry NodeID `json:"entry" yaml:"entry"`
}

// GraphData is the loaded, encoding-agnostic form of a graph.
type GraphData struct {
	Nodes []Node     `json:"nodes"`
	Edges []Edge     `json:"edges"`
	Zones []ZoneSpec `json:"zones,omitempty"`
	Dock  *NodeID    `json:"dock,omitempty"`
}

// GraphSnapshot is the persisted form of a graph including penalty state.
type GraphSnapshot struct {
	Graph     GraphData `json:"graph"`
	SchemaVer int       `json:"schema_ver"`
	TakenAt   int64     `json:"taken_at"` // Unix milliseconds
}

// Priority orders zone visitation. It never alters edge costs.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority accepts "low", "medium" or "high" (case-insensitive).
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ZoneRequest is one (zone_id, priority, cleaning_mode) tuple of a mission.
type ZoneRequest struct {
	ZoneID       string   `json:"zone_id" yaml:"zone_id"`
	Priority     Priority `json:"priority" yaml:"priority"`
	CleaningMode string   `json:"cleaning_mode,omitempty" yaml:"cleaning_mode,omitempty"`
}

// Mission is the order-irrelevant set of zone requests supplied by the task layer.
type Mission struct {
	Zones []ZoneRequest `json:"zones" yaml:"zones"`
}

// PathPlan is an ordered path through the graph.
type PathPlan struct {
	Nodes         []NodeID      `json:"nodes"`
	Edges         []Edge        `json:"edges"`
	Distance      float64       `json:"distance"` // sum of base costs, the physical distance
	Cost          float64       `json:"cost"`     // sum of effective costs at planning time
	EstimatedTime time.Duration `json:"estimated_time"`
}

// Start returns the first node of the plan.
func (p *PathPlan) Start() NodeID { return p.Nodes[0] }

// Goal returns the last node of the plan.
func (p *PathPlan) Goal() NodeID { return p.Nodes[len(p.Nodes)-1] }

func (p *PathPlan) String() string {
	return fmt.Sprintf("PathPlan(nodes=%d, distance=%.2fm, time=%.1fs)",
		len(p.Nodes), p.Distance, p.EstimatedTime.Seconds())
}

// MultiPlan is the chained plan over a goal set.
type MultiPlan struct {
	Plan        PathPlan `json:"plan"`
	Visits      []NodeID `json:"visits"`      // goals in the order they are first reached
	Unreachable []NodeID `json:"unreachable"` // goals never reached, ascending
}

// ZoneOutcome is the terminal result of one zone visit.
type ZoneOutcome string

const (
	ZoneCompleted   ZoneOutcome = "completed"
	ZoneUnreachable ZoneOutcome = "unreachable"
)

// MissionStatus is the overall state of a mission trace.
type MissionStatus string

const (
	MissionInProgress MissionStatus = "in_progress"
	MissionComplete   MissionStatus = "mission_complete"
	MissionAbandoned  MissionStatus = "mission_abandoned"
)

// TraversalFailure records one failed edge execution.
type TraversalFailure struct {
	Edge    EdgeKey   `json:"edge"`
	Skill   SkillKind `json:"skill"`
	Attempt int       `json:"attempt"`
	Penalty float64   `json:"penalty"` // penalty applied for this failure
	Reason  string    `json:"reason"`
}

// ZoneRecord is one entry of the mission trace.
type ZoneRecord struct {
	ZoneID        string             `json:"zone_id"`
	Priority      Priority           `json:"priority"`
	CleaningMode  string             `json:"cleaning_mode,omitempty"`
	EntryNode     NodeID             `json:"entry_node"`
	Outcome       ZoneOutcome        `json:"outcome"`
	Path          []NodeID           `json:"path"` // nodes actually occupied, in order
	Failures      []TraversalFailure `json:"failures,omitempty"`
	Attempts      int                `json:"attempts"`
	Reason        string             `json:"reason,omitempty"`
	CleaningError string             `json:"cleaning_error,omitempty"`
}

// MissionTrace is the ordered log returned by a mission run.
type MissionTrace struct {
	MissionID     string          `json:"mission_id"`
	Start         NodeID          `json:"start"`
	Final         NodeID          `json:"final"`
	Zones         []ZoneRecord    `json:"zones"`
	Dock          *ZoneRecord     `json:"dock,omitempty"`
	FailureCounts map[EdgeKey]int `json:"failure_counts,omitempty"`
	Status        MissionStatus   `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	StartedAt     int64           `json:"started_at"`  // Unix milliseconds
	FinishedAt    int64           `json:"finished_at"` // Unix milliseconds
}

// Completed returns the zone ids that reached ZoneCompleted, in visit order.
func (t *MissionTrace) Completed() []string {
	var out []string
	for _, z := range t.Zones {
		if z.Outcome == ZoneCompleted {
			out = append(out, z.ZoneID)
		}
	}
	return out
}

// Zone returns the record for zoneID, if any.
func (t *MissionTrace) Zone(zoneID string) (ZoneRecord, bool) {
	for _, z := range t.Zones {
		if z.ZoneID == zoneID {
			return z, true
		}
	}
	return ZoneRecord{}, false
}
