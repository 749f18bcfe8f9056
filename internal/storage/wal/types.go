package wal

import "github.com/ChuLiYu/topo-nav/pkg/types"

// ============================================================================
// WAL Type Definitions
// Responsibility: Define the mission event records written to the log
// ============================================================================

// EventType defines WAL event types
type EventType string

const (
	EventMissionStart     EventType = "MISSION_START"     // Mission accepted at a start node
	EventZoneStart        EventType = "ZONE_START"        // Zone visit begins
	EventDockStart        EventType = "DOCK_START"        // Return to dock begins
	EventPlan             EventType = "PLAN"              // Planning attempt result
	EventTraverseOK       EventType = "TRAVERSE_OK"       // Edge traversed
	EventTraverseFail     EventType = "TRAVERSE_FAIL"     // Edge traversal failed
	EventPenalty          EventType = "PENALTY"           // Failure penalty applied to an edge
	EventZoneComplete     EventType = "ZONE_COMPLETE"     // Zone reached
	EventZoneUnreachable  EventType = "ZONE_UNREACHABLE"  // Zone given up
	EventDocked           EventType = "DOCKED"            // Dock reached
	EventMissionComplete  EventType = "MISSION_COMPLETE"  // Mission finished at the dock
	EventMissionAbandoned EventType = "MISSION_ABANDONED" // Mission stopped early
)

// Event represents a WAL event record. Seq, Timestamp and Checksum are
// assigned by Append; the remaining fields depend on Type.
type Event struct {
	Seq       uint64    `json:"seq"`  // Event sequence number (monotonically increasing)
	Type      EventType `json:"type"` // Event type
	MissionID string    `json:"mission_id"`

	ZoneID        string          `json:"zone_id,omitempty"`
	Priority      types.Priority  `json:"priority,omitempty"`
	CleaningMode  string          `json:"cleaning_mode,omitempty"`
	Node          types.NodeID    `json:"node"`             // robot position after the event
	Target        types.NodeID    `json:"target,omitempty"` // zone entry or dock node
	Edge          *types.EdgeKey  `json:"edge,omitempty"`
	Skill         types.SkillKind `json:"skill,omitempty"`
	Path          []types.NodeID  `json:"path,omitempty"` // PLAN: planned nodes
	Attempt       int             `json:"attempt,omitempty"`
	Value         float64         `json:"value,omitempty"` // PLAN: cost, PENALTY: amount
	Reason        string          `json:"reason,omitempty"`
	CleaningError string          `json:"cleaning_error,omitempty"`

	Timestamp int64  `json:"timestamp"` // Unix millisecond timestamp
	Checksum  uint32 `json:"checksum"`  // CRC32 checksum
}

// EventHandler is the function type for processing WAL events during Replay.
// Returning an error aborts the replay.
type EventHandler func(event Event) error
