package wal

// ============================================================================
// Trace Rebuild
// Responsibility: Reconstruct mission traces from logged events
//
// Event → trace mapping:
//   MISSION_START      new trace at Node
//   ZONE_START         new zone record (entry = Target, path = [Node])
//   DOCK_START         dock record (entry = Target, path = [Node])
//   PLAN               attempts of the current record = Attempt
//   TRAVERSE_OK        append Edge.To to the current record's path
//   TRAVERSE_FAIL      failure on the current record, failure count + 1
//   PENALTY            penalty of the current record's last failure
//   ZONE_COMPLETE      outcome completed (+ cleaning error)
//   ZONE_UNREACHABLE   outcome unreachable, reason, attempts
//   DOCKED             dock outcome completed
//   MISSION_COMPLETE   status complete
//   MISSION_ABANDONED  status abandoned, reason; an open dock visit fails
// ============================================================================

import (
	"fmt"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// Rebuild folds events into one trace per mission, in first-seen order.
// A mission without a terminal event keeps status in_progress.
func Rebuild(events []Event) ([]*types.MissionTrace, error) {
	traces := make(map[string]*types.MissionTrace)
	current := make(map[string]*types.ZoneRecord)
	var order []string

	for _, e := range events {
		if e.Type == EventMissionStart {
			if _, dup := traces[e.MissionID]; dup {
				return nil, fmt.Errorf("mission %s started twice (seq %d)", e.MissionID, e.Seq)
			}
			traces[e.MissionID] = &types.MissionTrace{
				MissionID:     e.MissionID,
				Start:         e.Node,
				Final:         e.Node,
				Zones:         []types.ZoneRecord{},
				FailureCounts: make(map[types.EdgeKey]int),
				Status:        types.MissionInProgress,
				StartedAt:     e.Timestamp,
			}
			order = append(order, e.MissionID)
			continue
		}

		t, ok := traces[e.MissionID]
		if !ok {
			return nil, fmt.Errorf("event %s at seq %d for unknown mission %s", e.Type, e.Seq, e.MissionID)
		}
		rec := current[e.MissionID]

		switch e.Type {
		case EventZoneStart:
			t.Zones = append(t.Zones, types.ZoneRecord{
				ZoneID:       e.ZoneID,
				Priority:     e.Priority,
				CleaningMode: e.CleaningMode,
				EntryNode:    e.Target,
				Path:         []types.NodeID{e.Node},
			})
			current[e.MissionID] = &t.Zones[len(t.Zones)-1]

		case EventDockStart:
			t.Dock = &types.ZoneRecord{
				EntryNode: e.Target,
				Path:      []types.NodeID{e.Node},
			}
			current[e.MissionID] = t.Dock

		case EventPlan:
			if rec == nil {
				return nil, orphan(e)
			}
			rec.Attempts = e.Attempt

		case EventTraverseOK:
			if rec == nil || e.Edge == nil {
				return nil, orphan(e)
			}
			rec.Path = append(rec.Path, e.Edge.To)
			t.Final = e.Edge.To

		case EventTraverseFail:
			if rec == nil || e.Edge == nil {
				return nil, orphan(e)
			}
			rec.Failures = append(rec.Failures, types.TraversalFailure{
				Edge:    *e.Edge,
				Skill:   e.Skill,
				Attempt: e.Attempt,
				Reason:  e.Reason,
			})
			t.FailureCounts[*e.Edge]++

		case EventPenalty:
			if rec == nil || len(rec.Failures) == 0 {
				return nil, orphan(e)
			}
			rec.Failures[len(rec.Failures)-1].Penalty = e.Value

		case EventZoneComplete, EventDocked:
			if rec == nil {
				return nil, orphan(e)
			}
			rec.Outcome = types.ZoneCompleted
			rec.Attempts = e.Attempt
			rec.CleaningError = e.CleaningError
			current[e.MissionID] = nil

		case EventZoneUnreachable:
			// Skipped or unknown zones never get a ZONE_START.
			if rec == nil || rec.ZoneID != e.ZoneID {
				t.Zones = append(t.Zones, types.ZoneRecord{
					ZoneID:       e.ZoneID,
					Priority:     e.Priority,
					CleaningMode: e.CleaningMode,
					EntryNode:    e.Target,
					Path:         []types.NodeID{e.Node},
				})
				rec = &t.Zones[len(t.Zones)-1]
			}
			rec.Outcome = types.ZoneUnreachable
			rec.Attempts = e.Attempt
			rec.Reason = e.Reason
			current[e.MissionID] = nil

		case EventMissionComplete, EventMissionAbandoned:
			t.Status = types.MissionComplete
			if e.Type == EventMissionAbandoned {
				t.Status = types.MissionAbandoned
				t.Reason = e.Reason
				if rec != nil && rec == t.Dock {
					rec.Outcome = types.ZoneUnreachable
					rec.Attempts = e.Attempt
					rec.Reason = e.Reason
				}
			}
			t.Final = e.Node
			t.FinishedAt = e.Timestamp
			current[e.MissionID] = nil

		default:
			return nil, fmt.Errorf("unknown event type %q at seq %d", e.Type, e.Seq)
		}
	}

	out := make([]*types.MissionTrace, 0, len(order))
	for _, id := range order {
		t := traces[id]
		if len(t.FailureCounts) == 0 {
			t.FailureCounts = nil
		}
		out = append(out, t)
	}
	return out, nil
}

func orphan(e Event) error {
	return fmt.Errorf("%s at seq %d outside a zone or dock visit", e.Type, e.Seq)
}
