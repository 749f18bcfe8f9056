package wal

// ============================================================================
// WAL Utilities
// Responsibility: Read-side helpers for the trace command and for Open
// ============================================================================

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// GetLastEvent returns the last event of the log at path, scanning the whole
// file so the result is verified. An empty file gives ErrEmptyWAL.
func GetLastEvent(path string) (*Event, error) {
	var last *Event
	err := ReplayFile(path, func(event Event) error {
		e := event
		last = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrEmptyWAL
	}
	return last, nil
}

// ReadEvents returns every event of the log at path.
func ReadEvents(path string) ([]Event, error) {
	var events []Event
	err := ReplayFile(path, func(event Event) error {
		events = append(events, event)
		return nil
	})
	return events, err
}

// CountEvents returns the number of events in the log at path.
func CountEvents(path string) (int, error) {
	n := 0
	err := ReplayFile(path, func(Event) error {
		n++
		return nil
	})
	return n, err
}

// WALStats summarizes a log.
type WALStats struct {
	TotalEvents int               `json:"total_events"`
	EventTypes  map[EventType]int `json:"event_types"`
	Missions    int               `json:"missions"`
	FirstSeq    uint64            `json:"first_seq"`
	LastSeq     uint64            `json:"last_seq"`
	TimeRange   [2]int64          `json:"time_range"` // [earliest, latest] Unix ms
}

// GetWALStats scans the log at path.
func GetWALStats(path string) (*WALStats, error) {
	stats := &WALStats{EventTypes: make(map[EventType]int)}
	missions := make(map[string]bool)
	err := ReplayFile(path, func(event Event) error {
		if stats.TotalEvents == 0 {
			stats.FirstSeq = event.Seq
			stats.TimeRange[0] = event.Timestamp
		}
		stats.TotalEvents++
		stats.EventTypes[event.Type]++
		stats.LastSeq = event.Seq
		stats.TimeRange[1] = event.Timestamp
		missions[event.MissionID] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats.Missions = len(missions)
	return stats, nil
}

// DumpWAL writes the log in a human-readable form, one event per line:
//
//	[Seq:3] TRAVERSE_FAIL mission=... zone=kitchen edge=1->2 attempt=1 (bumper) at 2026-01-02T15:04:05.000Z
func DumpWAL(path string, w io.Writer) error {
	err := ReplayFile(path, func(e Event) error {
		line := fmt.Sprintf("[Seq:%d] %s mission=%s", e.Seq, e.Type, e.MissionID)
		if e.ZoneID != "" {
			line += " zone=" + e.ZoneID
		}
		if e.Edge != nil {
			line += " edge=" + e.Edge.String()
		} else {
			line += fmt.Sprintf(" node=%d", e.Node)
		}
		if e.Attempt > 0 {
			line += fmt.Sprintf(" attempt=%d", e.Attempt)
		}
		if e.Value != 0 {
			line += fmt.Sprintf(" value=%.2f", e.Value)
		}
		if e.Reason != "" {
			line += " (" + e.Reason + ")"
		}
		line += " at " + time.UnixMilli(e.Timestamp).UTC().Format("2006-01-02T15:04:05.000Z")
		_, werr := fmt.Fprintln(w, line)
		return werr
	})
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("mission log %s: %w", path, err)
	}
	return err
}

// MissionIDs returns the distinct mission ids in the log, in first-seen order.
func MissionIDs(events []Event) []string {
	seen := make(map[string]int)
	for _, e := range events {
		if _, ok := seen[e.MissionID]; !ok {
			seen[e.MissionID] = len(seen)
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return seen[out[i]] < seen[out[j]] })
	return out
}
