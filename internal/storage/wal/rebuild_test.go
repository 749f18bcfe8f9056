package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

func TestRebuild_Mission(t *testing.T) {
	ab := edgeKey(1, 2)
	events := []Event{
		{Type: EventMissionStart, MissionID: "m1", Node: 1, Timestamp: 100},
		{Type: EventZoneUnreachable, MissionID: "m1", ZoneID: "attic", Priority: types.PriorityLow, Node: 1, Reason: "skipped by high_only policy"},
		{Type: EventZoneStart, MissionID: "m1", ZoneID: "zone-c", Priority: types.PriorityHigh, CleaningMode: "mop", Node: 1, Target: 3},
		{Type: EventPlan, MissionID: "m1", Node: 1, Attempt: 1, Path: []types.NodeID{1, 2, 3}},
		{Type: EventTraverseFail, MissionID: "m1", Node: 1, Edge: ab, Skill: types.SkillFollowCorridor, Attempt: 1, Reason: "bumper"},
		{Type: EventPenalty, MissionID: "m1", Node: 1, Edge: ab, Value: 10},
		{Type: EventPlan, MissionID: "m1", Node: 1, Attempt: 2, Path: []types.NodeID{1, 3}},
		{Type: EventTraverseOK, MissionID: "m1", Node: 3, Edge: edgeKey(1, 3)},
		{Type: EventZoneComplete, MissionID: "m1", ZoneID: "zone-c", Node: 3, Attempt: 2, CleaningError: "brush jammed"},
		{Type: EventZoneUnreachable, MissionID: "m1", ZoneID: "garage", Node: 3, Reason: "unknown zone"},
		{Type: EventDockStart, MissionID: "m1", Node: 3, Target: 1},
		{Type: EventPlan, MissionID: "m1", Node: 3, Attempt: 1},
		{Type: EventTraverseOK, MissionID: "m1", Node: 1, Edge: edgeKey(3, 1)},
		{Type: EventDocked, MissionID: "m1", Node: 1, Attempt: 1},
		{Type: EventMissionComplete, MissionID: "m1", Node: 1, Timestamp: 200},
		{Type: EventMissionStart, MissionID: "m2", Node: 2},
	}

	traces, err := Rebuild(events)
	require.NoError(t, err)
	require.Len(t, traces, 2)

	m1 := traces[0]
	assert.Equal(t, types.MissionComplete, m1.Status)
	assert.Equal(t, types.NodeID(1), m1.Final)
	assert.Equal(t, int64(200), m1.FinishedAt)
	require.Len(t, m1.Zones, 3)

	assert.Equal(t, types.ZoneRecord{
		ZoneID: "attic", Priority: types.PriorityLow, Outcome: types.ZoneUnreachable,
		Path: []types.NodeID{1}, Reason: "skipped by high_only policy",
	}, m1.Zones[0])

	c := m1.Zones[1]
	assert.Equal(t, types.ZoneCompleted, c.Outcome)
	assert.Equal(t, types.NodeID(3), c.EntryNode)
	assert.Equal(t, []types.NodeID{1, 3}, c.Path)
	assert.Equal(t, 2, c.Attempts)
	assert.Equal(t, "brush jammed", c.CleaningError)
	require.Len(t, c.Failures, 1)
	assert.Equal(t, types.TraversalFailure{Edge: *ab, Skill: types.SkillFollowCorridor, Attempt: 1, Penalty: 10, Reason: "bumper"}, c.Failures[0])

	assert.Equal(t, "garage", m1.Zones[2].ZoneID)
	assert.Equal(t, []types.NodeID{3}, m1.Zones[2].Path)

	require.NotNil(t, m1.Dock)
	assert.Equal(t, types.ZoneCompleted, m1.Dock.Outcome)
	assert.Equal(t, []types.NodeID{3, 1}, m1.Dock.Path)
	assert.Equal(t, map[types.EdgeKey]int{*ab: 1}, m1.FailureCounts)

	m2 := traces[1]
	assert.Equal(t, types.MissionInProgress, m2.Status)
	assert.Empty(t, m2.Zones)
	assert.Nil(t, m2.FailureCounts)
}

func TestRebuild_Abandoned(t *testing.T) {
	traces, err := Rebuild([]Event{
		{Type: EventMissionStart, MissionID: "m1", Node: 2},
		{Type: EventDockStart, MissionID: "m1", Node: 2, Target: 1},
		{Type: EventPlan, MissionID: "m1", Node: 2, Attempt: 3},
		{Type: EventMissionAbandoned, MissionID: "m1", Node: 2, Attempt: 3, Reason: "dock unreachable"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MissionAbandoned, traces[0].Status)
	assert.Equal(t, "dock unreachable", traces[0].Reason)
	require.NotNil(t, traces[0].Dock)
	assert.Equal(t, types.ZoneUnreachable, traces[0].Dock.Outcome)
	assert.Equal(t, 3, traces[0].Dock.Attempts)
}

func TestRebuild_Errors(t *testing.T) {
	_, err := Rebuild([]Event{{Type: EventPlan, MissionID: "ghost"}})
	assert.Error(t, err)

	_, err = Rebuild([]Event{
		{Type: EventMissionStart, MissionID: "m1"},
		{Type: EventTraverseOK, MissionID: "m1", Edge: edgeKey(1, 2)},
	})
	assert.ErrorContains(t, err, "outside a zone or dock visit")

	_, err = Rebuild([]Event{
		{Type: EventMissionStart, MissionID: "m1"},
		{Type: EventMissionStart, MissionID: "m1"},
	})
	assert.ErrorContains(t, err, "started twice")
}
