package graphfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/topo-nav/internal/graph/graphtest"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

const examplesDir = "../../examples"

func findEdge(t *testing.T, data types.GraphData, from, to types.NodeID) types.Edge {
	t.Helper()
	for _, e := range data.Edges {
		if e.From == from && e.To == to {
			return e
		}
	}
	t.Fatalf("edge %d->%d not found", from, to)
	return types.Edge{}
}

func TestDetectFormat(t *testing.T) {
	for path, want := range map[string]Format{
		"a.json": FormatJSON, "a.YAML": FormatYAML, "a.yml": FormatYAML, "dir/a.hcl": FormatHCL,
	} {
		got, err := DetectFormat(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	_, err := DetectFormat("graph.toml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoadStore_ExampleHCL(t *testing.T) {
	s, err := LoadStore(filepath.Join(examplesDir, "house.hcl"))
	require.NoError(t, err)

	assert.Equal(t, 6, s.Len())
	dock, ok := s.Dock()
	require.True(t, ok)
	assert.Equal(t, types.NodeID(1), dock)

	entry, err := s.ZoneEntry("living_room")
	require.NoError(t, err)
	assert.Equal(t, types.NodeID(3), entry)

	e, err := s.Edge(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3.0, e.BaseCost, "cost defaults to the distance")
	assert.Equal(t, types.SkillExitZone, e.Skill)
	assert.Equal(t, 1.0, e.Reliability)
	assert.True(t, e.Traversable)

	_, err = s.Edge(6, 4)
	assert.Error(t, err, "one-way edge has no reverse")

	n, err := s.Node(2)
	require.NoError(t, err)
	assert.Equal(t, "hall", n.Label, "label defaults to the block name")
}

func TestHCLMatchesYAML(t *testing.T) {
	fromHCL, err := Load(filepath.Join(examplesDir, "house.hcl"))
	require.NoError(t, err)
	fromYAML, err := Load(filepath.Join(examplesDir, "house.yaml"))
	require.NoError(t, err)

	assert.Equal(t, fromYAML.Nodes, fromHCL.Nodes)
	assert.Equal(t, fromYAML.Zones, fromHCL.Zones)
	assert.Equal(t, fromYAML.Dock, fromHCL.Dock)
	require.Len(t, fromHCL.Edges, 13)
	require.Len(t, fromYAML.Edges, 13)
	for i, want := range fromYAML.Edges {
		got := fromHCL.Edges[i]
		assert.Equal(t, want.Key(), got.Key())
		assert.InDelta(t, want.BaseCost, got.BaseCost, 1e-9, want.Key().String())
		assert.Equal(t, want.Reliability, got.Reliability)
		assert.Equal(t, want.Skill, got.Skill)
		assert.Equal(t, want.Traversable, got.Traversable)
	}
}

func TestParseHCL_Expressions(t *testing.T) {
	src := `
node "a" {
  id = 1
  x  = 0
  y  = 0
}
node "b" {
  id = 2
  x  = 3
  y  = 4
}

edge {
  from        = node.a.id
  to          = node.b.id
  cost        = distance(node.a.id, node.b.id) + 1
  traversable = false
}
`
	data, err := Parse([]byte(src), FormatHCL, "inline.hcl")
	require.NoError(t, err)
	require.Len(t, data.Edges, 1)
	assert.InDelta(t, 6.0, data.Edges[0].BaseCost, 1e-9)
	assert.False(t, data.Edges[0].Traversable)
	assert.Nil(t, data.Dock)
}

func TestParseHCL_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `node "a" {`},
		{"missing id", `node "a" { x = 0  y = 0 }`},
		{"duplicate block", `
node "a" { id = 1  x = 0  y = 0 }
node "a" { id = 2  x = 1  y = 0 }`},
		{"distance to unknown node", `
node "a" { id = 1  x = 0  y = 0 }
node "b" { id = 2  x = 1  y = 0 }
edge {
  from = 1
  to   = 2
  cost = distance(1, 9)
}`},
		{"unknown variable", `
node "a" { id = 1  x = 0  y = 0 }
edge {
  from = node.a.id
  to   = node.zz.id
}`},
		{"edge to unknown node", `
node "a" { id = 1  x = 0  y = 0 }
edge {
  from = 1
  to   = 7
}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), FormatHCL, "bad.hcl")
			assert.Error(t, err)
		})
	}
}

func TestParse_JSONAndYAMLErrors(t *testing.T) {
	_, err := Parse([]byte(`{"nodes": [], "edges": [], "extra": 1}`), FormatJSON, "g.json")
	assert.Error(t, err, "unknown fields are rejected")

	_, err = Parse([]byte("nodes:\n  - {id: 1, pose: {x: 0, y: 0}}\nedges:\n  - {from: 1, to: 2}\n"), FormatYAML, "g.yaml")
	assert.ErrorIs(t, err, ErrUnknownNode)

	_, err = Parse(nil, Format("toml"), "g.toml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestEncodeRoundTrip(t *testing.T) {
	data := graphtest.Triangle()
	data.Edges[0].FailurePenalty = 5
	data.Edges[1].Reliability = 0.75
	data.Edges[2].Traversable = false

	for _, format := range []Format{FormatJSON, FormatYAML, FormatHCL} {
		t.Run(string(format), func(t *testing.T) {
			out, err := Encode(data, format)
			require.NoError(t, err)

			back, err := Parse(out, format, "roundtrip."+string(format))
			require.NoError(t, err, string(out))
			assert.Equal(t, data, back)
		})
	}
}

func TestWriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "graph.hcl")
	data := graphtest.Random(7, 40, 3, 100)
	require.NoError(t, Write(path, data))

	back, err := Load(path)
	require.NoError(t, err)
	require.Len(t, back.Nodes, len(data.Nodes))
	for i, n := range data.Nodes {
		assert.Equal(t, n.ID, back.Nodes[i].ID)
		assert.Equal(t, n.Pose, back.Nodes[i].Pose)
	}
	require.Len(t, back.Edges, len(data.Edges))
	for i := range data.Edges {
		assert.InDelta(t, data.Edges[i].BaseCost, back.Edges[i].BaseCost, 1e-9)
	}
}
