// Package graphfile reads and writes facility graphs as JSON, YAML or HCL.
//
// All three formats share the same defaults: an edge without a cost is
// weighted by the straight-line distance between its endpoints, reliability
// defaults to 1, skill to follow_corridor and traversable to true. An edge
// marked bidirectional also produces its reverse.
package graphfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

var (
	// ErrUnknownFormat is returned for extensions other than json, yaml, yml and hcl.
	ErrUnknownFormat = errors.New("unknown graph file format")
	// ErrUnknownNode is returned when an edge, zone or dock names a missing node.
	ErrUnknownNode = errors.New("unknown node")
)

// Format is a graph file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// DetectFormat maps a file extension to its Format.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// Load reads the graph file at path, choosing the decoder by extension.
func Load(path string) (types.GraphData, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return types.GraphData{}, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return types.GraphData{}, fmt.Errorf("failed to read graph file: %w", err)
	}
	data, err := Parse(src, format, path)
	if err != nil {
		return types.GraphData{}, err
	}
	slog.Default().Debug("graph file loaded", "path", path, "format", format, "nodes", len(data.Nodes), "edges", len(data.Edges))
	return data, nil
}

// LoadStore loads path and builds a validated graph store from it.
func LoadStore(path string) (*graph.Store, error) {
	data, err := Load(path)
	if err != nil {
		return nil, err
	}
	s, err := graph.New(data)
	if err != nil {
		return nil, fmt.Errorf("invalid graph in %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes src in the given format. filename is used in diagnostics.
func Parse(src []byte, format Format, filename string) (types.GraphData, error) {
	switch format {
	case FormatJSON:
		var f fileGraph
		dec := json.NewDecoder(bytes.NewReader(src))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return types.GraphData{}, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
		return f.graphData()
	case FormatYAML:
		var f fileGraph
		if err := yaml.Unmarshal(src, &f); err != nil {
			return types.GraphData{}, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
		return f.graphData()
	case FormatHCL:
		return parseHCL(src, filename)
	}
	return types.GraphData{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Encode renders data in the given format. Penalties are kept.
func Encode(data types.GraphData, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		out, err := json.MarshalIndent(toFileGraph(data), "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(toFileGraph(data))
	case FormatHCL:
		return encodeHCL(data), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Write encodes data into path using the format implied by its extension.
func Write(path string, data types.GraphData) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}
	out, err := Encode(data, format)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write graph file: %w", err)
	}
	return nil
}

// ============================================================================
// JSON / YAML document
// ============================================================================

type fileGraph struct {
	Dock  *types.NodeID    `json:"dock,omitempty" yaml:"dock,omitempty"`
	Nodes []types.Node     `json:"nodes" yaml:"nodes"`
	Edges []fileEdge       `json:"edges" yaml:"edges"`
	Zones []types.ZoneSpec `json:"zones,omitempty" yaml:"zones,omitempty"`
}

type fileEdge struct {
	From           types.NodeID    `json:"from" yaml:"from"`
	To             types.NodeID    `json:"to" yaml:"to"`
	Cost           *float64        `json:"cost,omitempty" yaml:"cost,omitempty"`
	Reliability    *float64        `json:"reliability,omitempty" yaml:"reliability,omitempty"`
	Skill          types.SkillKind `json:"skill,omitempty" yaml:"skill,omitempty"`
	Traversable    *bool           `json:"traversable,omitempty" yaml:"traversable,omitempty"`
	Bidirectional  bool            `json:"bidirectional,omitempty" yaml:"bidirectional,omitempty"`
	FailurePenalty float64         `json:"failure_penalty,omitempty" yaml:"failure_penalty,omitempty"`
}

func (f fileGraph) graphData() (types.GraphData, error) {
	poses := make(map[types.NodeID]types.Pose, len(f.Nodes))
	for _, n := range f.Nodes {
		poses[n.ID] = n.Pose
	}
	data := types.GraphData{
		Nodes: append([]types.Node(nil), f.Nodes...),
		Zones: append([]types.ZoneSpec(nil), f.Zones...),
		Dock:  f.Dock,
	}
	for _, fe := range f.Edges {
		spec := edgeSpec{
			From:           fe.From,
			To:             fe.To,
			Cost:           fe.Cost,
			Reliability:    fe.Reliability,
			Skill:          fe.Skill,
			Traversable:    fe.Traversable,
			Bidirectional:  fe.Bidirectional,
			FailurePenalty: fe.FailurePenalty,
		}
		edges, err := spec.expand(poses)
		if err != nil {
			return types.GraphData{}, err
		}
		data.Edges = append(data.Edges, edges...)
	}
	return data, nil
}

func toFileGraph(data types.GraphData) fileGraph {
	f := fileGraph{
		Dock:  data.Dock,
		Nodes: data.Nodes,
		Zones: data.Zones,
	}
	for _, e := range data.Edges {
		cost, rel, trav := e.BaseCost, e.Reliability, e.Traversable
		f.Edges = append(f.Edges, fileEdge{
			From:           e.From,
			To:             e.To,
			Cost:           &cost,
			Reliability:    &rel,
			Skill:          e.Skill,
			Traversable:    &trav,
			FailurePenalty: e.FailurePenalty,
		})
	}
	return f
}

// ============================================================================
// Shared edge defaults
// ============================================================================

type edgeSpec struct {
	From, To       types.NodeID
	Cost           *float64
	Reliability    *float64
	Skill          types.SkillKind
	Traversable    *bool
	Bidirectional  bool
	FailurePenalty float64
}

// expand applies the edge defaults and returns one or two edges.
func (s edgeSpec) expand(poses map[types.NodeID]types.Pose) ([]types.Edge, error) {
	from, ok := poses[s.From]
	if !ok {
		return nil, fmt.Errorf("%w: edge %d->%d references node %d", ErrUnknownNode, s.From, s.To, s.From)
	}
	to, ok := poses[s.To]
	if !ok {
		return nil, fmt.Errorf("%w: edge %d->%d references node %d", ErrUnknownNode, s.From, s.To, s.To)
	}

	e := types.Edge{
		From:           s.From,
		To:             s.To,
		BaseCost:       from.DistanceTo(to),
		Reliability:    1,
		Skill:          types.SkillFollowCorridor,
		Traversable:    true,
		FailurePenalty: s.FailurePenalty,
	}
	if s.Cost != nil {
		e.BaseCost = *s.Cost
	}
	if s.Reliability != nil {
		e.Reliability = *s.Reliability
	}
	if s.Skill != "" {
		e.Skill = s.Skill
	}
	if s.Traversable != nil {
		e.Traversable = *s.Traversable
	}

	if !s.Bidirectional {
		return []types.Edge{e}, nil
	}
	back := e
	back.From, back.To = e.To, e.From
	return []types.Edge{e, back}, nil
}
