package graphfile

// ============================================================================
// HCL graph files
//
//   dock = node.dock.id
//
//   node "dock"    { id = 1  x = 0  y = 0  zone = "hall" }
//   node "kitchen" { id = 2  x = 4  y = 3  zone = "kitchen" }
//
//   edge {
//     from          = node.dock.id
//     to            = node.kitchen.id
//     cost          = distance(node.dock.id, node.kitchen.id) * 1.2
//     bidirectional = true
//   }
//
//   zone "kitchen" { entry = node.kitchen.id }
//
// Nodes are decoded first; edges, zones and dock are then evaluated with
// the node.<name> variables and the distance(a, b) function in scope.
// ============================================================================

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

type hclNodesDoc struct {
	Nodes  []hclNode `hcl:"node,block"`
	Remain hcl.Body  `hcl:",remain"`
}

type hclNode struct {
	Name  string  `hcl:"name,label"`
	ID    int     `hcl:"id"`
	X     float64 `hcl:"x"`
	Y     float64 `hcl:"y"`
	Theta float64 `hcl:"theta,optional"`
	Zone  string  `hcl:"zone,optional"`
	Label string  `hcl:"label,optional"`
}

type hclRestDoc struct {
	Dock  *int      `hcl:"dock,optional"`
	Edges []hclEdge `hcl:"edge,block"`
	Zones []hclZone `hcl:"zone,block"`
}

type hclEdge struct {
	From           int      `hcl:"from"`
	To             int      `hcl:"to"`
	Cost           *float64 `hcl:"cost,optional"`
	Reliability    *float64 `hcl:"reliability,optional"`
	Skill          *string  `hcl:"skill,optional"`
	Traversable    *bool    `hcl:"traversable,optional"`
	Bidirectional  *bool    `hcl:"bidirectional,optional"`
	FailurePenalty *float64 `hcl:"failure_penalty,optional"`
}

type hclZone struct {
	ID    string `hcl:"id,label"`
	Entry int    `hcl:"entry"`
}

func parseHCL(src []byte, filename string) (types.GraphData, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return types.GraphData{}, fmt.Errorf("failed to parse HCL file %s: %s", filename, diags.Error())
	}

	var nodesDoc hclNodesDoc
	if diags := gohcl.DecodeBody(file.Body, nil, &nodesDoc); diags.HasErrors() {
		return types.GraphData{}, fmt.Errorf("failed to decode nodes in %s: %s", filename, diags.Error())
	}

	var data types.GraphData
	poses := make(map[types.NodeID]types.Pose, len(nodesDoc.Nodes))
	vars := make(map[string]cty.Value, len(nodesDoc.Nodes))
	for _, n := range nodesDoc.Nodes {
		if _, dup := vars[n.Name]; dup {
			return types.GraphData{}, fmt.Errorf("duplicate node block %q in %s", n.Name, filename)
		}
		label := n.Label
		if label == "" {
			label = n.Name
		}
		node := types.Node{
			ID:    types.NodeID(n.ID),
			Pose:  types.Pose{X: n.X, Y: n.Y, Theta: n.Theta},
			Zone:  n.Zone,
			Label: label,
		}
		data.Nodes = append(data.Nodes, node)
		poses[node.ID] = node.Pose
		vars[n.Name] = cty.ObjectVal(map[string]cty.Value{
			"id":    cty.NumberIntVal(int64(n.ID)),
			"x":     cty.NumberFloatVal(n.X),
			"y":     cty.NumberFloatVal(n.Y),
			"theta": cty.NumberFloatVal(n.Theta),
		})
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"node": objectOrEmpty(vars)},
		Functions: map[string]function.Function{"distance": distanceFunc(poses)},
	}

	var rest hclRestDoc
	if diags := gohcl.DecodeBody(nodesDoc.Remain, evalCtx, &rest); diags.HasErrors() {
		return types.GraphData{}, fmt.Errorf("failed to decode HCL file %s: %s", filename, diags.Error())
	}

	if rest.Dock != nil {
		dock := types.NodeID(*rest.Dock)
		data.Dock = &dock
	}
	for _, z := range rest.Zones {
		data.Zones = append(data.Zones, types.ZoneSpec{ID: z.ID, Entry: types.NodeID(z.Entry)})
	}
	for _, he := range rest.Edges {
		spec := edgeSpec{
			From:        types.NodeID(he.From),
			To:          types.NodeID(he.To),
			Cost:        he.Cost,
			Reliability: he.Reliability,
			Traversable: he.Traversable,
		}
		if he.Skill != nil {
			spec.Skill = types.SkillKind(*he.Skill)
		}
		if he.Bidirectional != nil {
			spec.Bidirectional = *he.Bidirectional
		}
		if he.FailurePenalty != nil {
			spec.FailurePenalty = *he.FailurePenalty
		}
		edges, err := spec.expand(poses)
		if err != nil {
			return types.GraphData{}, fmt.Errorf("%s: %w", filename, err)
		}
		data.Edges = append(data.Edges, edges...)
	}
	return data, nil
}

func objectOrEmpty(vals map[string]cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(vals)
}

// distanceFunc returns distance(a, b): the Euclidean distance between the
// poses of nodes a and b.
func distanceFunc(poses map[types.NodeID]types.Pose) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "from", Type: cty.Number},
			{Name: "to", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			var ids [2]int
			for i, arg := range args {
				if err := gocty.FromCtyValue(arg, &ids[i]); err != nil {
					return cty.UnknownVal(cty.Number), function.NewArgError(i, err)
				}
				if _, ok := poses[types.NodeID(ids[i])]; !ok {
					return cty.UnknownVal(cty.Number), function.NewArgErrorf(i, "node %d does not exist", ids[i])
				}
			}
			from, to := poses[types.NodeID(ids[0])], poses[types.NodeID(ids[1])]
			return cty.NumberFloatVal(from.DistanceTo(to)), nil
		},
	})
}

// encodeHCL writes data with one node block per node, named n<id>, and
// edges that reference nodes through node.n<id>.id.
func encodeHCL(data types.GraphData) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	nodes := append([]types.Node(nil), data.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	if data.Dock != nil {
		body.SetAttributeTraversal("dock", nodeRef(*data.Dock))
		body.AppendNewline()
	}

	for _, n := range nodes {
		b := body.AppendNewBlock("node", []string{nodeName(n.ID)}).Body()
		b.SetAttributeValue("id", cty.NumberIntVal(int64(n.ID)))
		b.SetAttributeValue("x", cty.NumberFloatVal(n.Pose.X))
		b.SetAttributeValue("y", cty.NumberFloatVal(n.Pose.Y))
		if n.Pose.Theta != 0 {
			b.SetAttributeValue("theta", cty.NumberFloatVal(n.Pose.Theta))
		}
		if n.Zone != "" {
			b.SetAttributeValue("zone", cty.StringVal(n.Zone))
		}
		if n.Label != "" {
			b.SetAttributeValue("label", cty.StringVal(n.Label))
		}
	}

	for _, e := range data.Edges {
		body.AppendNewline()
		b := body.AppendNewBlock("edge", nil).Body()
		b.SetAttributeTraversal("from", nodeRef(e.From))
		b.SetAttributeTraversal("to", nodeRef(e.To))
		b.SetAttributeValue("cost", cty.NumberFloatVal(e.BaseCost))
		b.SetAttributeValue("reliability", cty.NumberFloatVal(e.Reliability))
		b.SetAttributeValue("skill", cty.StringVal(string(e.Skill)))
		b.SetAttributeValue("traversable", cty.BoolVal(e.Traversable))
		if e.FailurePenalty != 0 {
			b.SetAttributeValue("failure_penalty", cty.NumberFloatVal(e.FailurePenalty))
		}
	}

	for _, z := range data.Zones {
		body.AppendNewline()
		b := body.AppendNewBlock("zone", []string{z.ID}).Body()
		b.SetAttributeTraversal("entry", nodeRef(z.Entry))
	}
	return f.Bytes()
}

func nodeName(id types.NodeID) string { return fmt.Sprintf("n%d", id) }

func nodeRef(id types.NodeID) hcl.Traversal {
	return hcl.Traversal{
		hcl.TraverseRoot{Name: "node"},
		hcl.TraverseAttr{Name: nodeName(id)},
		hcl.TraverseAttr{Name: "id"},
	}
}
