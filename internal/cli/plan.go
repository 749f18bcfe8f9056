package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/topo-nav/internal/planner"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

func parseNode(s string) (types.NodeID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return types.NodeID(n), nil
}

func parseNodes(args []string) ([]types.NodeID, error) {
	out := make([]types.NodeID, 0, len(args))
	for _, a := range args {
		id, err := parseNode(a)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// openApp builds the planning components for one-shot commands.
func (o *rootOptions) openApp() (*app, error) {
	if err := o.requireGraph(); err != nil {
		return nil, err
	}
	return newApp(o.cfg, o.logger, prometheus.NewRegistry())
}

func buildPlanCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan <start> <goal>",
		Short: "Plan the cheapest path between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseNodes(args)
			if err != nil {
				return err
			}
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			plan, err := a.planner.Plan(cmd.Context(), ids[0], ids[1])
			if errors.Is(err, planner.ErrUnreachable) {
				if asJSON {
					return printJSON(out, map[string]any{"reachable": false})
				}
				fmt.Fprintf(out, "❌ Node %d is unreachable from %d\n", ids[1], ids[0])
				return nil
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, map[string]any{"reachable": true, "plan": plan})
			}
			printPlan(out, plan)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func buildMultiCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "multi <start> <goal> [goal...]",
		Short: "Plan a greedy tour over several goals",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseNodes(args)
			if err != nil {
				return err
			}
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			multi, err := a.planner.PlanMulti(cmd.Context(), ids[0], ids[1:])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, multi)
			}
			fmt.Fprintf(out, "🧭 Visit order: %s\n", joinIDs(multi.Visits))
			if len(multi.Unreachable) > 0 {
				fmt.Fprintf(out, "⚠️  Unreachable: %s\n", joinIDs(multi.Unreachable))
			}
			printPlan(out, &multi.Plan)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func buildLocateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locate <x> <y>",
		Short: "Find the node nearest to a pose",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pose types.Pose
			var err error
			if pose.X, err = strconv.ParseFloat(args[0], 64); err != nil {
				return fmt.Errorf("invalid x %q", args[0])
			}
			if pose.Y, err = strconv.ParseFloat(args[1], 64); err != nil {
				return fmt.Errorf("invalid y %q", args[1])
			}
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.localizer.NearestNode(pose)
			if err != nil {
				return err
			}
			n, err := a.store.Node(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📍 Node %d %s (%.2f m away, zone %q)\n",
				id, n.Label, n.Pose.DistanceTo(pose), n.Zone)
			return nil
		},
	}
	return cmd
}

func printPlan(w io.Writer, plan *types.PathPlan) {
	fmt.Fprintf(w, "✅ Path: %s\n", joinIDs(plan.Nodes))
	fmt.Fprintf(w, "  ├─ Distance:  %.2f m\n", plan.Distance)
	fmt.Fprintf(w, "  ├─ Cost:      %.2f\n", plan.Cost)
	fmt.Fprintf(w, "  └─ Est. time: %s\n", plan.EstimatedTime)
	for i, e := range plan.Edges {
		branch := "├─"
		if i == len(plan.Edges)-1 {
			branch = "└─"
		}
		fmt.Fprintf(w, "     %s %-8s %-26s base %.2f  reliability %.2f\n",
			branch, e.Key(), e.Skill, e.BaseCost, e.Reliability)
	}
}

func joinIDs(ids []types.NodeID) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, " -> ")
}
