package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/topo-nav/internal/graphfile"
	"github.com/ChuLiYu/topo-nav/internal/snapshot"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

func buildGraphCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect and convert graph files",
	}
	cmd.AddCommand(buildGraphValidateCommand(opts))
	cmd.AddCommand(buildGraphExportCommand(opts))
	return cmd
}

func buildGraphValidateCommand(opts *rootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a graph and check that every zone is reachable from the dock",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			data := a.store.Snapshot()
			traversable := 0
			for _, e := range data.Edges {
				if e.Traversable {
					traversable++
				}
			}

			fmt.Fprintf(out, "✅ %s is valid\n", opts.cfg.Graph)
			fmt.Fprintf(out, "  ├─ Nodes: %d\n", len(data.Nodes))
			fmt.Fprintf(out, "  ├─ Edges: %d (%d traversable)\n", len(data.Edges), traversable)

			dock, hasDock := a.store.Dock()
			if hasDock {
				fmt.Fprintf(out, "  ├─ Dock:  %d\n", dock)
			} else {
				fmt.Fprintln(out, "  ├─ Dock:  none")
			}

			zones := a.store.Zones()
			fmt.Fprintf(out, "  └─ Zones: %d\n", len(zones))
			if !hasDock || len(zones) == 0 {
				return nil
			}

			entries := make(map[types.NodeID][]string)
			var goals []types.NodeID
			for _, z := range zones {
				entry, err := a.store.ZoneEntry(z)
				if err != nil {
					return err
				}
				if _, seen := entries[entry]; !seen {
					goals = append(goals, entry)
				}
				entries[entry] = append(entries[entry], z)
			}

			multi, err := a.planner.PlanMulti(cmd.Context(), dock, goals)
			if err != nil {
				return err
			}
			var unreachable []string
			for _, id := range multi.Unreachable {
				unreachable = append(unreachable, entries[id]...)
			}
			sort.Strings(unreachable)
			for _, z := range unreachable {
				fmt.Fprintf(out, "⚠️  zone %q is unreachable from the dock\n", z)
			}
			if strict && len(unreachable) > 0 {
				return &ExitError{Code: 1, Err: fmt.Errorf("%d zone(s) unreachable from the dock", len(unreachable))}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail when a zone is unreachable from the dock")
	return cmd
}

func buildGraphExportCommand(opts *rootOptions) *cobra.Command {
	var (
		output    string
		penalties bool
		snap      bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Re-encode the graph as json, yaml or hcl",
		Long: `Re-encode the graph. The output format follows the file extension.
With --penalties, failure penalties from the snapshot are applied first.
With --snapshot, the graph is also written to snapshot.path.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" && !snap {
				return errors.New("nothing to do (use --output and/or --snapshot)")
			}
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			var mgr *snapshot.Manager
			if opts.cfg.Snapshot.Path != "" {
				mgr = snapshot.NewManager(opts.cfg.Snapshot.Path)
			}
			if (penalties || snap) && mgr == nil {
				return errors.New("snapshot.path is not configured")
			}

			if penalties {
				n, err := mgr.RestoreStore(a.store)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "♻️  Restored %d penalized edge(s) from %s\n", n, mgr.Path())
			}

			data := a.store.Snapshot()
			if output != "" {
				if err := graphfile.Write(output, data); err != nil {
					return err
				}
				fmt.Fprintf(out, "💾 Wrote %s (%d nodes, %d edges)\n", output, len(data.Nodes), len(data.Edges))
			}
			if snap {
				if _, err := mgr.Write(data); err != nil {
					return err
				}
				fmt.Fprintf(out, "💾 Wrote snapshot %s\n", mgr.Path())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (.json, .yaml, .yml or .hcl)")
	cmd.Flags().BoolVar(&penalties, "penalties", false, "apply penalties from the snapshot before exporting")
	cmd.Flags().BoolVar(&snap, "snapshot", false, "also write the graph snapshot")
	return cmd
}
