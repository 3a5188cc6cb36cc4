package cmd

import (
	"fmt"
	"time"

	"loom/internal/descriptor"
	"loom/internal/graph"
	"loom/pkg/logging"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// newWatchCmd creates the Cobra command that watches a descriptor directory
// and rebuilds the graph whenever descriptors change, reporting cycles as
// they appear and disappear.
func newWatchCmd() *cobra.Command {
	var includeOptional bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <descriptor-dir>",
		Short: "Watch descriptors and rebuild the graph on change",
		Long: `Builds the dependency graph from the given descriptor directory, then
watches the directory and rebuilds on every change. Newly introduced cycles
are reported immediately; cycles fixed by an edit are reported as resolved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			e, g, err := buildGraphFromDir(dir, includeOptional)
			if err != nil {
				return err
			}
			printGraph(cmd.OutOrStdout(), g)

			changes := make(chan descriptor.ChangeEvent, 8)
			watcher := descriptor.NewWatcher(dir, debounce)
			if err := watcher.Start(cmd.Context(), changes); err != nil {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
			defer watcher.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "\nWatching %s for changes (Ctrl-C to stop)...\n", dir)
			for {
				select {
				case event := <-changes:
					if event.Err != nil {
						logging.Error("Watch", event.Err, "reloading descriptors failed")
						continue
					}
					rebuilt, err := e.RebuildGraph(g.ID, event.Components)
					if err != nil {
						logging.Error("Watch", err, "rebuilding graph failed")
						continue
					}
					reportCycleChanges(cmd, g, rebuilt)
					g = rebuilt
				case <-cmd.Context().Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&includeOptional, "include-optional", false, "Include optional dependencies as graph edges")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "Quiet period after a file change before reloading")
	return cmd
}

func reportCycleChanges(cmd *cobra.Command, old, rebuilt *graph.Graph) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s rebuilt: %d components, %d dependencies\n",
		time.Now().Format(time.TimeOnly), rebuilt.NodeCount(), rebuilt.EdgeCount())

	previous := make(map[string]bool)
	for _, c := range old.Cycles {
		if c.Status == graph.CycleDetected {
			previous[cycleLabel(c)] = true
		}
	}
	for _, c := range rebuilt.Cycles {
		label := cycleLabel(c)
		switch {
		case c.Status == graph.CycleResolved && previous[label]:
			fmt.Fprintf(out, "%s cycle resolved: %s\n", text.FgGreen.Sprint("✓"), label)
		case c.Status == graph.CycleDetected && !previous[label]:
			fmt.Fprintf(out, "%s new cycle: %s (%s)\n", text.FgRed.Sprint("✗"), label, c.Severity)
		}
	}
}

func cycleLabel(c *graph.Cycle) string {
	label := ""
	for i, id := range c.Path {
		if i > 0 {
			label += " -> "
		}
		label += id
	}
	return label
}
