package cmd

import (
	"fmt"
	"io"
	"strings"

	"loom/internal/descriptor"
	"loom/internal/engine"
	"loom/internal/graph"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// newGraphCmd creates the Cobra command that builds a dependency graph from
// a descriptor directory and prints its structure, cycles and critical path.
func newGraphCmd() *cobra.Command {
	var includeOptional bool

	cmd := &cobra.Command{
		Use:   "graph <descriptor-dir>",
		Short: "Build and display the dependency graph",
		Long: `Loads all component descriptors from the given directory, builds the
dependency graph and prints its nodes, detected cycles and critical path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := buildGraphFromDir(args[0], includeOptional)
			if err != nil {
				return err
			}
			printGraph(cmd.OutOrStdout(), g)
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeOptional, "include-optional", false, "Include optional dependencies as graph edges")
	return cmd
}

// buildGraphFromDir loads descriptors and builds a graph through a fresh
// engine, so every command shares the engine's build path. The engine is
// returned for commands that go on to plan or execute.
func buildGraphFromDir(dir string, includeOptional bool) (*engine.Engine, *graph.Graph, error) {
	components, err := descriptor.LoadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading descriptors from %s: %w", dir, err)
	}
	if len(components) == 0 {
		return nil, nil, fmt.Errorf("no component descriptors found in %s", dir)
	}

	config := engine.DefaultConfig()
	config.BuildOptions.IncludeOptional = includeOptional
	e := engine.New(config)
	g, err := e.BuildGraph(components)
	if err != nil {
		return nil, nil, err
	}
	return e, g, nil
}

func printGraph(out io.Writer, g *graph.Graph) {
	fmt.Fprintf(out, "Graph %s: %d components, %d dependencies\n\n", g.ID, g.NodeCount(), g.EdgeCount())

	t := newTable(out)
	t.AppendHeader(table.Row{"Component", "Type", "Version", "Dependencies", "Dependents"})
	for _, node := range g.Nodes() {
		t.AppendRow(table.Row{node.ID, node.Type, node.Version, len(node.Edges), len(node.Dependents)})
	}
	t.Render()

	printCycles(out, g)

	if len(g.CriticalPath) > 0 {
		fmt.Fprintf(out, "\nCritical path: %s\n", strings.Join(g.CriticalPath, " -> "))
	}
	fmt.Fprintf(out, "Resolution order: %s\n", strings.Join(g.ResolutionOrder, ", "))
}

func printCycles(out io.Writer, g *graph.Graph) {
	if len(g.Cycles) == 0 {
		fmt.Fprintln(out, "\nNo circular dependencies detected.")
		return
	}

	fmt.Fprintf(out, "\n%s\n", text.FgYellow.Sprintf("%d circular dependencies detected:", len(g.Cycles)))
	t := newTable(out)
	t.AppendHeader(table.Row{"Cycle", "Severity", "Status", "Suggested Resolution"})
	for _, c := range g.Cycles {
		t.AppendRow(table.Row{
			strings.Join(c.Path, " -> "),
			colorSeverity(c.Severity),
			c.Status,
			c.Resolution.Strategy,
		})
	}
	t.Render()
}

func colorSeverity(s graph.CycleSeverity) string {
	switch s {
	case graph.SeverityCritical:
		return text.FgRed.Sprint(s)
	case graph.SeverityError:
		return text.FgHiRed.Sprint(s)
	default:
		return text.FgYellow.Sprint(s)
	}
}

// newTable creates a table writer with the standard styling used by all
// commands.
func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}
