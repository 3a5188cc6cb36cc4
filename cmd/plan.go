package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"loom/internal/engine"
	"loom/internal/plan"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// planFlags are the plan-shaping flags shared by the plan and resolve
// commands.
type planFlags struct {
	includeOptional bool
	maxConcurrency  int
	maxRetries      int
	retryDelay      time.Duration
	stepTimeout     time.Duration
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.includeOptional, "include-optional", false, "Include optional dependencies as graph edges")
	cmd.Flags().IntVar(&f.maxConcurrency, "max-concurrency", 0, "Maximum steps resolved in parallel (0 = default)")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "Retry budget per step (0 = default)")
	cmd.Flags().DurationVar(&f.retryDelay, "retry-delay", 0, "Base delay between step retries (0 = default)")
	cmd.Flags().DurationVar(&f.stepTimeout, "step-timeout", 0, "Timeout for one step attempt (0 = default)")
}

func (f *planFlags) options() plan.Options {
	return plan.Options{
		MaxConcurrency:     f.maxConcurrency,
		MaxRetries:         f.maxRetries,
		RetryDelay:         f.retryDelay,
		ExponentialBackoff: true,
		StepTimeout:        f.stepTimeout,
	}
}

// newPlanCmd creates the Cobra command that derives a resolution plan and
// prints its parallel groups without executing anything.
func newPlanCmd() *cobra.Command {
	flags := &planFlags{}

	cmd := &cobra.Command{
		Use:   "plan <descriptor-dir>",
		Short: "Derive and display a resolution plan",
		Long: `Builds the dependency graph from the given descriptor directory and
derives an ordered resolution plan: one step per component, grouped into
batches that can resolve in parallel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := buildPlanFromDir(args[0], flags)
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), p)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

// buildPlanFromDir loads descriptors, builds the graph and derives a plan,
// returning the engine so callers can go on to execute.
func buildPlanFromDir(dir string, flags *planFlags) (*engine.Engine, *plan.Plan, error) {
	e, g, err := buildGraphFromDir(dir, flags.includeOptional)
	if err != nil {
		return nil, nil, err
	}
	p, err := e.CreateResolutionPlan(g.ID, flags.options())
	if err != nil {
		return nil, nil, err
	}
	return e, p, nil
}

func printPlan(out io.Writer, p *plan.Plan) {
	fmt.Fprintf(out, "Plan %s: %d steps in %d groups, estimated duration %s\n\n",
		p.ID, len(p.Steps), len(p.Groups), p.EstimatedDuration())

	t := newTable(out)
	t.AppendHeader(table.Row{"Group", "Step", "Component", "Depends On", "Est. Duration"})
	for _, group := range p.Groups {
		for _, stepID := range group.StepIDs {
			step := p.Step(stepID)
			if step == nil {
				continue
			}
			t.AppendRow(table.Row{
				group.Index,
				step.ID,
				step.NodeID,
				strings.Join(step.DependsOn, ", "),
				step.EstimatedDuration,
			})
		}
	}
	t.Render()

	if len(p.Contingencies) > 0 {
		fmt.Fprintf(out, "\nContingencies for critical components:\n")
		ct := newTable(out)
		ct.AppendHeader(table.Row{"Component", "Action", "Timeout", "Reason"})
		for _, c := range p.Contingencies {
			ct.AppendRow(table.Row{c.NodeID, c.Action, c.Timeout, c.Reason})
		}
		ct.Render()
	}
}
