package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"loom/internal/engine"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// newResolveCmd creates the Cobra command that builds a graph, derives a
// plan and executes it.
func newResolveCmd() *cobra.Command {
	flags := &planFlags{}
	var dryRun bool
	var continueOnFailure bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "resolve <descriptor-dir>",
		Short: "Execute a resolution plan for the component set",
		Long: `Builds the dependency graph from the given descriptor directory, derives
a resolution plan and executes it: each component's dependency requirements
are validated in resolution order, with retries and rollback on failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, p, err := buildPlanFromDir(args[0], flags)
			if err != nil {
				return err
			}

			exec, err := e.StartResolution(cmd.Context(), p.ID, engine.ExecOptions{
				DryRun:            dryRun,
				ContinueOnFailure: continueOnFailure,
			})
			if err != nil {
				return err
			}

			watchExecution(cmd.Context(), exec, quiet)

			printExecution(cmd.OutOrStdout(), exec)
			if exec.Status() != engine.ExecutionCompleted {
				return errResolutionFailed
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Walk the plan without validating any requirements")
	cmd.Flags().BoolVar(&continueOnFailure, "continue-on-failure", false, "Keep resolving independent components after a failure")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the progress spinner")
	return cmd
}

// watchExecution blocks until the execution finishes, showing step progress
// on a spinner unless quiet mode is enabled. Ctrl-C cancels the resolution
// cooperatively.
func watchExecution(ctx context.Context, exec *engine.Execution, quiet bool) {
	events := make(chan engine.ProgressEvent, 64)
	exec.SubscribeProgress(events)

	var s *spinner.Spinner
	if !quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Resolving dependencies..."
		s.Start()
		defer s.Stop()
	}

	for {
		select {
		case ev := <-events:
			if s != nil {
				s.Suffix = fmt.Sprintf(" %s: %s (attempt %d)", ev.NodeID, ev.Status, ev.Attempt)
			}
		case <-ctx.Done():
			exec.Cancel("interrupted")
			<-exec.Done()
			return
		case <-exec.Done():
			return
		}
	}
}

func printExecution(out io.Writer, exec *engine.Execution) {
	status := string(exec.Status())
	switch exec.Status() {
	case engine.ExecutionCompleted:
		status = text.FgGreen.Sprint(status)
	case engine.ExecutionFailed:
		status = text.FgRed.Sprint(status)
	}
	fmt.Fprintf(out, "Execution %s: %s\n", exec.ID, status)
	if cancelled, reason := exec.Cancelled(); cancelled {
		fmt.Fprintf(out, "Cancelled: %s\n", reason)
	}
	fmt.Fprintf(out, "Resolved %d, failed %d, blocked %d\n\n",
		len(exec.ResolvedNodes()), len(exec.FailedNodes()), len(exec.BlockedNodes()))

	t := newTable(out)
	t.AppendHeader(table.Row{"Step", "Component", "Status", "Attempts", "Error"})
	for _, record := range exec.Steps() {
		t.AppendRow(table.Row{
			record.StepID,
			record.NodeID,
			colorStepStatus(record.Status),
			record.Attempts,
			record.Error,
		})
	}
	t.Render()
}

func colorStepStatus(s engine.StepStatus) string {
	switch s {
	case engine.StepCompleted:
		return text.FgGreen.Sprint(s)
	case engine.StepFailed:
		return text.FgRed.Sprint(s)
	case engine.StepExecuting:
		return text.FgCyan.Sprint(s)
	default:
		return string(s)
	}
}
