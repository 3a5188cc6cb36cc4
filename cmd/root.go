package cmd

import (
	"errors"
	"os"

	"loom/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeResolutionFailed indicates the command ran but resolution did
	// not complete: failed or blocked components remain.
	ExitCodeResolutionFailed = 2
)

// errResolutionFailed marks a finished but unsuccessful resolution so that
// Execute can map it to its own exit code.
var errResolutionFailed = errors.New("resolution failed")

var logLevel string

// rootCmd represents the base command for the loom application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Analyze and resolve component dependency graphs",
	Long: `loom builds dependency graphs from component descriptors, detects and
classifies circular dependencies, derives ordered resolution plans with
parallel groups, and executes those plans with retries and rollback.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.ParseLevel(logLevel), os.Stderr)
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "loom version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if errors.Is(err, errResolutionFailed) {
		return ExitCodeResolutionFailed
	}
	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newGraphCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newVersionCmd())
}
