// Package logging provides structured logging for loom, built on the standard
// library's slog package.
//
// All log entries carry a log level, a subsystem identifier and a formatted
// message, plus an optional error. Initialize once at startup:
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Engine", "built graph with %d nodes", n)
//	logging.Error("Executor", err, "step %s failed", stepID)
//
// Subsystems in use: Bootstrap, Config, Descriptor, GraphBuilder,
// CycleAnalyzer, Planner, Engine, Executor, Validator.
//
// The package is safe for concurrent use from multiple goroutines.
package logging
