// Package engine coordinates the resolution lifecycle: it registers built
// dependency graphs, derives resolution plans from them and executes those
// plans with bounded concurrency, per-step retries and rollback on failure.
//
// The Engine is the single entry point for callers. Graphs, plans and
// executions are kept in in-memory registries keyed by generated IDs;
// lookups for unknown IDs return a NotFoundError recognizable via
// IsNotFound.
package engine
