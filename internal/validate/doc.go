// Package validate provides the pluggable validator registry used by the
// plan executor to decide whether a dependency edge's requirement is
// currently satisfied.
//
// One validator is registered per requirement category (version,
// availability, health, compatibility, performance, security). Validators
// are pure functions of (edge, graph): they never mutate the graph and never
// rely on randomness, so a validation run is repeatable. Each returns a
// Result with a pass/fail verdict, a score in [0, 1] and a human-readable
// message.
//
// Callers with custom checks register their own Validator implementations,
// replacing the built-in one for that category.
package validate
