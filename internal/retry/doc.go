// Package retry bounds flaky operations with an attempt count and a
// deadline.
//
// A [Budget] wraps a single operation, re-running it on failure until it
// succeeds, the attempts run out, or the deadline passes. Budgets resolve
// from project settings, then environment overrides, then hardcoded
// defaults. Within the build pipeline only dependency installation is
// wrapped in a budget; every other remote operation runs exactly once.
package retry
