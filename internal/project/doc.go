// Package project loads project definitions and materializes the build
// inputs derived from them.
//
// A project names the thing being built: its components, their sources
// and build-time dependencies, and the settings published after a build.
// Beyond the descriptor itself the package implements the generation
// steps the orchestrator delegates to: fetching component sources,
// emitting the build script and bill of materials, writing packaging
// control files, and saving the per-invocation manifest.
//
// Dependency resolution lives here too: [MissingDependencies] computes
// which external packages must be installed on a build host, excluding
// anything the project builds itself.
package project
