// Package driver coordinates a single build from start to finish.
//
// A [Driver] binds one project to one platform, selects and owns the
// engine that will execute the build, and runs one of two pipelines:
// [Driver.RunBuild] dispatches the generated build script to a
// provisioned build host, while [Driver.RunImageBuild] runs it inside a
// local container and exports the result as an OCI archive.
//
// Resource lifetime is the driver's responsibility: whatever happens
// during a pipeline, cleanup runs before control returns to the caller,
// with the preservation [Policy] deciding what survives.
package driver
