package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cruciblehq/forge/internal/errutil"
	"github.com/cruciblehq/forge/internal/platform"
)

var (
	ErrNotFound      = errors.New("no such engine")
	ErrProvisioning  = errors.New("provisioning failed")
	ErrCommandFailed = errors.New("command failed")
	ErrNotStarted    = errors.New("engine not started")
)

// Engine kind names. These are also what [Engine.Name] returns, and the
// orchestrator's teardown policy keys off them.
const (
	KindHardware  = "hardware"
	KindCloud     = "cloud"
	KindContainer = "container"
	KindPool      = "pool"
	KindLocal     = "local"

	// Engine used when nothing else applies.
	DefaultKind = KindPool
)

// A build execution backend.
//
// An engine is owned by exactly one orchestrator for the duration of one
// build. Startup acquires whatever the backend needs (a leased machine, a
// running cloud instance, a container); Teardown releases it and is safe
// to call multiple times and on an engine that was never started.
type Engine interface {
	// Stable kind identifier, used by the teardown policy.
	Name() string

	// Human-readable identity of the acquired build host (hostname,
	// instance id, container id). Available after Startup.
	TargetIdentity() string

	// Path of the working directory on the build host.
	RemoteWorkdir() string

	// Acquires and prepares the backend. May block for the duration of
	// provisioning. Failures wrap [ErrProvisioning].
	Startup(ctx context.Context, localWorkdir string) error

	// Executes a shell command on the build host, blocking until it
	// terminates. A non-zero exit is surfaced as a [*CommandError].
	Dispatch(ctx context.Context, command string) (string, error)

	// Transfers the local working tree to the backend's remote workdir.
	ShipWorkdir(ctx context.Context, localWorkdir string) error

	// Copies matching build output back to the local working directory.
	RetrieveArtifact(ctx context.Context, patterns []string, noPackaging bool) error

	// Releases any provisioned resource. Idempotent; succeeds on a
	// never-started engine.
	Teardown(ctx context.Context) error
}

// Everything a factory needs to construct an engine.
//
// Construction is cheap and performs no IO; provisioning happens in
// Startup.
type Options struct {
	Platform *platform.Platform

	Project string // Project name, used in container and instance naming.
	Version string // Project version, used in image tags.

	Target  string // Explicit build host for the local engine.
	PoolURL string // Pooler service endpoint for the pool engine.
	LeaseDB string // Hardware lease database path; empty for the default.

	ContainerdAddress   string // Containerd socket; empty for the default.
	ContainerdNamespace string // Containerd namespace; empty for the default.
}

// Constructs an engine of a registered kind.
type Factory func(Options) (Engine, error)

// The closed set of engine kinds.
//
// A static map rather than dynamic registration: every kind forge can
// drive is known at compile time, and an unregistered name is a fatal
// configuration error, never retried.
var registry = map[string]Factory{
	KindHardware:  newHardware,
	KindCloud:     newCloud,
	KindContainer: newContainer,
	KindPool:      newPool,
	KindLocal:     newLocal,
}

// Instantiates an engine by kind name.
//
// Returns [ErrNotFound] for kinds with no registered implementation.
func New(kind string, opts Options) (Engine, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, errutil.Wrapf(ErrNotFound, "%q", kind)
	}
	return factory(opts)
}

// A command that terminated with a non-zero exit code.
type CommandError struct {
	Command  string // The dispatched command line.
	ExitCode int    // The process exit code.
	Output   string // Combined output of the command.
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed: %q exited %d", e.Command, e.ExitCode)
}

// Makes the error matchable against [ErrCommandFailed].
func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}
