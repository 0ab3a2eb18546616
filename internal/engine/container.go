package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/cruciblehq/forge/internal/errutil"
	"github.com/cruciblehq/forge/internal/platform"
	"github.com/cruciblehq/forge/internal/runtime"
	"github.com/cruciblehq/forge/internal/tarstream"
)

const (
	// Fixed working directory inside build containers.
	containerWorkdir = "/build"

	containerShell = "/bin/sh"
)

// Builds inside a local container started from the platform's base image.
//
// Unlike the ssh-backed engines there is no remote host: the runtime
// prepares the base image, starts a long-lived container, and commands
// are executed inside it. The container and its image are removed at
// Teardown.
type containerEngine struct {
	platform *platform.Platform
	project  string
	version  string

	address   string
	namespace string

	rt           *runtime.Runtime
	ctr          *runtime.Container
	localWorkdir string
}

func newContainer(opts Options) (Engine, error) {
	if !opts.Platform.HasBaseImage() {
		return nil, errutil.Wrapf(ErrProvisioning, "platform %q has no base image", opts.Platform.Name)
	}
	return &containerEngine{
		platform:  opts.Platform,
		project:   opts.Project,
		version:   opts.Version,
		address:   opts.ContainerdAddress,
		namespace: opts.ContainerdNamespace,
	}, nil
}

func (e *containerEngine) Name() string {
	return KindContainer
}

func (e *containerEngine) TargetIdentity() string {
	if e.ctr == nil {
		return ""
	}
	return e.ctr.ID()
}

func (e *containerEngine) RemoteWorkdir() string {
	return containerWorkdir
}

// Tag for the prepared build image.
func (e *containerEngine) imageTag() string {
	return fmt.Sprintf("%s-%s-%s:latest", e.project, e.version, e.platform.Name)
}

// Deterministic container ID so stale containers from interrupted builds
// are replaced on the next run.
func (e *containerEngine) containerID() string {
	return fmt.Sprintf("forge-%s-%s", e.project, e.platform.Name)
}

func (e *containerEngine) Startup(ctx context.Context, localWorkdir string) error {
	rt, err := runtime.New(e.address, e.namespace)
	if err != nil {
		return errutil.Wrap(ErrProvisioning, err)
	}

	if err := rt.CheckAvailable(ctx); err != nil {
		rt.Close()
		return errutil.Wrap(ErrProvisioning, err)
	}

	tag := e.imageTag()
	if err := rt.Prepare(ctx, e.platform.BaseImage, tag); err != nil {
		rt.Close()
		return errutil.Wrap(ErrProvisioning, err)
	}

	ctr, err := rt.Start(ctx, tag, e.containerID())
	if err != nil {
		rt.DestroyImage(ctx, tag)
		rt.Close()
		return errutil.Wrap(ErrProvisioning, err)
	}

	e.rt = rt
	e.ctr = ctr
	e.localWorkdir = localWorkdir
	slog.Info("build container ready", "id", ctr.ID(), "image", tag)
	return nil
}

// Executes a shell command inside the build container.
//
// The platform's environment is passed through the process spec. A
// non-zero exit is surfaced as a [*CommandError]; the output is returned
// either way.
func (e *containerEngine) Dispatch(ctx context.Context, command string) (string, error) {
	if e.ctr == nil {
		return "", ErrNotStarted
	}

	slog.Debug("dispatching", "engine", KindContainer, "command", command)
	res, err := e.ctr.Exec(ctx, containerShell, command, e.platform.EnvList(), containerWorkdir)
	if err != nil {
		return "", err
	}

	out := res.Stdout + res.Stderr
	if res.ExitCode != 0 {
		return out, &CommandError{Command: command, ExitCode: res.ExitCode, Output: out}
	}
	return out, nil
}

// Streams the local working tree into the container's workdir.
func (e *containerEngine) ShipWorkdir(ctx context.Context, localWorkdir string) error {
	if e.ctr == nil {
		return ErrNotStarted
	}

	if err := e.ctr.MkdirAll(ctx, containerWorkdir); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tarstream.ArchiveDir(pw, localWorkdir))
	}()
	return e.ctr.CopyTo(ctx, pr, containerWorkdir)
}

// Streams build output matching the given globs out of the container
// into the local working directory.
//
// The no-packaging install tree is a single known path, so it is copied
// directly; glob patterns go through a shell inside the container.
func (e *containerEngine) RetrieveArtifact(ctx context.Context, patterns []string, noPackaging bool) error {
	if e.ctr == nil {
		return ErrNotStarted
	}

	pr, pw := io.Pipe()
	go func() {
		if noPackaging {
			pw.CloseWithError(e.ctr.CopyFrom(ctx, pw, path.Join(containerWorkdir, installDir)))
			return
		}
		pw.CloseWithError(e.ctr.ArchiveGlobs(ctx, pw, containerWorkdir, patterns))
	}()
	return tarstream.Extract(pr, e.localWorkdir)
}

// Removes the build container and its image. Safe to call repeatedly
// and on a never-started engine.
func (e *containerEngine) Teardown(ctx context.Context) error {
	if e.rt == nil {
		return nil
	}

	if e.ctr != nil {
		e.ctr.Destroy(ctx)
		e.ctr = nil
	}
	if err := e.rt.DestroyImage(ctx, e.imageTag()); err != nil {
		slog.Warn("image cleanup failed", "tag", e.imageTag(), "error", err)
	}
	err := e.rt.Close()
	e.rt = nil
	return err
}
