package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cruciblehq/forge/internal/engine"
	"github.com/cruciblehq/forge/internal/errutil"
	"github.com/cruciblehq/forge/internal/paths"
	"github.com/cruciblehq/forge/internal/runtime"
	"github.com/cruciblehq/forge/internal/tarstream"
)

const (
	// Fixed working directory inside the build container.
	imageWorkdir = "/build"

	imageShell = "/bin/sh"

	// Directory beneath the local workdir receiving build output and the
	// exported image archive.
	outputDir = "output"
)

// RunImageBuild drives the image pipeline: prepare the platform's base
// image, run the generated build script inside a local container, and
// export the result as an OCI archive alongside the collected output.
//
// No engine and no retry budget are involved; everything happens on the
// local machine, and dependencies are expected to be baked into the
// base image. The container and its working image are removed when the
// pipeline ends; the working directory follows the preservation policy.
func (d *Driver) RunImageBuild(ctx context.Context) (err error) {
	if err := d.validate(); err != nil {
		return err
	}
	if !d.platform.HasBaseImage() {
		return errutil.Wrapf(ErrNoBaseImage, "platform %q", d.platform.Name)
	}

	// The runtime check precedes workdir creation so an unusable
	// containerd leaves nothing behind.
	rt, err := runtime.New(d.opts.ContainerdAddress, d.opts.ContainerdNamespace)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err = rt.CheckAvailable(ctx); err != nil {
		return err
	}

	if err = d.makeWorkdir(); err != nil {
		return err
	}

	defer func() {
		if d.opts.Preserve == PolicyNever || (d.opts.Preserve == PolicyOnFailure && err != nil) {
			if rmErr := os.RemoveAll(d.workdir); rmErr != nil {
				slog.Warn("workdir cleanup failed", "workdir", d.workdir, "error", rmErr)
			}
		}
	}()

	slog.Info("image build starting",
		"project", d.project.Name,
		"version", d.project.Version,
		"platform", d.platform.Name,
		"base", d.platform.BaseImage,
	)

	if err = d.project.FetchSources(ctx, d.workdir); err != nil {
		return err
	}
	if err = d.generateArtifacts(); err != nil {
		return err
	}
	if err = d.project.SaveManifest(d.workdir); err != nil {
		return err
	}

	tag := fmt.Sprintf("%s-%s-%s:latest", d.project.Name, d.project.Version, d.platform.Name)
	if err = rt.Prepare(ctx, d.platform.BaseImage, tag); err != nil {
		return err
	}
	// Cleanup contexts strip cancellation so an interrupted build still
	// removes its container and working image.
	defer func() {
		if rmErr := rt.DestroyImage(context.WithoutCancel(ctx), tag); rmErr != nil {
			slog.Warn("image cleanup failed", "tag", tag, "error", rmErr)
		}
	}()

	ctr, err := rt.Start(ctx, tag, fmt.Sprintf("forge-%s-%s", d.project.Name, d.platform.Name))
	if err != nil {
		return err
	}
	defer ctr.Destroy(context.WithoutCancel(ctx))

	if err = d.shipToContainer(ctx, ctr); err != nil {
		return err
	}
	if err = d.runContainerizedBuild(ctx, ctr); err != nil {
		return err
	}
	if err = d.collectOutput(ctx, ctr); err != nil {
		return err
	}

	// Quiesce the container before the snapshot diff so the exported
	// layer is not mutated mid-export.
	if state, stateErr := ctr.Status(ctx); stateErr == nil && state == runtime.StateRunning {
		if err = ctr.Stop(ctx); err != nil {
			return err
		}
	}

	if err = ctr.Export(ctx, filepath.Join(d.workdir, outputDir), nil); err != nil {
		return err
	}
	if err = d.project.PublishSettings(d.workdir, d.platform.Name); err != nil {
		return err
	}

	slog.Info("image build finished", "tag", tag)
	return nil
}

// Streams the working tree into the container.
func (d *Driver) shipToContainer(ctx context.Context, ctr *runtime.Container) error {
	if err := ctr.MkdirAll(ctx, imageWorkdir); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tarstream.ArchiveDir(pw, d.workdir))
	}()
	return ctr.CopyTo(ctx, pr, imageWorkdir)
}

// Runs the generated build script inside the container, with the
// platform's environment merged into the process spec.
func (d *Driver) runContainerizedBuild(ctx context.Context, ctr *runtime.Container) error {
	command := d.platform.MakeCommand()
	if d.project.NoPackaging {
		command += " install"
	}

	res, err := ctr.Exec(ctx, imageShell, command, d.platform.EnvList(), imageWorkdir)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		out := res.Stdout + res.Stderr
		slog.Error("containerized build failed", "command", command, "output", out)
		return &engine.CommandError{Command: command, ExitCode: res.ExitCode, Output: out}
	}
	return nil
}

// Copies build output matching the project's artifact globs out of the
// container into the local working directory.
func (d *Driver) collectOutput(ctx context.Context, ctr *runtime.Container) error {
	if err := os.MkdirAll(filepath.Join(d.workdir, outputDir), paths.DefaultDirMode); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(ctr.ArchiveGlobs(ctx, pw, imageWorkdir, d.project.ArtifactsToFetch()))
	}()
	return tarstream.Extract(pr, d.workdir)
}
