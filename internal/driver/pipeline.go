package driver

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/cruciblehq/forge/internal/engine"
	"github.com/cruciblehq/forge/internal/errutil"
	"github.com/cruciblehq/forge/internal/project"
	"github.com/cruciblehq/forge/internal/retry"
)

// RunBuild drives the full command pipeline: provision a build host,
// install missing dependencies, fetch sources, generate the build
// artifacts, ship the working tree, run the build remotely, and bring
// the output back.
//
// The stages run strictly in order and the first failure aborts the
// rest. Cleanup always runs: the preservation policy decides the fate
// of the working directory and the engine, except that leased backends
// (hardware, cloud) are torn down on every exit path.
func (d *Driver) RunBuild(ctx context.Context) (err error) {
	if err := d.validate(); err != nil {
		return err
	}
	if err := d.makeWorkdir(); err != nil {
		return err
	}

	defer func() {
		d.finalize(ctx, err != nil)
	}()

	slog.Info("build starting",
		"project", d.project.Name,
		"version", d.project.Version,
		"platform", d.platform.Name,
		"engine", d.eng.Name(),
	)

	if err = d.eng.Startup(ctx, d.workdir); err != nil {
		return err
	}
	slog.Info("build host acquired", "target", d.eng.TargetIdentity())

	if err = d.installDependencies(ctx); err != nil {
		return err
	}
	if err = d.project.FetchSources(ctx, d.workdir); err != nil {
		return err
	}
	if err = d.generateArtifacts(); err != nil {
		return err
	}
	if err = d.project.SaveManifest(d.workdir); err != nil {
		return err
	}
	if err = d.eng.ShipWorkdir(ctx, d.workdir); err != nil {
		return err
	}
	if err = d.remoteDispatch(ctx); err != nil {
		return err
	}
	if err = d.eng.RetrieveArtifact(ctx, d.project.ArtifactsToFetch(), d.project.NoPackaging); err != nil {
		return err
	}
	if err = d.project.PublishSettings(d.workdir, d.platform.Name); err != nil {
		return err
	}

	slog.Info("build finished", "project", d.project.Name, "platform", d.platform.Name)
	return nil
}

// Materializes the build script, bill of materials, and packaging
// descriptors into the working directory.
func (d *Driver) generateArtifacts() error {
	if err := d.project.MakeBuildScript(d.workdir); err != nil {
		return err
	}
	if err := d.project.MakeBillOfMaterials(d.workdir); err != nil {
		return err
	}
	return d.project.GeneratePackagingArtifacts(d.workdir)
}

// Installs the project's missing build dependencies on the build host.
//
// This is the only retried stage: package mirrors fail transiently in a
// way the rest of the pipeline does not, so the project's retry budget
// wraps exactly this dispatch.
func (d *Driver) installDependencies(ctx context.Context) error {
	deps := project.MissingDependencies(d.project.Components)
	if len(deps) == 0 {
		return nil
	}

	command, err := d.installCommand(deps)
	if err != nil {
		return err
	}

	budget := retry.Resolve(d.project.RetryCount, d.project.Timeout)
	return budget.Run(ctx, "dependency installation", func(ctx context.Context) error {
		_, err := d.eng.Dispatch(ctx, command)
		return err
	})
}

// Composes the shell command that installs the given dependencies.
//
// The platform's install command with the deps appended (plus an
// optional trailing suffix) wins over its install template; a platform
// offering neither cannot build projects with external dependencies.
func (d *Driver) installCommand(deps []string) (string, error) {
	sort.Strings(deps)

	if cmd := d.platform.InstallCommand; cmd != "" {
		parts := append([]string{cmd}, deps...)
		if d.platform.InstallSuffix != "" {
			parts = append(parts, d.platform.InstallSuffix)
		}
		return strings.Join(parts, " "), nil
	}

	if d.platform.InstallTemplate != "" {
		tmpl, err := template.New("install").Parse(d.platform.InstallTemplate)
		if err != nil {
			return "", errutil.Wrapf(ErrNoInstallMethod, "platform %q: bad install template: %w", d.platform.Name, err)
		}
		var b strings.Builder
		if err := tmpl.Execute(&b, struct{ Deps string }{Deps: strings.Join(deps, " ")}); err != nil {
			return "", errutil.Wrapf(ErrNoInstallMethod, "platform %q: %w", d.platform.Name, err)
		}
		return b.String(), nil
	}

	return "", errutil.Wrapf(ErrNoInstallMethod, "platform %q", d.platform.Name)
}

// Runs the generated build script on the build host.
//
// Projects that opt out of packaging run only the install half of the
// script.
func (d *Driver) remoteDispatch(ctx context.Context) error {
	command := "cd " + d.eng.RemoteWorkdir() + "; " + d.platform.MakeCommand()
	if d.project.NoPackaging {
		command += " install"
	}

	out, err := d.eng.Dispatch(ctx, command)
	if err != nil {
		slog.Error("build command failed", "command", command, "output", out, "error", err)
		return err
	}
	return nil
}

// Applies the preservation policy and releases the engine.
//
// Leased backends are torn down whatever the policy says: hardware pool
// hosts and cloud instances must never outlive the build that acquired
// them. Cleanup failures are logged, not returned, so they never mask a
// pipeline error.
//
// Teardown must still run after the pipeline context is cancelled (a
// SIGINT mid-build is exactly when a leased host must be released), so
// cancellation is stripped from the context first.
func (d *Driver) finalize(ctx context.Context, failed bool) {
	ctx = context.WithoutCancel(ctx)

	if d.opts.Preserve == PolicyNever || (d.opts.Preserve == PolicyOnFailure && failed) {
		if err := os.RemoveAll(d.workdir); err != nil {
			slog.Warn("workdir cleanup failed", "workdir", d.workdir, "error", err)
		} else {
			slog.Debug("workdir removed", "workdir", d.workdir)
		}
	}

	leased := d.eng.Name() == engine.KindHardware || d.eng.Name() == engine.KindCloud
	if d.opts.Preserve == PolicyNever || leased {
		if err := d.eng.Teardown(ctx); err != nil {
			slog.Warn("engine teardown failed", "engine", d.eng.Name(), "error", err)
		}
	}
}
