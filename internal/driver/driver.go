package driver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/forge/internal/engine"
	"github.com/cruciblehq/forge/internal/errutil"
	"github.com/cruciblehq/forge/internal/paths"
	"github.com/cruciblehq/forge/internal/platform"
	"github.com/cruciblehq/forge/internal/project"
)

var (
	// ErrInvalidProject marks a project that cannot be built, such as one
	// with no version set.
	ErrInvalidProject = errors.New("invalid project")

	// ErrNoInstallMethod is returned when a platform offers no way to
	// install the project's missing build dependencies.
	ErrNoInstallMethod = errors.New("no dependency install method")

	// ErrNoBaseImage marks an image build requested against a platform
	// with no container base image.
	ErrNoBaseImage = errors.New("no base image")
)

// Policy controls which resources survive a finished build.
type Policy string

const (
	// PolicyNever discards everything: the local working directory and
	// the build backend, regardless of outcome.
	PolicyNever Policy = "never"

	// PolicyOnFailure discards the working directory only when the build
	// fails; a successful build's workdir is kept for inspection.
	PolicyOnFailure Policy = "on-failure"

	// PolicyAlways keeps the working directory in both outcomes.
	PolicyAlways Policy = "always"
)

// ParsePolicy validates a preservation policy name from the command line.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyNever, PolicyOnFailure, PolicyAlways:
		return p, nil
	}
	return "", fmt.Errorf("unknown preservation policy %q", s)
}

// Options configures a driver beyond its platform and project.
type Options struct {
	Workdir  string // Base directory for build workdirs.
	Preserve Policy

	EngineKind string // Explicit engine override; empty for selection.
	Target     string // Explicit build host for the local engine.
	PoolURL    string // Pooler service endpoint.
	LeaseDB    string // Hardware lease database path.

	ContainerdAddress   string
	ContainerdNamespace string
}

// Driver coordinates one build: one project on one platform through one
// engine.
//
// A driver owns its engine and its local working directory exclusively;
// multi-platform builds construct one driver per platform.
type Driver struct {
	platform *platform.Platform
	project  *project.Project
	eng      engine.Engine
	opts     Options

	workdir string // Created by the pipeline, not at construction.
}

// New selects and constructs the engine for the platform and returns a
// driver ready to run a pipeline.
func New(p *platform.Platform, proj *project.Project, opts Options) (*Driver, error) {
	kind := engine.Select(p, opts.EngineKind, opts.Target)

	eng, err := engine.New(kind, engine.Options{
		Platform:            p,
		Project:             proj.Name,
		Version:             proj.Version,
		Target:              opts.Target,
		PoolURL:             opts.PoolURL,
		LeaseDB:             opts.LeaseDB,
		ContainerdAddress:   opts.ContainerdAddress,
		ContainerdNamespace: opts.ContainerdNamespace,
	})
	if err != nil {
		return nil, err
	}

	return newDriver(p, proj, eng, opts), nil
}

func newDriver(p *platform.Platform, proj *project.Project, eng engine.Engine, opts Options) *Driver {
	return &Driver{platform: p, project: proj, eng: eng, opts: opts}
}

// Verifies the pipeline preconditions that must hold before any resource
// is acquired.
func (d *Driver) validate() error {
	if d.project.Version == "" {
		return errutil.Wrapf(ErrInvalidProject, "project %q has no version", d.project.Name)
	}
	return nil
}

// Creates the scratch working directory for this build.
//
// The name carries a timestamp so a preserved workdir from an earlier
// run is never reused.
func (d *Driver) makeWorkdir() error {
	name := fmt.Sprintf("%s-%s-%d", d.project.Name, d.platform.Name, time.Now().Unix())
	dir := filepath.Join(d.opts.Workdir, name)
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return err
	}
	d.workdir = dir
	return nil
}
