package cli

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cruciblehq/forge/internal/driver"
	"github.com/cruciblehq/forge/internal/paths"
	"github.com/cruciblehq/forge/internal/platform"
	"github.com/cruciblehq/forge/internal/project"
)

// Represents the 'forge build' command.
type BuildCmd struct {
	Project   string `arg:"" help:"Name of the project to build."`
	Platforms string `arg:"" help:"Comma-separated platform names to build for."`

	Workdir        string `short:"w" help:"Override the base directory for build workdirs." placeholder:"PATH"`
	Configdir      string `short:"c" help:"Override the platform/project definition directory." placeholder:"PATH"`
	Engine         string `short:"e" help:"Override the engine kind." placeholder:"KIND"`
	Target         string `short:"t" help:"Build on a specific host instead of provisioning one." placeholder:"HOST"`
	Preserve       string `short:"p" default:"on-failure" help:"When to keep the build workdir: always, never, or on-failure."`
	OnlyComponents string `short:"o" help:"Restrict the build to a comma-separated subset of components." placeholder:"NAMES"`
	Image          bool   `short:"i" help:"Build a container image instead of dispatching to a build host."`
	Pooler         string `env:"FORGE_POOLER_URL" help:"VM pooler service endpoint." placeholder:"URL"`
	Containerd     string `short:"s" help:"Override the default containerd socket path." placeholder:"PATH"`
}

// Executes the build command.
//
// Each requested platform gets its own driver and engine; platforms are
// built sequentially and the first failure aborts the rest.
func (c *BuildCmd) Run(ctx context.Context) error {
	policy, err := driver.ParsePolicy(c.Preserve)
	if err != nil {
		return err
	}

	configDir := c.Configdir
	if configDir == "" {
		configDir = paths.Config()
	}
	workdir := c.Workdir
	if workdir == "" {
		workdir = paths.Workdirs()
	}

	proj, err := project.LoadByName(configDir, c.Project, vcsVersion(ctx))
	if err != nil {
		return err
	}
	if c.OnlyComponents != "" {
		if err := proj.OnlyComponents(splitList(c.OnlyComponents)); err != nil {
			return err
		}
	}

	for _, name := range splitList(c.Platforms) {
		plat, err := platform.LoadByName(configDir, name)
		if err != nil {
			return err
		}

		d, err := driver.New(plat, proj, driver.Options{
			Workdir:    workdir,
			Preserve:   policy,
			EngineKind: c.Engine,
			Target:     c.Target,
			PoolURL:    c.Pooler,
			LeaseDB:    paths.LeaseDB(),

			ContainerdAddress: c.Containerd,
		})
		if err != nil {
			return err
		}

		if c.Image {
			err = d.RunImageBuild(ctx)
		} else {
			err = d.RunBuild(ctx)
		}
		if err != nil {
			slog.Error("build failed", "project", proj.Name, "platform", name, "error", err)
			return err
		}
	}

	return nil
}

// Splits a comma-separated argument, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
