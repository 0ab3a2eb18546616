package cli

import (
	"context"
	"os"

	"github.com/cruciblehq/forge/internal/paths"
	"github.com/cruciblehq/forge/internal/project"
)

// Represents the 'forge inspect' command.
type InspectCmd struct {
	Project string `arg:"" help:"Name of the project to inspect."`

	Configdir      string `short:"c" help:"Override the platform/project definition directory." placeholder:"PATH"`
	OnlyComponents string `short:"o" help:"Restrict the listing to a comma-separated subset of components." placeholder:"NAMES"`
}

// Executes the inspect command.
//
// Prints the project's resolved component list to standard output without
// building anything.
func (c *InspectCmd) Run(ctx context.Context) error {
	configDir := c.Configdir
	if configDir == "" {
		configDir = paths.Config()
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

	doc, err := proj.DescribeComponents()
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(doc)
	return err
}
