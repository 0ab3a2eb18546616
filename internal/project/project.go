package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cruciblehq/forge/internal/errutil"
)

var ErrInvalidProject = errors.New("invalid project definition")

// A single buildable piece of a project.
//
// Components contribute sources to the working tree and declare the
// external packages that must be present on the build host before the
// build script runs.
type Component struct {
	Name          string   `yaml:"name"`
	Version       string   `yaml:"version"`
	Source        string   `yaml:"source"`         // http(s) URL or local path.
	BuildRequires []string `yaml:"build_requires"` // External packages needed at build time.
}

// Describes the thing being built.
//
// A project is loaded once per invocation and then driven through one
// build per platform. The version must be set before any pipeline runs;
// when the definition omits it, the loader fills it from version-control
// metadata supplied by the caller.
type Project struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Components  []Component    `yaml:"components"`
	NoPackaging bool           `yaml:"no_packaging"` // Run only the install half of the build script.
	Timeout     int            `yaml:"timeout"`      // Retry budget deadline in seconds, 0 for default.
	RetryCount  int            `yaml:"retry_count"`  // Retry budget attempts, 0 for default.
	Artifacts   []string       `yaml:"artifacts"`    // Globs fetched back from the build host.
	Settings    map[string]any `yaml:"settings"`     // Published per platform after a successful build.
}

// Loads a project definition from a YAML file.
//
// fallbackVersion fills the version field when the definition omits it;
// callers derive it from version-control metadata at invocation time.
func Load(path, fallbackVersion string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errutil.Wrap(ErrInvalidProject, err)
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errutil.Wrapf(ErrInvalidProject, "%s: %w", path, err)
	}

	if p.Name == "" {
		return nil, errutil.Wrapf(ErrInvalidProject, "%s: missing project name", path)
	}
	if p.Version == "" {
		p.Version = fallbackVersion
	}

	return &p, nil
}

// Loads a named project from the configuration directory.
//
// The definition is expected at <configDir>/projects/<name>.yaml.
func LoadByName(configDir, name, fallbackVersion string) (*Project, error) {
	return Load(filepath.Join(configDir, "projects", name+".yaml"), fallbackVersion)
}

// Restricts the project to the named components.
//
// Returns an error when a requested name does not exist in the project,
// so a typo fails loudly instead of silently building everything else.
func (p *Project) OnlyComponents(names []string) error {
	if len(names) == 0 {
		return nil
	}

	byName := make(map[string]Component, len(p.Components))
	for _, c := range p.Components {
		byName[c.Name] = c
	}

	kept := make([]Component, 0, len(names))
	for _, name := range names {
		c, ok := byName[name]
		if !ok {
			return errutil.Wrapf(ErrInvalidProject, "unknown component %q", name)
		}
		kept = append(kept, c)
	}

	p.Components = kept
	return nil
}

// Returns the globs for build output to fetch back from the build host.
func (p *Project) ArtifactsToFetch() []string {
	if len(p.Artifacts) == 0 {
		return []string{"output/*"}
	}
	return p.Artifacts
}

// Computes the external build dependencies missing from the project.
//
// The result is the union of every component's build requirements minus
// the names of the components themselves: anything the project builds is
// considered self-satisfied, even when one component lists another (or
// itself) as a requirement. The result is sorted and duplicate-free.
func MissingDependencies(components []Component) []string {
	provided := make(map[string]bool, len(components))
	for _, c := range components {
		provided[c.Name] = true
	}

	missing := make(map[string]bool)
	for _, c := range components {
		for _, req := range c.BuildRequires {
			if !provided[req] {
				missing[req] = true
			}
		}
	}

	deps := make([]string, 0, len(missing))
	for dep := range missing {
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	return deps
}

// Serializes the resolved component list as a YAML document.
//
// Used by the inspection mode to show what a build would operate on
// without running anything.
func (p *Project) DescribeComponents() ([]byte, error) {
	doc := struct {
		Project    string      `yaml:"project"`
		Version    string      `yaml:"version"`
		Components []Component `yaml:"components"`
	}{
		Project:    p.Name,
		Version:    p.Version,
		Components: p.Components,
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serializing components: %w", err)
	}
	return out, nil
}
