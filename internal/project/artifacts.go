package project

import (
	"errors"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cruciblehq/forge/internal/errutil"
	"github.com/cruciblehq/forge/internal/paths"
)

var ErrGenerate = errors.New("artifact generation failed")

// Filenames materialized into the working directory before a build.
const (
	buildScriptName = "Makefile"
	bomName         = "bill-of-materials.yaml"
	manifestName    = "manifest.yaml"
	packagingDir    = "packaging"
)

// Template for the generated build script.
//
// The default target builds every component and then packages the result;
// the install target stops after installation so no-packaging builds can
// dispatch only that half.
var buildScriptTemplate = template.Must(template.New(buildScriptName).Parse(
	`# Generated by forge for {{.Name}} {{.Version}}. Do not edit.

COMPONENTS = {{range .Components}}{{.Name}} {{end}}

all: install package

install: $(COMPONENTS)

{{range .Components}}{{.Name}}:
{{"\t"}}$(MAKE) -C sources/{{.Name}} all install DESTDIR=$(CURDIR)/install
{{end}}
package: install
{{"\t"}}mkdir -p output
{{"\t"}}tar -C install -czf output/{{.Name}}-{{.Version}}.tar.gz .

.PHONY: all install package $(COMPONENTS)
`))

// Materializes the build script into the working directory.
//
// The script is what the build host ultimately runs; the orchestrator only
// dispatches the platform's make command against it.
func (p *Project) MakeBuildScript(workdir string) error {
	f, err := os.OpenFile(filepath.Join(workdir, buildScriptName),
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, paths.DefaultFileMode)
	if err != nil {
		return errutil.Wrap(ErrGenerate, err)
	}
	defer f.Close()

	if err := buildScriptTemplate.Execute(f, p); err != nil {
		return errutil.Wrapf(ErrGenerate, "build script: %w", err)
	}
	return f.Close()
}

// Writes the bill of materials into the working directory.
//
// The BOM records what went into the build: every component with its
// version, source, and build requirements.
func (p *Project) MakeBillOfMaterials(workdir string) error {
	type entry struct {
		Name          string   `yaml:"name"`
		Version       string   `yaml:"version,omitempty"`
		Source        string   `yaml:"source,omitempty"`
		BuildRequires []string `yaml:"build_requires,omitempty"`
	}

	entries := make([]entry, 0, len(p.Components))
	for _, c := range p.Components {
		entries = append(entries, entry{
			Name:          c.Name,
			Version:       c.Version,
			Source:        c.Source,
			BuildRequires: c.BuildRequires,
		})
	}

	doc := struct {
		Project    string  `yaml:"project"`
		Version    string  `yaml:"version"`
		Components []entry `yaml:"components"`
	}{p.Name, p.Version, entries}

	return writeYAML(filepath.Join(workdir, bomName), doc)
}

// Generates the packaging control files into the working directory.
//
// Each component gets a metadata file under packaging/ describing the
// archive its source landed under. Builds that opt out of packaging skip
// this entirely.
func (p *Project) GeneratePackagingArtifacts(workdir string) error {
	if p.NoPackaging {
		return nil
	}

	dir := filepath.Join(workdir, packagingDir)
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return errutil.Wrap(ErrGenerate, err)
	}

	for _, c := range p.Components {
		meta := struct {
			Name    string `yaml:"name"`
			Version string `yaml:"version,omitempty"`
			Archive string `yaml:"archive,omitempty"`
		}{c.Name, c.Version, sourceFilename(c)}

		if err := writeYAML(filepath.Join(dir, c.Name+".yaml"), meta); err != nil {
			return err
		}
	}
	return nil
}

// Saves the build manifest into the working directory.
//
// The manifest is the record of this particular invocation: project,
// version, component set, and when it was generated.
func (p *Project) SaveManifest(workdir string) error {
	doc := struct {
		Project     string    `yaml:"project"`
		Version     string    `yaml:"version"`
		NoPackaging bool      `yaml:"no_packaging"`
		Components  []string  `yaml:"components"`
		GeneratedAt time.Time `yaml:"generated_at"`
	}{
		Project:     p.Name,
		Version:     p.Version,
		NoPackaging: p.NoPackaging,
		GeneratedAt: time.Now().UTC(),
	}
	for _, c := range p.Components {
		doc.Components = append(doc.Components, c.Name)
	}

	return writeYAML(filepath.Join(workdir, manifestName), doc)
}

// Publishes the project settings document for a platform.
//
// Written after a successful build so downstream consumers can discover
// what was built for the platform and with which settings.
func (p *Project) PublishSettings(workdir, platformName string) error {
	doc := struct {
		Project  string         `yaml:"project"`
		Version  string         `yaml:"version"`
		Platform string         `yaml:"platform"`
		Settings map[string]any `yaml:"settings,omitempty"`
	}{p.Name, p.Version, platformName, p.Settings}

	return writeYAML(filepath.Join(workdir, platformName+"-settings.yaml"), doc)
}

// Marshals a document as YAML and writes it to path.
func writeYAML(path string, doc any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errutil.Wrapf(ErrGenerate, "%s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, paths.DefaultFileMode); err != nil {
		return errutil.Wrap(ErrGenerate, err)
	}
	return nil
}
