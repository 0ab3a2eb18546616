package platform

import (
	"errors"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cruciblehq/forge/internal/errutil"
)

var ErrInvalidPlatform = errors.New("invalid platform definition")

// Default command used to drive the generated build script.
const defaultMake = "make"

// A pool of dedicated build machines reachable over ssh.
type HardwarePool struct {
	Name  string   `yaml:"name"`  // Pool name, recorded with each lease.
	Hosts []string `yaml:"hosts"` // Candidate hosts, leased one at a time.
}

// An on-demand cloud instance specification.
type CloudImage struct {
	AMI          string `yaml:"ami"`           // Machine image to launch.
	InstanceType string `yaml:"instance_type"` // Instance type (e.g., "t3.large").
	SubnetID     string `yaml:"subnet_id"`     // Optional subnet for the instance.
	KeyName      string `yaml:"key_name"`      // Key pair installed on the instance.
}

// Describes a build target: one OS/architecture combination and the
// machinery needed to acquire a host for it and install packages on it.
//
// Platforms are immutable once loaded. Exactly which execution backend a
// platform implies is decided by the engine selector from the capability
// accessors below.
type Platform struct {
	Name            string            `yaml:"name"`
	Make            string            `yaml:"make"`             // Build command; defaults to "make".
	HardwarePool    *HardwarePool     `yaml:"hardware_pool"`    // Dedicated hardware, if any.
	CloudImage      *CloudImage       `yaml:"cloud_image"`      // Cloud instance spec, if any.
	BaseImage       string            `yaml:"base_image"`       // Container base image: OCI archive path or tag.
	PoolTemplate    string            `yaml:"pool_template"`    // Template name for pooler checkouts; defaults to Name.
	InstallCommand  string            `yaml:"install_command"`  // Package install command; deps are appended.
	InstallSuffix   string            `yaml:"install_suffix"`   // Optional trailing arguments after the deps.
	InstallTemplate string            `yaml:"install_template"` // Full command template receiving {{.Deps}}.
	SSHUser         string            `yaml:"ssh_user"`         // Remote user; defaults to "root".
	SSHPort         int               `yaml:"ssh_port"`         // Remote port; defaults to 22.
	Environment     map[string]string `yaml:"environment"`      // Exported into every dispatched command.
}

// Loads a platform definition from a YAML file.
func Load(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errutil.Wrap(ErrInvalidPlatform, err)
	}

	var p Platform
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errutil.Wrapf(ErrInvalidPlatform, "%s: %w", path, err)
	}

	if p.Name == "" {
		p.Name = platformName(path)
	}

	return &p, nil
}

// Loads a named platform from the configuration directory.
//
// The definition is expected at <configDir>/platforms/<name>.yaml.
func LoadByName(configDir, name string) (*Platform, error) {
	return Load(filepath.Join(configDir, "platforms", name+".yaml"))
}

// Derives a platform name from its definition filename.
func platformName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// Whether the platform declares a dedicated hardware pool.
func (p *Platform) HasHardwarePool() bool {
	return p.HardwarePool != nil && len(p.HardwarePool.Hosts) > 0
}

// Whether the platform declares a cloud instance image.
func (p *Platform) HasCloudImage() bool {
	return p.CloudImage != nil && p.CloudImage.AMI != ""
}

// Whether the platform declares a container base image.
func (p *Platform) HasBaseImage() bool {
	return p.BaseImage != ""
}

// Returns the command used to drive the generated build script.
func (p *Platform) MakeCommand() string {
	if p.Make == "" {
		return defaultMake
	}
	return p.Make
}

// Returns the pooler template to check out for this platform.
func (p *Platform) Pool() string {
	if p.PoolTemplate != "" {
		return p.PoolTemplate
	}
	return p.Name
}

// Returns the ssh user for build hosts of this platform.
func (p *Platform) User() string {
	if p.SSHUser == "" {
		return "root"
	}
	return p.SSHUser
}

// Returns the ssh port for build hosts of this platform.
func (p *Platform) Port() int {
	if p.SSHPort == 0 {
		return 22
	}
	return p.SSHPort
}

// Renders the platform environment as KEY=value pairs for an OCI process
// spec.
//
// Keys are sorted so dispatched commands are deterministic. Returns nil
// when the platform declares no environment.
func (p *Platform) EnvList() []string {
	if len(p.Environment) == 0 {
		return nil
	}

	keys := make([]string, 0, len(p.Environment))
	for k := range p.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+p.Environment[k])
	}
	return out
}
