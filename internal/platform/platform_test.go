package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func writePlatform(t *testing.T, name, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "platforms")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name+".yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writePlatform(t, "el-9-x86_64", `
name: el-9-x86_64
make: gmake
hardware_pool:
  name: power-broads
  hosts: [bld-1.example.net, bld-2.example.net]
install_command: dnf install -y
ssh_user: builder
`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Name != "el-9-x86_64" {
		t.Fatalf("Name = %q, want el-9-x86_64", p.Name)
	}
	if p.MakeCommand() != "gmake" {
		t.Fatalf("MakeCommand = %q, want gmake", p.MakeCommand())
	}
	if !p.HasHardwarePool() {
		t.Fatal("HasHardwarePool = false, want true")
	}
	if p.HasCloudImage() || p.HasBaseImage() {
		t.Fatal("unexpected cloud or container capability")
	}
	if p.User() != "builder" {
		t.Fatalf("User = %q, want builder", p.User())
	}
	if p.Port() != 22 {
		t.Fatalf("Port = %d, want default 22", p.Port())
	}
}

func TestLoadNameFromFilename(t *testing.T) {
	path := writePlatform(t, "debian-12-amd64", "make: make\n")

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "debian-12-amd64" {
		t.Fatalf("Name = %q, want debian-12-amd64", p.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load of missing file succeeded")
	}
}

func TestDefaults(t *testing.T) {
	p := &Platform{Name: "sles-15-x86_64"}

	if p.MakeCommand() != "make" {
		t.Fatalf("MakeCommand = %q, want make", p.MakeCommand())
	}
	if p.User() != "root" {
		t.Fatalf("User = %q, want root", p.User())
	}
	if p.Port() != 22 {
		t.Fatalf("Port = %d, want 22", p.Port())
	}
	if p.Pool() != "sles-15-x86_64" {
		t.Fatalf("Pool = %q, want platform name", p.Pool())
	}

	p.PoolTemplate = "sles-15atomic"
	if p.Pool() != "sles-15atomic" {
		t.Fatalf("Pool = %q, want sles-15atomic", p.Pool())
	}
}

func TestEnvList(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{"no environment", nil, nil},
		{"single", map[string]string{"CC": "gcc"}, []string{"CC=gcc"}},
		{
			"sorted",
			map[string]string{"PATH": "/opt/bin", "CC": "gcc", "ARCH": "ppc"},
			[]string{"ARCH=ppc", "CC=gcc", "PATH=/opt/bin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Platform{Name: "el-9-x86_64", Environment: tt.env}
			got := p.EnvList()
			if len(got) != len(tt.want) {
				t.Fatalf("EnvList() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("EnvList()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCapabilityAccessors(t *testing.T) {
	tests := []struct {
		name                      string
		p                         Platform
		hardware, cloud, baseimg  bool
	}{
		{
			name: "empty pool does not count",
			p:    Platform{HardwarePool: &HardwarePool{Name: "x"}},
		},
		{
			name:  "cloud image",
			p:     Platform{CloudImage: &CloudImage{AMI: "ami-123"}},
			cloud: true,
		},
		{
			name: "cloud image without ami does not count",
			p:    Platform{CloudImage: &CloudImage{InstanceType: "t3.large"}},
		},
		{
			name:    "base image",
			p:       Platform{BaseImage: "images/debian-12.tar"},
			baseimg: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.HasHardwarePool(); got != tt.hardware {
				t.Errorf("HasHardwarePool = %v, want %v", got, tt.hardware)
			}
			if got := tt.p.HasCloudImage(); got != tt.cloud {
				t.Errorf("HasCloudImage = %v, want %v", got, tt.cloud)
			}
			if got := tt.p.HasBaseImage(); got != tt.baseimg {
				t.Errorf("HasBaseImage = %v, want %v", got, tt.baseimg)
			}
		})
	}
}
