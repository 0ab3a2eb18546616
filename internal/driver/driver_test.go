package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cruciblehq/forge/internal/engine"
	"github.com/cruciblehq/forge/internal/platform"
	"github.com/cruciblehq/forge/internal/project"
	"github.com/cruciblehq/forge/internal/runtime"
)

// Engine double recording every call; individual stages can be made to
// fail.
type fakeEngine struct {
	name string

	calls    []string
	commands []string

	startupErr  error
	dispatchErr error

	// Number of Dispatch calls that fail before dispatchErr stops being
	// returned. Negative means fail forever.
	dispatchFailures int

	tornDown       int
	teardownCtxErr error
}

func (f *fakeEngine) Name() string           { return f.name }
func (f *fakeEngine) TargetIdentity() string { return "fake-host" }
func (f *fakeEngine) RemoteWorkdir() string  { return "/tmp/fake" }

func (f *fakeEngine) Startup(ctx context.Context, localWorkdir string) error {
	f.calls = append(f.calls, "startup")
	return f.startupErr
}

func (f *fakeEngine) Dispatch(ctx context.Context, command string) (string, error) {
	f.calls = append(f.calls, "dispatch")
	f.commands = append(f.commands, command)
	if f.dispatchErr != nil && f.dispatchFailures != 0 {
		if f.dispatchFailures > 0 {
			f.dispatchFailures--
		}
		return "", f.dispatchErr
	}
	return "", nil
}

func (f *fakeEngine) ShipWorkdir(ctx context.Context, localWorkdir string) error {
	f.calls = append(f.calls, "ship")
	return nil
}

func (f *fakeEngine) RetrieveArtifact(ctx context.Context, patterns []string, noPackaging bool) error {
	f.calls = append(f.calls, "retrieve")
	return nil
}

func (f *fakeEngine) Teardown(ctx context.Context) error {
	f.tornDown++
	f.teardownCtxErr = ctx.Err()
	return nil
}

func testPlatform() *platform.Platform {
	return &platform.Platform{
		Name:           "el-9-x86_64",
		InstallCommand: "dnf install -y",
	}
}

func testProject() *project.Project {
	return &project.Project{Name: "widget", Version: "1.2.3"}
}

func testDriver(t *testing.T, fake *fakeEngine, proj *project.Project, policy Policy) *Driver {
	t.Helper()
	opts := Options{Workdir: t.TempDir(), Preserve: policy}
	return newDriver(testPlatform(), proj, fake, opts)
}

func TestRunBuildStageOrder(t *testing.T) {
	fake := &fakeEngine{name: engine.KindContainer}
	d := testDriver(t, fake, testProject(), PolicyAlways)

	if err := d.RunBuild(context.Background()); err != nil {
		t.Fatalf("RunBuild() error = %v", err)
	}

	want := []string{"startup", "ship", "dispatch", "retrieve"}
	if len(fake.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", fake.calls, want)
	}
	for i := range want {
		if fake.calls[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q", i, fake.calls[i], want[i])
		}
	}

	if got := fake.commands[0]; got != "cd /tmp/fake; make" {
		t.Fatalf("build command = %q, want %q", got, "cd /tmp/fake; make")
	}
}

func TestRunBuildNoPackagingTarget(t *testing.T) {
	fake := &fakeEngine{name: engine.KindContainer}
	proj := testProject()
	proj.NoPackaging = true
	d := testDriver(t, fake, proj, PolicyAlways)

	if err := d.RunBuild(context.Background()); err != nil {
		t.Fatalf("RunBuild() error = %v", err)
	}
	if got := fake.commands[0]; got != "cd /tmp/fake; make install" {
		t.Fatalf("build command = %q, want %q", got, "cd /tmp/fake; make install")
	}
}

func TestRunBuildVersionUnset(t *testing.T) {
	fake := &fakeEngine{name: engine.KindContainer}
	proj := &project.Project{Name: "widget"}
	base := t.TempDir()
	d := newDriver(testPlatform(), proj, fake, Options{Workdir: base, Preserve: PolicyNever})

	err := d.RunBuild(context.Background())
	if !errors.Is(err, ErrInvalidProject) {
		t.Fatalf("RunBuild() error = %v, want ErrInvalidProject", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("engine calls = %v, want none", fake.calls)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("workdir entries = %d, want 0", len(entries))
	}
}

func TestRunBuildPolicyMatrix(t *testing.T) {
	dispatchErr := errors.New("make exploded")

	tests := []struct {
		name        string
		policy      Policy
		fail        bool
		wantCleanup bool
	}{
		{"never succeeds", PolicyNever, false, true},
		{"never fails", PolicyNever, true, true},
		{"on-failure succeeds", PolicyOnFailure, false, false},
		{"on-failure fails", PolicyOnFailure, true, true},
		{"always succeeds", PolicyAlways, false, false},
		{"always fails", PolicyAlways, true, false},
	}

	for _, tt := range tests {
		for _, kind := range []string{engine.KindContainer, engine.KindHardware, engine.KindCloud} {
			t.Run(tt.name+"/"+kind, func(t *testing.T) {
				fake := &fakeEngine{name: kind}
				if tt.fail {
					fake.dispatchErr = dispatchErr
					fake.dispatchFailures = -1
				}
				d := testDriver(t, fake, testProject(), tt.policy)

				err := d.RunBuild(context.Background())
				if tt.fail != (err != nil) {
					t.Fatalf("RunBuild() error = %v, want failure = %v", err, tt.fail)
				}

				_, statErr := os.Stat(d.workdir)
				removed := os.IsNotExist(statErr)
				if removed != tt.wantCleanup {
					t.Fatalf("workdir removed = %v, want %v", removed, tt.wantCleanup)
				}

				leased := kind == engine.KindHardware || kind == engine.KindCloud
				wantTeardown := tt.policy == PolicyNever || leased
				if (fake.tornDown > 0) != wantTeardown {
					t.Fatalf("teardown count = %d, want teardown = %v", fake.tornDown, wantTeardown)
				}
			})
		}
	}
}

func TestRunBuildFailureAtStartup(t *testing.T) {
	fake := &fakeEngine{name: engine.KindHardware, startupErr: errors.New("pool empty")}
	d := testDriver(t, fake, testProject(), PolicyAlways)

	if err := d.RunBuild(context.Background()); err == nil {
		t.Fatal("RunBuild() error = nil, want startup failure")
	}
	if fake.tornDown == 0 {
		t.Fatal("leased engine not torn down after startup failure")
	}
	for _, call := range fake.calls {
		if call == "ship" || call == "dispatch" {
			t.Fatalf("stage %q ran after failed startup", call)
		}
	}
}

func TestTeardownRunsWithUncancelledContext(t *testing.T) {
	fake := &fakeEngine{name: engine.KindHardware}
	d := testDriver(t, fake, testProject(), PolicyAlways)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The fake ignores the context, so the pipeline runs to completion;
	// what matters is the context teardown sees.
	if err := d.RunBuild(ctx); err != nil {
		t.Fatalf("RunBuild() error = %v", err)
	}
	if fake.tornDown == 0 {
		t.Fatal("leased engine not torn down")
	}
	if fake.teardownCtxErr != nil {
		t.Fatalf("teardown context error = %v, want nil after cancellation", fake.teardownCtxErr)
	}
}

func TestInstallDependenciesRetries(t *testing.T) {
	fake := &fakeEngine{
		name:             engine.KindContainer,
		dispatchErr:      errors.New("mirror flake"),
		dispatchFailures: 2,
	}
	proj := testProject()
	proj.RetryCount = 3
	proj.Components = []project.Component{
		{Name: "widget", BuildRequires: []string{"gcc", "cmake"}},
	}
	d := testDriver(t, fake, proj, PolicyAlways)

	if err := d.RunBuild(context.Background()); err != nil {
		t.Fatalf("RunBuild() error = %v", err)
	}

	// Two failed install attempts, the successful third, then the build.
	var installs int
	for _, cmd := range fake.commands {
		if strings.HasPrefix(cmd, "dnf install -y") {
			installs++
		}
	}
	if installs != 3 {
		t.Fatalf("install dispatches = %d, want 3", installs)
	}
	if got, want := fake.commands[0], "dnf install -y cmake gcc"; got != want {
		t.Fatalf("install command = %q, want %q", got, want)
	}
}

func TestInstallCommand(t *testing.T) {
	proj := testProject()
	deps := []string{"zlib", "gcc"}

	tests := []struct {
		name     string
		platform *platform.Platform
		want     string
		wantErr  error
	}{
		{
			"command with deps appended",
			&platform.Platform{Name: "el-9", InstallCommand: "dnf install -y"},
			"dnf install -y gcc zlib",
			nil,
		},
		{
			"suffix trails the deps",
			&platform.Platform{Name: "sles-15", InstallCommand: "zypper install", InstallSuffix: "--no-confirm"},
			"zypper install gcc zlib --no-confirm",
			nil,
		},
		{
			"command wins over template",
			&platform.Platform{Name: "el-9", InstallCommand: "dnf install -y", InstallTemplate: "ignored {{.Deps}}"},
			"dnf install -y gcc zlib",
			nil,
		},
		{
			"template",
			&platform.Platform{Name: "aix-7.2", InstallTemplate: "installp -a {{.Deps}} || true"},
			"installp -a gcc zlib || true",
			nil,
		},
		{
			"neither",
			&platform.Platform{Name: "bare"},
			"",
			ErrNoInstallMethod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDriver(tt.platform, proj, &fakeEngine{name: engine.KindLocal}, Options{})
			got, err := d.installCommand(append([]string(nil), deps...))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("installCommand() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("installCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunImageBuildRequiresBaseImage(t *testing.T) {
	d := newDriver(testPlatform(), testProject(), &fakeEngine{name: engine.KindContainer}, Options{Workdir: t.TempDir()})

	err := d.RunImageBuild(context.Background())
	if !errors.Is(err, ErrNoBaseImage) {
		t.Fatalf("RunImageBuild() error = %v, want ErrNoBaseImage", err)
	}
}

func TestRunImageBuildRuntimeCheckPrecedesWorkdir(t *testing.T) {
	p := testPlatform()
	p.BaseImage = "el-9:latest"
	base := t.TempDir()
	d := newDriver(p, testProject(), &fakeEngine{name: engine.KindContainer}, Options{
		Workdir:           base,
		ContainerdAddress: filepath.Join(t.TempDir(), "absent.sock"),
	})

	err := d.RunImageBuild(context.Background())
	if !errors.Is(err, runtime.ErrUnavailable) {
		t.Fatalf("RunImageBuild() error = %v, want ErrUnavailable", err)
	}

	entries, readErr := os.ReadDir(base)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("workdir entries = %d, want 0 when the runtime is unavailable", len(entries))
	}
}

func TestRunImageBuildVersionUnset(t *testing.T) {
	p := testPlatform()
	p.BaseImage = "el-9:latest"
	d := newDriver(p, &project.Project{Name: "widget"}, &fakeEngine{name: engine.KindContainer}, Options{Workdir: t.TempDir()})

	err := d.RunImageBuild(context.Background())
	if !errors.Is(err, ErrInvalidProject) {
		t.Fatalf("RunImageBuild() error = %v, want ErrInvalidProject", err)
	}
}

func TestParsePolicy(t *testing.T) {
	for _, valid := range []string{"never", "on-failure", "always"} {
		if _, err := ParsePolicy(valid); err != nil {
			t.Fatalf("ParsePolicy(%q) error = %v", valid, err)
		}
	}
	if _, err := ParsePolicy("sometimes"); err == nil {
		t.Fatal("ParsePolicy(sometimes) error = nil, want error")
	}
}
