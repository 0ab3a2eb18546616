package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/cruciblehq/forge/internal/errutil"
	"github.com/cruciblehq/forge/internal/platform"
	"github.com/cruciblehq/forge/internal/remote"
)

// Directory beneath the remote workdir where no-packaging builds leave
// their installed tree.
const installDir = "install"

// Shared behavior for engines that reach their build host over ssh.
//
// Concrete engines embed this and implement Startup (which must call
// connect once a host is known) and Teardown (which must call
// disconnect). Everything between, from dispatching commands to moving
// the working tree and artifacts, is identical across hardware, cloud,
// pool, and local targets.
type sshEngine struct {
	kind     string
	platform *platform.Platform

	client       *remote.Client
	workdir      string // Remote working directory, created by connect.
	localWorkdir string // Local working directory, recorded at Startup.
}

func (e *sshEngine) Name() string {
	return e.kind
}

// Returns the hostname of the connected build host, or the empty string
// before Startup.
func (e *sshEngine) TargetIdentity() string {
	if e.client == nil {
		return ""
	}
	return e.client.Host()
}

func (e *sshEngine) RemoteWorkdir() string {
	return e.workdir
}

// Establishes the ssh connection and creates the remote workdir.
func (e *sshEngine) connect(ctx context.Context, host, localWorkdir string) error {
	client, err := remote.Dial(ctx, host, e.platform.User(), e.platform.Port())
	if err != nil {
		return errutil.Wrap(ErrProvisioning, err)
	}

	workdir, err := client.Mktemp(ctx)
	if err != nil {
		client.Close()
		return errutil.Wrap(ErrProvisioning, err)
	}

	e.client = client
	e.workdir = workdir
	e.localWorkdir = localWorkdir

	slog.Info("build host ready", "engine", e.kind, "host", host, "workdir", workdir)
	return nil
}

// Closes the ssh connection. Safe to call repeatedly.
func (e *sshEngine) disconnect() {
	if e.client == nil {
		return
	}
	e.client.Close()
	e.client = nil
}

// Executes a shell command on the build host.
//
// The platform's environment is exported into the command's shell. A
// non-zero exit is surfaced as a [*CommandError]; the output is returned
// either way.
func (e *sshEngine) Dispatch(ctx context.Context, command string) (string, error) {
	if e.client == nil {
		return "", ErrNotStarted
	}

	full := envPrefix(e.platform.Environment) + command
	slog.Debug("dispatching", "engine", e.kind, "command", command)

	out, code, err := e.client.Run(ctx, full)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return out, &CommandError{Command: command, ExitCode: code, Output: out}
	}
	return out, nil
}

// Transfers the local working tree to the remote workdir.
func (e *sshEngine) ShipWorkdir(ctx context.Context, localWorkdir string) error {
	if e.client == nil {
		return ErrNotStarted
	}
	return e.client.Push(ctx, localWorkdir, e.workdir)
}

// Copies build output matching the given globs back to the local working
// directory.
//
// No-packaging builds produce no package files; for those the installed
// tree is retrieved instead of the artifact globs.
func (e *sshEngine) RetrieveArtifact(ctx context.Context, patterns []string, noPackaging bool) error {
	if e.client == nil {
		return ErrNotStarted
	}
	if noPackaging {
		patterns = []string{installDir}
	}
	return e.client.Pull(ctx, e.workdir, patterns, e.localWorkdir)
}

// Renders a platform environment as shell export statements.
//
// Keys are sorted so dispatched commands are deterministic.
func envPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString("export ")
		b.WriteString(k)
		b.WriteString("='")
		b.WriteString(strings.ReplaceAll(env[k], "'", `'\''`))
		b.WriteString("'; ")
	}
	return b.String()
}
