package cli

import (
	"context"
	"os/exec"
	"strings"
)

// Returns the project version derived from the invocation directory's
// git metadata.
//
// Used as the fallback when a project definition omits its version.
// Returns the empty string when the tree is not a git checkout or git is
// not installed, so that a version cannot be fabricated: a project with
// no version anywhere must fail validation, not build under a
// placeholder.
func vcsVersion(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "git", "describe", "--tags", "--always").Output()
	if err != nil {
		return ""
	}
	return parseDescribe(string(out))
}

// Normalizes git describe output into a version string.
//
// Strips the conventional "v" tag prefix, matching the version handling
// of the binary's own build metadata.
func parseDescribe(out string) string {
	v := strings.TrimSpace(out)
	if strings.HasPrefix(v, "v") || strings.HasPrefix(v, "V") {
		v = v[1:]
	}
	return v
}
