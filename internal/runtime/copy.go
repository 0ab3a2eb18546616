package runtime

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/forge/internal/errutil"
)

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, path string) error {
	return c.mustExec(ctx, "mkdir", nil, nil, "mkdir", "-p", path)
}

// Copies a tar stream into the container's filesystem.
//
// The contents of r are extracted into destDir by piping them to "tar xf -
// -C destDir" inside the container.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.mustExec(ctx, "tar extract", r, nil, "tar", "xf", "-", "-C", destDir)
}

// Copies a path from the container's filesystem as a tar stream.
//
// The file or directory at path is archived by running "tar cf - -C <dir>
// <base>" inside the container and streaming the output to w.
func (c *Container) CopyFrom(ctx context.Context, w io.Writer, path string) error {
	return c.mustExec(ctx, "tar archive", nil, w, "tar", "cf", "-", "-C", filepath.Dir(path), filepath.Base(path))
}

// Archives paths matching the given globs beneath dir as a tar stream.
//
// The globs are expanded by a shell inside the container, so build output
// can be collected without knowing exact filenames up front.
func (c *Container) ArchiveGlobs(ctx context.Context, w io.Writer, dir string, patterns []string) error {
	cmd := "cd " + dir + " && tar cf - " + strings.Join(patterns, " ")
	return c.mustExec(ctx, "tar archive", nil, w, "/bin/sh", "-c", cmd)
}

// Helper method that runs a command inside the container, returning an
// error that includes desc if the process exits with a non-zero code.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, stdout io.Writer, args ...string) error {
	exitCode, stderr, err := c.execCommand(ctx, stdin, stdout, nil, "", args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return errutil.Wrapf(ErrRuntime, "%s failed with exit code %d (%s)", desc, exitCode, stderr)
	}
	return nil
}
