package remote

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/cruciblehq/forge/internal/errutil"
	"github.com/cruciblehq/forge/internal/tarstream"
)

// Transfers a local directory tree to a directory on the host.
//
// The tree is streamed as a tar archive to "tar xf -" running remotely,
// so the only requirement on the host is a tar binary. The remote
// directory is created first.
func (c *Client) Push(ctx context.Context, localDir, remoteDir string) error {
	session, err := c.conn.NewSession()
	if err != nil {
		return errutil.Wrap(ErrSSH, err)
	}
	defer session.Close()

	stop := watchContext(ctx, session)
	defer stop()

	stdin, err := session.StdinPipe()
	if err != nil {
		return errutil.Wrap(ErrSSH, err)
	}

	cmd := "mkdir -p " + shellQuote(remoteDir) + " && tar xf - -C " + shellQuote(remoteDir)
	if err := session.Start(cmd); err != nil {
		return errutil.Wrapf(ErrSSH, "%s: %w", cmd, err)
	}

	archiveErr := tarstream.ArchiveDir(stdin, localDir)
	stdin.Close()

	if err := session.Wait(); err != nil {
		return errutil.Wrapf(ErrSSH, "remote extract: %w", err)
	}
	if archiveErr != nil {
		return errutil.Wrapf(ErrSSH, "archiving %s: %w", localDir, archiveErr)
	}

	return nil
}

// Retrieves files matching the given globs from a remote directory.
//
// The matches are archived by "tar cf -" running remotely and extracted
// into localDir. Globs are expanded by the remote shell. A glob with no
// matches fails: a build that produced nothing to retrieve is a failed
// build.
func (c *Client) Pull(ctx context.Context, remoteDir string, patterns []string, localDir string) error {
	if len(patterns) == 0 {
		return nil
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return errutil.Wrap(ErrSSH, err)
	}
	defer session.Close()

	stop := watchContext(ctx, session)
	defer stop()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return errutil.Wrap(ErrSSH, err)
	}

	// Globs are left unquoted deliberately so the remote shell expands
	// them.
	cmd := inDir(remoteDir, "tar cf - "+strings.Join(patterns, " "))
	if err := session.Start(cmd); err != nil {
		return errutil.Wrapf(ErrSSH, "%s: %w", cmd, err)
	}

	extractErr := tarstream.Extract(stdout, localDir)

	if err := session.Wait(); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return errutil.Wrapf(ErrSSH, "remote archive exited %d", exitErr.ExitStatus())
		}
		return errutil.Wrapf(ErrSSH, "remote archive: %w", err)
	}
	if extractErr != nil {
		return errutil.Wrapf(ErrSSH, "extracting into %s: %w", localDir, extractErr)
	}

	return nil
}
