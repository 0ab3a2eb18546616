package engine

import (
	"context"

	"github.com/cruciblehq/forge/internal/errutil"
)

// Builds on a host named explicitly by the caller. No provisioning and
// no teardown beyond closing the connection; the host's state is the
// caller's concern.
type localEngine struct {
	sshEngine
	target string
}

func newLocal(opts Options) (Engine, error) {
	if opts.Target == "" {
		return nil, errutil.Wrapf(ErrProvisioning, "no build target given")
	}
	return &localEngine{
		sshEngine: sshEngine{kind: KindLocal, platform: opts.Platform},
		target:    opts.Target,
	}, nil
}

func (e *localEngine) Startup(ctx context.Context, localWorkdir string) error {
	return e.connect(ctx, e.target, localWorkdir)
}

func (e *localEngine) Teardown(ctx context.Context) error {
	e.disconnect()
	return nil
}
