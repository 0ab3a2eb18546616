package engine

import (
	"context"
	"log/slog"

	"github.com/cruciblehq/forge/internal/errutil"
)

// Builds on a host leased from the platform's fixed hardware pool.
//
// The lease is held for the lifetime of the build and released at
// Teardown, which runs whether the build succeeded or not.
type hardwareEngine struct {
	sshEngine
	leaseDB string

	store *LeaseStore
	token string
}

func newHardware(opts Options) (Engine, error) {
	if !opts.Platform.HasHardwarePool() {
		return nil, errutil.Wrapf(ErrProvisioning, "platform %q has no hardware pool", opts.Platform.Name)
	}
	return &hardwareEngine{
		sshEngine: sshEngine{kind: KindHardware, platform: opts.Platform},
		leaseDB:   opts.LeaseDB,
	}, nil
}

func (e *hardwareEngine) Startup(ctx context.Context, localWorkdir string) error {
	store, err := OpenLeaseStore(e.leaseDB)
	if err != nil {
		return errutil.Wrap(ErrProvisioning, err)
	}

	pool := e.platform.HardwarePool
	host, token, err := store.Acquire(ctx, pool.Name, pool.Hosts)
	if err != nil {
		store.Close()
		return errutil.Wrap(ErrProvisioning, err)
	}
	e.store = store
	e.token = token
	slog.Info("leased hardware host", "pool", pool.Name, "host", host)

	if err := e.connect(ctx, host, localWorkdir); err != nil {
		e.release(ctx)
		return err
	}
	return nil
}

func (e *hardwareEngine) Teardown(ctx context.Context) error {
	e.disconnect()
	return e.release(ctx)
}

func (e *hardwareEngine) release(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	err := e.store.Release(ctx, e.token)
	e.store.Close()
	e.store = nil
	return err
}
