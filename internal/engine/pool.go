package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cruciblehq/forge/internal/errutil"
)

const poolRequestTimeout = 2 * time.Minute

// Builds on a host checked out from an external VM pooler service.
//
// The pooler hands out pre-provisioned VMs by template name over a
// small HTTP API: POST /host/<template> checks one out, DELETE
// /host/<hostname> returns it.
type poolEngine struct {
	sshEngine

	url      string
	template string
	http     *http.Client

	hostname string
}

func newPool(opts Options) (Engine, error) {
	if opts.PoolURL == "" {
		return nil, errutil.Wrapf(ErrProvisioning, "no pooler URL configured")
	}
	template := opts.Platform.Pool()
	if template == "" {
		return nil, errutil.Wrapf(ErrProvisioning, "platform %q has no pool template", opts.Platform.Name)
	}
	return &poolEngine{
		sshEngine: sshEngine{kind: KindPool, platform: opts.Platform},
		url:       strings.TrimRight(opts.PoolURL, "/"),
		template:  template,
		http:      &http.Client{Timeout: poolRequestTimeout},
	}, nil
}

func (e *poolEngine) Startup(ctx context.Context, localWorkdir string) error {
	host, err := e.checkout(ctx)
	if err != nil {
		return err
	}
	e.hostname = host
	slog.Info("checked out pooled host", "template", e.template, "host", host)

	if err := e.connect(ctx, host, localWorkdir); err != nil {
		e.checkin(ctx)
		return err
	}
	return nil
}

func (e *poolEngine) Teardown(ctx context.Context) error {
	e.disconnect()
	return e.checkin(ctx)
}

// Checks a host out of the pooler.
func (e *poolEngine) checkout(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/host/%s", e.url, e.template)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", errutil.Wrap(ErrProvisioning, err)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return "", errutil.Wrapf(ErrProvisioning, "requesting host from pooler: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errutil.Wrapf(ErrProvisioning, "pooler returned %s for template %q", resp.Status, e.template)
	}

	var body struct {
		Hostname string `json:"hostname"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errutil.Wrapf(ErrProvisioning, "decoding pooler response: %w", err)
	}
	if body.Hostname == "" {
		return "", errutil.Wrapf(ErrProvisioning, "pooler returned no hostname for template %q", e.template)
	}
	return body.Hostname, nil
}

// Returns the host to the pooler. Safe to call repeatedly.
func (e *poolEngine) checkin(ctx context.Context) error {
	if e.hostname == "" {
		return nil
	}

	url := fmt.Sprintf("%s/host/%s", e.url, e.hostname)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("returning host %s: %w", e.hostname, err)
	}
	resp.Body.Close()

	slog.Info("returned pooled host", "host", e.hostname)
	e.hostname = ""
	return nil
}
