package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/cruciblehq/forge/internal/errutil"
)

var ErrSSH = errors.New("ssh operation failed")

// Timeout for establishing the TCP and ssh handshakes. Commands run over
// an established connection have no client-side timeout; the caller's
// context governs them.
const dialTimeout = 30 * time.Second

// An ssh connection to a build host.
type Client struct {
	host string
	conn *ssh.Client
}

// Dials a build host over ssh.
//
// Authentication uses the ssh agent reachable through SSH_AUTH_SOCK. Host
// keys are not verified: build hosts are ephemeral, freshly provisioned,
// and their keys are never stable enough to pin.
func Dial(ctx context.Context, host, user string, port int) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods(),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	tcp, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errutil.Wrapf(ErrSSH, "dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcp, addr, config)
	if err != nil {
		tcp.Close()
		return nil, errutil.Wrapf(ErrSSH, "handshake with %s: %w", addr, err)
	}

	return &Client{host: host, conn: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// Returns the auth methods available to the client.
func authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	return methods
}

// Returns the hostname this client is connected to.
func (c *Client) Host() string {
	return c.host
}

// Closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Runs a shell command on the host, blocking until it terminates.
//
// Returns the combined output and the exit code. A non-zero exit code is
// not treated as an error; the caller decides. Cancelling the context
// closes the session, which terminates the remote command.
func (c *Client) Run(ctx context.Context, command string) (string, int, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return "", 0, errutil.Wrap(ErrSSH, err)
	}
	defer session.Close()

	stop := watchContext(ctx, session)
	defer stop()

	out, err := session.CombinedOutput(command)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitStatus(), nil
		}
		if ctx.Err() != nil {
			return string(out), 0, errutil.Wrap(ErrSSH, ctx.Err())
		}
		return string(out), 0, errutil.Wrapf(ErrSSH, "%s: %w", command, err)
	}

	return string(out), 0, nil
}

// Creates a fresh temporary directory on the host.
func (c *Client) Mktemp(ctx context.Context) (string, error) {
	out, code, err := c.Run(ctx, "mktemp -d -t forge.XXXXXX")
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", errutil.Wrapf(ErrSSH, "mktemp exited %d: %s", code, out)
	}
	return strings.TrimSpace(out), nil
}

// Closes a session when its context is cancelled.
//
// Returns a stop function that must be called once the session has
// finished, releasing the watcher goroutine.
func watchContext(ctx context.Context, session *ssh.Session) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Quotes a string for safe interpolation into a remote shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Formats a remote command that runs inside a directory.
func inDir(dir, command string) string {
	return fmt.Sprintf("cd %s && %s", shellQuote(dir), command)
}
