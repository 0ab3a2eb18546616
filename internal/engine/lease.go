package engine

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cruciblehq/forge/internal/errutil"
	"github.com/cruciblehq/forge/internal/paths"
)

// ErrPoolExhausted is returned when every host in a hardware pool is
// already leased.
var ErrPoolExhausted = errors.New("no free host in pool")

const leaseSchema = `
CREATE TABLE IF NOT EXISTS leases (
	host  TEXT NOT NULL,
	pool  TEXT NOT NULL,
	token TEXT NOT NULL UNIQUE,
	PRIMARY KEY (host, pool)
);
`

// LeaseStore tracks which hardware hosts are checked out for builds.
//
// Hardware platforms name a fixed set of hosts; concurrent forge
// invocations on the same machine coordinate through this store so two
// builds never land on the same host. Leases are keyed by an opaque
// token so release is idempotent and never steals another build's host.
type LeaseStore struct {
	db *sql.DB
}

// OpenLeaseStore opens (and if necessary initializes) the lease
// database at path.
func OpenLeaseStore(path string) (*LeaseStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(leaseSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &LeaseStore{db: db}, nil
}

func (s *LeaseStore) Close() error {
	return s.db.Close()
}

// Acquire leases a free host from the named pool. It returns the host
// and a token which must be passed to [LeaseStore.Release] when the
// build is done.
func (s *LeaseStore) Acquire(ctx context.Context, pool string, hosts []string) (host, token string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback()

	leased := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT host FROM leases WHERE pool = ?`, pool)
	if err != nil {
		return "", "", err
	}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return "", "", err
		}
		leased[h] = true
	}
	if err := rows.Err(); err != nil {
		return "", "", err
	}

	for _, h := range hosts {
		if !leased[h] {
			host = h
			break
		}
	}
	if host == "" {
		return "", "", errutil.Wrapf(ErrPoolExhausted, "pool %q: all %d hosts leased", pool, len(hosts))
	}

	token = uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO leases (host, pool, token) VALUES (?, ?, ?)`, host, pool, token); err != nil {
		return "", "", err
	}
	if err := tx.Commit(); err != nil {
		return "", "", err
	}
	return host, token, nil
}

// Release frees the host leased under token. Releasing an unknown token
// is not an error.
func (s *LeaseStore) Release(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE token = ?`, token)
	return err
}
