package project

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/forge/internal/errutil"
	"github.com/cruciblehq/forge/internal/paths"
)

var ErrFetch = errors.New("source fetch failed")

// Subdirectory of the working directory holding fetched sources.
const sourcesDir = "sources"

// Fetches every component's source into the working directory.
//
// Each component gets its own subdirectory under <workdir>/sources.
// Sources given as http(s) URLs are downloaded; anything else is treated
// as a path on the local filesystem and copied. Components without a
// source (metapackages that only declare dependencies) are skipped.
func (p *Project) FetchSources(ctx context.Context, workdir string) error {
	for _, c := range p.Components {
		if c.Source == "" {
			continue
		}

		dest := filepath.Join(workdir, sourcesDir, c.Name)
		if err := os.MkdirAll(dest, paths.DefaultDirMode); err != nil {
			return errutil.Wrap(ErrFetch, err)
		}

		slog.Info("fetching source", "component", c.Name, "source", c.Source)

		if err := fetchOne(ctx, c.Source, dest); err != nil {
			return errutil.Wrapf(ErrFetch, "component %s: %w", c.Name, err)
		}
	}
	return nil
}

// Fetches a single source into dest, dispatching on the source scheme.
func fetchOne(ctx context.Context, source, dest string) error {
	u, err := url.Parse(source)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return download(ctx, source, filepath.Join(dest, path.Base(u.Path)))
	}
	return copyLocal(source, dest)
}

// Downloads a URL to a local file.
func download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, paths.DefaultFileMode)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

// Copies a local file or directory tree into dest.
func copyLocal(source, dest string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return copyFile(source, filepath.Join(dest, filepath.Base(source)), info.Mode())
	}

	return filepath.WalkDir(source, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			return os.MkdirAll(target, paths.DefaultDirMode)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, info.Mode())
	})
}

// Copies a single file, preserving its mode.
func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// Returns the archive filename a component's source would land under,
// or the empty string for path-based and sourceless components.
func sourceFilename(c Component) string {
	u, err := url.Parse(c.Source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return path.Base(strings.TrimSuffix(u.Path, "/"))
}
