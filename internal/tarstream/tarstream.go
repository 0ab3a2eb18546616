// Package tarstream moves directory trees in and out of build hosts as
// tar streams.
//
// Every execution backend speaks tar: ssh targets pipe through a remote
// tar process and containers extract streams written into their stdin.
// This package provides the host side of those pipes.
package tarstream

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/forge/internal/paths"
)

// Writes the contents of dir to w as a tar stream.
//
// Entries are named relative to dir, so extracting the stream with
// "tar xf - -C dest" recreates the tree directly under dest.
func ArchiveDir(w io.Writer, dir string) error {
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		return writeEntry(tw, path, filepath.ToSlash(rel), d)
	})
	if err != nil {
		tw.Close()
		return err
	}

	return tw.Close()
}

// Writes a single file or directory entry to a tar writer.
func writeEntry(tw *tar.Writer, hostPath, archivePath string, d os.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = archivePath

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(hostPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	return nil
}

// Extracts a tar stream into destDir.
//
// Entry names are cleaned and confined to destDir; an entry that would
// escape it aborts the extraction.
func Extract(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := confine(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, paths.DefaultDirMode); err != nil {
				return err
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), paths.DefaultDirMode); err != nil {
				return err
			}
			if err := extractFile(tr, target, os.FileMode(header.Mode)); err != nil {
				return err
			}

		default:
			// Symlinks and specials are not expected in build output;
			// skip rather than recreate them on the host.
		}
	}
}

// Resolves an archive entry name beneath destDir, rejecting escapes.
func confine(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return filepath.Join(destDir, cleaned), nil
}

// Writes a single regular file from the tar reader.
func extractFile(tr *tar.Reader, target string, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, tr); err != nil {
		return err
	}
	return f.Close()
}
