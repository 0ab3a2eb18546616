package tarstream

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "sub", "deep"), 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"top.txt":          "top",
		"sub/mid.txt":      "mid",
		"sub/deep/leaf.sh": "#!/bin/sh\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0755); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := ArchiveDir(&buf, src); err != nil {
		t.Fatalf("ArchiveDir: %v", err)
	}

	dest := t.TempDir()
	if err := Extract(&buf, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	for name, want := range files {
		data, err := os.ReadFile(filepath.Join(dest, name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if string(data) != want {
			t.Fatalf("%s = %q, want %q", name, data, want)
		}
	}
}

func TestArchiveDirRelativeNames(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "file.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := ArchiveDir(&buf, src); err != nil {
		t.Fatalf("ArchiveDir: %v", err)
	}

	tr := tar.NewReader(&buf)
	header, err := tr.Next()
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if header.Name != "file.txt" {
		t.Fatalf("entry name = %q, want relative file.txt", header.Name)
	}
}

func TestExtractRejectsEscape(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:     "../escape.txt",
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     1,
	}); err != nil {
		t.Fatal(err)
	}
	tw.Write([]byte("x"))
	tw.Close()

	dest := t.TempDir()
	if err := Extract(&buf, dest); err == nil {
		t.Fatal("Extract accepted a path-escaping entry")
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("escaping entry was written outside the destination")
	}
}

func TestExtractSkipsSymlinks(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:     "link",
		Typeflag: tar.TypeSymlink,
		Linkname: "/etc/passwd",
	}); err != nil {
		t.Fatal(err)
	}
	tw.Close()

	dest := t.TempDir()
	if err := Extract(&buf, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(dest, "link")); !os.IsNotExist(err) {
		t.Fatal("symlink entry was recreated")
	}
}
