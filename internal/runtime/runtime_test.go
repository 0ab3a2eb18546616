package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPlatform(t *testing.T) {
	p := defaultPlatform()
	if !strings.HasPrefix(p, "linux/") {
		t.Fatalf("defaultPlatform = %q, want linux/<arch>", p)
	}
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[1] == "" {
		t.Fatalf("defaultPlatform = %q, want linux/<arch>", p)
	}
}

func TestIsArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "image.tar")
	if err := os.WriteFile(archive, []byte("tar"), 0644); err != nil {
		t.Fatal(err)
	}

	if !isArchive(archive) {
		t.Fatal("isArchive(file) = false, want true")
	}
	if isArchive(dir) {
		t.Fatal("isArchive(dir) = true, want false")
	}
	if isArchive("docker.io/library/debian:12") {
		t.Fatal("isArchive(tag) = true, want false")
	}
}
