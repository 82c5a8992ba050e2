package statshistory

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDirRejectsEmptyPath(t *testing.T) {
	if _, err := resolveDir("  "); err == nil {
		t.Fatal("expected error for blank migrations path")
	}
}

func TestResolveDirRejectsMissingPath(t *testing.T) {
	if _, err := resolveDir(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected error for missing migrations directory")
	}
}

func TestResolveDirRejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	if _, err := resolveDir(file); err == nil {
		t.Fatal("expected error for non-directory migrations path")
	}
}

func TestResolveDirAcceptsDirectory(t *testing.T) {
	dir := t.TempDir()
	resolved, err := resolveDir(dir)
	if err != nil {
		t.Fatalf("resolveDir: %v", err)
	}
	if !filepath.IsAbs(resolved) {
		t.Fatalf("expected absolute path, got %q", resolved)
	}
}

func TestFileURLProducesFileScheme(t *testing.T) {
	got := fileURL("/var/lib/viewhub/migrations")
	const want = "file:///var/lib/viewhub/migrations"
	if got != want {
		t.Fatalf("fileURL() = %q, want %q", got, want)
	}
}
