package fsutil

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func exercise(t *testing.T, fsys FileSystem, root string) {
	t.Helper()
	dir := filepath.Join(root, "patches")
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if !fsys.Exists(dir) {
		t.Fatalf("expected %s to exist", dir)
	}
	if err := fsys.WriteFile(filepath.Join(dir, "patch_1.txt"), []byte("1 2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fsys.WriteFile(filepath.Join(dir, "patch_0.txt"), []byte("0 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	names, err := fsys.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]string{"patch_0.txt", "patch_1.txt"}, names); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	log := filepath.Join(dir, "captures.log")
	for _, chunk := range []string{"a", "bc"} {
		w, err := fsys.Append(log)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	data, err := fsys.ReadFile(log)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("appended content = %q, want %q", data, "abc")
	}

	if _, err := fsys.ReadFile(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error reading a missing file")
	}
	if fsys.Exists(filepath.Join(dir, "missing.txt")) {
		t.Error("missing file reported as existing")
	}
}

func TestOSFileSystem(t *testing.T) {
	exercise(t, OSFileSystem{}, t.TempDir())
}

func TestMemoryFileSystem(t *testing.T) {
	exercise(t, NewMemoryFileSystem(), "/out")
}

func TestMemoryFileSystem_Files(t *testing.T) {
	m := NewMemoryFileSystem()
	_ = m.WriteFile("/a/x.png", nil, 0o644)
	_ = m.WriteFile("/a/y.png", nil, 0o644)
	_ = m.WriteFile("/b/z.png", nil, 0o644)
	if diff := cmp.Diff([]string{"/a/x.png", "/a/y.png"}, m.Files("/a/")); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}
}
