package workspace_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fclpkg/fclrecipe/pkg/workspace"
)

func TestLayout(t *testing.T) {
	root := t.TempDir()
	layout, err := workspace.New(root)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"source", layout.SourceDir(), filepath.Join(root, "source_subfolder")},
		{"build", layout.BuildDir(), filepath.Join(root, "build_subfolder")},
		{"package", layout.PackageDir(), filepath.Join(root, "package")},
		{"licenses", layout.LicensesDir(), filepath.Join(root, "package", "licenses")},
		{"state", layout.StateDir(), filepath.Join(root, ".fclrecipe", "state")},
		{"logs", layout.LogDir(), filepath.Join(root, ".fclrecipe", "logs")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestIsolatedLayoutsDoNotCollide(t *testing.T) {
	root := t.TempDir()
	a, err := workspace.Isolated(root)
	if err != nil {
		t.Fatalf("Isolated failed: %v", err)
	}
	b, err := workspace.Isolated(root)
	if err != nil {
		t.Fatalf("Isolated failed: %v", err)
	}

	if a.SourceDir() == b.SourceDir() || a.BuildDir() == b.BuildDir() {
		t.Error("isolated layouts must not share source or build folders")
	}
	if a.PackageDir() != b.PackageDir() {
		t.Error("isolated layouts share the package folder")
	}
	if !strings.Contains(a.SourceDir(), a.RunID) {
		t.Errorf("expected run id in %s", a.SourceDir())
	}
}

func TestClean(t *testing.T) {
	root := t.TempDir()
	layout, _ := workspace.New(root)

	for _, dir := range []string{layout.SourceDir(), layout.BuildDir(), layout.PackageDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}

	if err := layout.Clean(false); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if _, err := os.Stat(layout.SourceDir()); !os.IsNotExist(err) {
		t.Error("source folder should be removed")
	}
	if _, err := os.Stat(layout.PackageDir()); err != nil {
		t.Error("package folder should survive a plain clean")
	}

	if err := layout.Clean(true); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if _, err := os.Stat(layout.PackageDir()); !os.IsNotExist(err) {
		t.Error("package folder should be removed")
	}
}
