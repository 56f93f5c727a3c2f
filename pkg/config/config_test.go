package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fclpkg/fclrecipe/pkg/config"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

const yamlRecipe = `schema: 2
name: fcl
version: 0.6.0RC
license: BSD-3-Clause
sourceUrl: https://github.com/flexible-collision-library/fcl.git
requires:
  - libccd/2.1@rhololkeolke/stable
  - octomap/1.9.0@rhololkeolke/stable
patches:
  - file: CMakeLists.txt
    search: find_package(octomap QUIET)
    replace: set(PC_OCTOMAP_VERSION "1.9.0")
options:
  shared: true
settings:
  os: windows
  buildType: Debug
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoadRecipe_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fclrecipe.yaml")
	writeFile(t, path, yamlRecipe)

	recipe, err := config.NewManager().LoadRecipe(path)
	if err != nil {
		t.Fatalf("failed to load recipe: %v", err)
	}

	d := recipe.Descriptor
	if d.Reference() != "fcl/0.6.0RC" {
		t.Errorf("expected fcl/0.6.0RC, got %s", d.Reference())
	}
	if len(d.Requires) != 2 || d.Requires[1].Name != "octomap" || d.Requires[1].Channel != "stable" {
		t.Errorf("unexpected requirements: %+v", d.Requires)
	}
	if len(d.Patches) != 1 || d.Patches[0].Search != "find_package(octomap QUIET)" {
		t.Errorf("unexpected patches: %+v", d.Patches)
	}
	if !recipe.Options["shared"] {
		t.Error("expected shared override")
	}
	if recipe.Settings.OS != types.OSWindows {
		t.Errorf("expected os normalized to Windows, got %q", recipe.Settings.OS)
	}
	if recipe.Settings.BuildType != types.BuildTypeDebug {
		t.Errorf("expected Debug, got %q", recipe.Settings.BuildType)
	}
	if recipe.Path != path {
		t.Errorf("expected path %s, got %s", path, recipe.Path)
	}
}

func TestLoadRecipe_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fclrecipe.json")
	writeFile(t, path, `{
  "schema": 1,
  "name": "fcl",
  "version": "0.5.0",
  "sourceUrl": "https://github.com/flexible-collision-library/fcl.git",
  "requires": ["eigen/3.3.7@conan/stable"]
}`)

	recipe, err := config.NewManager().LoadRecipe(path)
	if err != nil {
		t.Fatalf("failed to load recipe: %v", err)
	}
	if recipe.Descriptor.Schema != 1 {
		t.Errorf("expected schema 1, got %d", recipe.Descriptor.Schema)
	}
}

func TestLoadRecipe_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad requirement", "name: fcl\nversion: v1\nsourceUrl: https://x/y.git\nrequires: [eigen]\n", "invalid requirement"},
		{"missing source", "name: fcl\nversion: v1\n", "sourceUrl"},
		{"unknown option", "name: fcl\nversion: v1\nsourceUrl: https://x/y.git\noptions: {lto: true}\n", "unknown option"},
		{"schema 1 sse", "schema: 1\nname: fcl\nversion: v1\nsourceUrl: https://x/y.git\noptions: {use_sse: false}\n", "schema 2"},
		{"bad os", "name: fcl\nversion: v1\nsourceUrl: https://x/y.git\nsettings: {os: plan9}\n", "unknown operating system"},
		{"not yaml", "name: [unterminated\n", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "fclrecipe.yaml")
			writeFile(t, path, tt.content)

			_, err := config.NewManager().LoadRecipe(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_FallsBackToDefault(t *testing.T) {
	recipe, err := config.NewManager().Load("", t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if recipe.Path != "" {
		t.Errorf("expected built-in recipe, got %s", recipe.Path)
	}
	if recipe.Descriptor.Reference() != "fcl/0.6.0RC" {
		t.Errorf("unexpected default reference %s", recipe.Descriptor.Reference())
	}
}

func TestLoad_FindsRecipeInDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fclrecipe.yml"), yamlRecipe)

	recipe, err := config.NewManager().Load("", dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filepath.Base(recipe.Path) != "fclrecipe.yml" {
		t.Errorf("expected fclrecipe.yml, got %s", recipe.Path)
	}
}

func TestDefaultDescriptor(t *testing.T) {
	d := config.DefaultDescriptor()

	if d.SourceURL != "https://github.com/flexible-collision-library/fcl.git" {
		t.Errorf("unexpected source url %s", d.SourceURL)
	}
	if d.License != "BSD-3-Clause" {
		t.Errorf("unexpected license %s", d.License)
	}

	want := []string{
		"libccd/2.1@rhololkeolke/stable",
		"octomap/1.9.0@rhololkeolke/stable",
		"eigen/3.3.7@conan/stable",
	}
	for i, req := range d.Requires {
		if req.String() != want[i] {
			t.Errorf("requirement %d = %s, want %s", i, req, want[i])
		}
	}

	if len(d.Patches) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(d.Patches))
	}
	if !strings.Contains(d.Patches[0].Replace, "${CONAN_INCLUDE_DIRS_OCTOMAP}") {
		t.Error("expected include dir injection in first patch")
	}
	if d.Patches[1].Replace != `set(OCTOMAP_VERSION "1.9.0"` {
		t.Errorf("unexpected version pin %q", d.Patches[1].Replace)
	}

	if err := config.DefaultRecipe().Validate(); err != nil {
		t.Errorf("default recipe should validate: %v", err)
	}
	if err := (&config.Recipe{Descriptor: config.LegacyDescriptor()}).Validate(); err != nil {
		t.Errorf("legacy recipe should validate: %v", err)
	}
}

func TestWriteRecipe_RoundTrip(t *testing.T) {
	for _, name := range []string{"fclrecipe.yaml", "fclrecipe.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			manager := config.NewManager()

			original := config.DefaultRecipe()
			original.Options = map[string]bool{"use_native_arch": true}
			if err := manager.WriteRecipe(path, original); err != nil {
				t.Fatalf("WriteRecipe failed: %v", err)
			}

			loaded, err := manager.LoadRecipe(path)
			if err != nil {
				t.Fatalf("LoadRecipe failed: %v", err)
			}
			if loaded.Descriptor.Patches[0].Replace != original.Descriptor.Patches[0].Replace {
				t.Error("multi-line patch text did not survive encoding")
			}
			if !loaded.Options["use_native_arch"] {
				t.Error("expected option override to survive")
			}
		})
	}
}

func TestReloadManager_TriggerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fclrecipe.yaml")
	writeFile(t, path, yamlRecipe)

	rm := config.NewReloadManager(path, nil)
	reloaded := make(chan *config.Recipe, 1)
	rm.AddCallback(func(r *config.Recipe, err error) {
		if err != nil {
			t.Errorf("unexpected reload error: %v", err)
			return
		}
		reloaded <- r
	})

	rm.TriggerReload()

	select {
	case r := <-reloaded:
		if r.Descriptor.Name != "fcl" {
			t.Errorf("unexpected recipe %s", r.Descriptor.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestReloadManager_ReportsRemoval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fclrecipe.yaml")

	rm := config.NewReloadManager(path, nil)
	errs := make(chan error, 1)
	rm.AddCallback(func(_ *config.Recipe, err error) { errs <- err })

	rm.TriggerReload()

	select {
	case err := <-errs:
		if err == nil || !strings.Contains(err.Error(), "removed") {
			t.Errorf("expected removal error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestReloadManager_StartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fclrecipe.yaml")
	writeFile(t, path, yamlRecipe)

	rm := config.NewReloadManager(path, nil)
	if err := rm.StartWatching(t.Context()); err != nil {
		t.Fatalf("StartWatching failed: %v", err)
	}
	if !rm.IsWatching() {
		t.Error("expected watcher to be active")
	}
	if err := rm.StartWatching(t.Context()); err == nil {
		t.Error("expected error when already watching")
	}
	if err := rm.StopWatching(); err != nil {
		t.Errorf("StopWatching failed: %v", err)
	}
	if rm.IsWatching() {
		t.Error("expected watcher to be stopped")
	}
}
