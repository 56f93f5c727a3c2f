package deps_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclpkg/fclrecipe/pkg/deps"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

func requirements(t *testing.T) []types.Requirement {
	t.Helper()
	var reqs []types.Requirement
	for _, ref := range []string{
		"libccd/2.1@rhololkeolke/stable",
		"octomap/1.9.0@rhololkeolke/stable",
		"eigen/3.3.7@conan/stable",
	} {
		req, err := types.ParseRequirement(ref)
		require.NoError(t, err)
		reqs = append(reqs, req)
	}
	return reqs
}

func install(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "include"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0755))
}

func TestResolve(t *testing.T) {
	base := t.TempDir()
	install(t, filepath.Join(base, "libccd", "2.1"))
	install(t, filepath.Join(base, "octomap-1.9.0"))

	resolver := deps.NewResolver([]string{base}, nil)
	prereqs, err := resolver.Resolve(context.Background(), requirements(t))
	require.NoError(t, err)
	require.Len(t, prereqs, 3)

	assert.True(t, prereqs[0].Found)
	assert.Equal(t, filepath.Join(base, "libccd", "2.1"), prereqs[0].Root)
	assert.True(t, prereqs[1].Found)
	assert.Equal(t, filepath.Join(base, "octomap-1.9.0", "include"), prereqs[1].IncludeDir)
	assert.False(t, prereqs[2].Found)

	missing := deps.Missing(prereqs)
	require.Len(t, missing, 1)
	assert.Equal(t, "eigen", missing[0].Name)
}

func TestResolve_FromEnvironment(t *testing.T) {
	base := t.TempDir()
	install(t, filepath.Join(base, "eigen"))
	t.Setenv(deps.EnvSearchPath, base)

	prereqs, err := deps.NewResolver(nil, nil).Resolve(context.Background(), requirements(t))
	require.NoError(t, err)
	assert.True(t, prereqs[2].Found)
}

func TestResolve_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := deps.NewResolver([]string{t.TempDir()}, nil).Resolve(ctx, requirements(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCacheEntries(t *testing.T) {
	prereqs := []deps.Prerequisite{
		{
			Requirement: types.Requirement{Name: "octomap", Version: "1.9.0"},
			Found:       true,
			Root:        "/deps/octomap",
			IncludeDir:  "/deps/octomap/include",
			LibDir:      "/deps/octomap/lib",
		},
		{
			Requirement: types.Requirement{Name: "libccd", Version: "2.1"},
			Found:       true,
			Root:        "/deps/libccd",
			IncludeDir:  "/deps/libccd/include",
			LibDir:      "/deps/libccd/lib",
		},
		{Requirement: types.Requirement{Name: "eigen", Version: "3.3.7"}},
	}

	entries := deps.CacheEntries(prereqs)
	assert.Equal(t, "/deps/libccd;/deps/octomap", entries["CMAKE_PREFIX_PATH"])
	assert.Equal(t, "/deps/octomap/include", entries["CONAN_INCLUDE_DIRS_OCTOMAP"])
	assert.Equal(t, "/deps/octomap/lib", entries["CONAN_LIB_DIRS_OCTOMAP"])
	assert.NotContains(t, entries, "CONAN_INCLUDE_DIRS_EIGEN")
}

func TestCacheEntries_NothingFound(t *testing.T) {
	assert.Empty(t, deps.CacheEntries(nil))
}
