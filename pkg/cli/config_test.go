package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclpkg/fclrecipe/pkg/types"
)

func TestParseOptionFlags(t *testing.T) {
	parsed, err := parseOptionFlags([]string{"shared=True", " fPIC = false ", "use_sse=0"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"shared": true, "fPIC": false, "use_sse": false}, parsed)

	for _, bad := range []string{"shared", "=True", "shared=yes"} {
		_, err := parseOptionFlags([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestResolveOptions_Precedence(t *testing.T) {
	t.Setenv("FCLRECIPE_OPTIONS_SHARED", "false")
	t.Setenv("FCLRECIPE_OPTIONS_USE_SSE", "false")

	v := newViper()
	merged, err := resolveOptions(v,
		map[string]bool{"shared": true, "fPIC": false},
		[]string{"use_sse=True"},
	)
	require.NoError(t, err)

	assert.False(t, merged["shared"], "environment beats the recipe file")
	assert.False(t, merged["fPIC"], "recipe value kept")
	assert.True(t, merged["use_sse"], "flag beats the environment")
	assert.NotContains(t, merged, "use_native_arch")
}

func TestResolveOptions_InvalidEnvironment(t *testing.T) {
	t.Setenv("FCLRECIPE_OPTIONS_SHARED", "sometimes")

	_, err := resolveOptions(newViper(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FCLRECIPE_OPTIONS_SHARED")
}

func TestResolveSettings(t *testing.T) {
	v := newViper()
	v.Set("os", "windows")
	v.Set("build-type", "relwithdebinfo")

	settings, err := resolveSettings(v, types.Settings{
		OS:       types.OSLinux,
		Arch:     "armv8",
		Compiler: "clang",
	})
	require.NoError(t, err)
	assert.Equal(t, types.OSWindows, settings.OS)
	assert.Equal(t, "armv8", settings.Arch)
	assert.Equal(t, "clang", settings.Compiler)
	assert.Equal(t, types.BuildTypeRelWithDebInfo, settings.BuildType)
}

func TestResolveSettings_HostDefaults(t *testing.T) {
	settings, err := resolveSettings(newViper(), types.Settings{})
	require.NoError(t, err)
	assert.Equal(t, types.DefaultSettings(), settings)
}

func TestResolveSettings_Invalid(t *testing.T) {
	v := newViper()
	v.Set("os", "Plan9")
	_, err := resolveSettings(v, types.Settings{})
	assert.Error(t, err)

	v = newViper()
	v.Set("build-type", "Fast")
	_, err = resolveSettings(v, types.Settings{})
	assert.Error(t, err)
}
