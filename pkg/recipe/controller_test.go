package recipe_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclpkg/fclrecipe/pkg/config"
	"github.com/fclpkg/fclrecipe/pkg/recipe"
	"github.com/fclpkg/fclrecipe/pkg/runner/runnertest"
	"github.com/fclpkg/fclrecipe/pkg/types"
	"github.com/fclpkg/fclrecipe/pkg/workspace"
)

type fixture struct {
	controller *recipe.Controller
	runner     *runnertest.Runner
	layout     *workspace.Layout
}

func newFixture(t *testing.T, target types.OS) *fixture {
	t.Helper()
	return newFixtureWith(t, config.DefaultDescriptor(), target)
}

func newFixtureWith(t *testing.T, descriptor types.Descriptor, target types.OS) *fixture {
	t.Helper()
	layout, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	fake := runnertest.New()
	controller, err := recipe.New(recipe.Config{
		Descriptor: descriptor,
		Settings:   types.Settings{OS: target, BuildType: types.BuildTypeRelease},
		Layout:     layout,
		Runner:     fake,
	})
	require.NoError(t, err)
	return &fixture{controller: controller, runner: fake, layout: layout}
}

func (f *fixture) runAll(t *testing.T, target types.OS) {
	t.Helper()
	ctx := context.Background()
	f.controller.ConfigureOptions(target)
	require.NoError(t, f.controller.AcquireSource(ctx, ""))
	_, err := f.controller.Configure(ctx)
	require.NoError(t, err)
	require.NoError(t, f.controller.Build(ctx))
	require.NoError(t, f.controller.Package(ctx))
}

func TestConfigureOptions_KeepsFPICOffWindows(t *testing.T) {
	for _, target := range []types.OS{types.OSLinux, types.OSMacos, types.OSFreeBSD, types.OSAndroid, types.OSiOS} {
		t.Run(string(target), func(t *testing.T) {
			f := newFixture(t, target)
			f.controller.ConfigureOptions(target)

			fpic, ok := f.controller.Options().Get(types.OptionFPIC)
			assert.True(t, ok, "fPIC must stay declared")
			assert.True(t, fpic, "fPIC default must be unchanged")
		})
	}
}

func TestConfigureOptions_Idempotent(t *testing.T) {
	f := newFixture(t, types.OSWindows)

	f.controller.ConfigureOptions(types.OSWindows)
	first := f.controller.Options()
	f.controller.ConfigureOptions(types.OSWindows)
	second := f.controller.Options()

	assert.Equal(t, first, second)
	assert.False(t, second.Has(types.OptionFPIC))
	assert.True(t, second.Has(types.OptionUseSSE))
}

func TestResolveBuildDefinition_IsPure(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.controller.ConfigureOptions(types.OSLinux)

	first := f.controller.ResolveBuildDefinition()
	second := f.controller.ResolveBuildDefinition()

	assert.True(t, bytes.Equal(first.Bytes(), second.Bytes()))
	assert.Empty(t, f.runner.Calls, "resolution must not invoke external tools")
}

func TestResolve_SharedInvertsStatic(t *testing.T) {
	for _, shared := range []bool{true, false} {
		options := types.DefaultOptionSet(2)
		require.NoError(t, options.Set(types.OptionShared, shared))

		static, ok := recipe.Resolve(options).Get(types.DefStaticLibrary)
		require.True(t, ok)
		assert.Equal(t, !shared, static, "shared=%v", shared)
	}
}

func TestResolve_AlwaysDisablesTests(t *testing.T) {
	values := []bool{true, false}
	for _, shared := range values {
		for _, fpic := range values {
			for _, sse := range values {
				for _, native := range values {
					options := types.DefaultOptionSet(2)
					require.NoError(t, options.Set(types.OptionShared, shared))
					require.NoError(t, options.Set(types.OptionFPIC, fpic))
					require.NoError(t, options.Set(types.OptionUseSSE, sse))
					require.NoError(t, options.Set(types.OptionUseNativeArch, native))

					def := recipe.Resolve(options)
					tests, ok := def.Get(types.DefBuildTesting)
					require.True(t, ok)
					assert.False(t, tests)

					pic, _ := def.Get(types.DefPIC)
					assert.Equal(t, fpic, pic)
					gotSSE, _ := def.Get(types.DefSSE)
					assert.Equal(t, sse, gotSSE)
					gotNative, _ := def.Get(types.DefNativeArch)
					assert.Equal(t, native, gotNative)
				}
			}
		}
	}
}

func TestResolve_Schema1HasNoInstructionSetFlags(t *testing.T) {
	def := recipe.Resolve(types.DefaultOptionSet(1))
	assert.False(t, def.Has(types.DefSSE))
	assert.False(t, def.Has(types.DefNativeArch))
	assert.True(t, def.Has(types.DefPIC))
}

func TestEndToEnd_Linux(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.runAll(t, types.OSLinux)

	def := f.controller.ResolveBuildDefinition()
	assert.Equal(t, map[string]bool{
		types.DefBuildTesting:  false,
		types.DefStaticLibrary: true,
		types.DefPIC:           true,
		types.DefSSE:           true,
		types.DefNativeArch:    false,
	}, def.Map())

	license, err := os.ReadFile(filepath.Join(f.layout.LicensesDir(), "LICENSE"))
	require.NoError(t, err)
	assert.Contains(t, string(license), "BSD")

	libs := f.controller.CollectLibraryList()
	require.NotEmpty(t, libs)
	hasStatic := false
	for _, lib := range libs {
		if recipe.IsStaticLibrary(lib) {
			hasStatic = true
		}
	}
	assert.True(t, hasStatic, "expected a static library in %v", libs)

	info := f.controller.Info()
	assert.Equal(t, []string{"fcl"}, info.Libs)
	assert.Equal(t, "fcl/0.6.0RC", info.Reference)
	assert.Len(t, info.Requires, 3)
}

func TestEndToEnd_WindowsHasNoPIC(t *testing.T) {
	f := newFixture(t, types.OSWindows)
	f.runAll(t, types.OSWindows)

	def := f.controller.ResolveBuildDefinition()
	assert.False(t, def.Has(types.DefPIC), "fPIC must be absent, not false")
	for _, arg := range def.Args() {
		assert.NotContains(t, arg, types.DefPIC)
	}

	var configureArgs []string
	for _, call := range f.runner.Calls {
		if call.Name == "cmake" && call.LogName == "configure" {
			configureArgs = call.Args
		}
	}
	require.NotEmpty(t, configureArgs)
	for _, arg := range configureArgs {
		assert.False(t, strings.HasPrefix(arg, "-D"+types.DefPIC), "unexpected %s", arg)
	}
}

func TestEndToEnd_Shared(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.controller.ConfigureOptions(types.OSLinux)
	require.NoError(t, f.controller.SetOption(types.OptionShared, true))

	ctx := context.Background()
	require.NoError(t, f.controller.AcquireSource(ctx, ""))
	_, err := f.controller.Configure(ctx)
	require.NoError(t, err)
	require.NoError(t, f.controller.Build(ctx))
	require.NoError(t, f.controller.Package(ctx))

	assert.Equal(t, []string{"libfcl.so"}, f.controller.CollectLibraryList())
}

func TestAcquireSource_AppliesPatches(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.controller.ConfigureOptions(types.OSLinux)
	require.NoError(t, f.controller.AcquireSource(context.Background(), ""))

	data, err := os.ReadFile(filepath.Join(f.layout.SourceDir(), "CMakeLists.txt"))
	require.NoError(t, err)
	content := string(data)

	assert.NotContains(t, content, "find_package(octomap QUIET)")
	assert.Contains(t, content, "set(PC_OCTOMAP_INCLUDE_DIRS ${CONAN_INCLUDE_DIRS_OCTOMAP})")
	assert.Contains(t, content, `set(OCTOMAP_VERSION "1.9.0")`)

	require.NotEmpty(t, f.runner.Calls)
	assert.Contains(t, f.runner.Calls[0].Args, "0.6.0RC", "clone must target the recipe version tag")
}

func TestApplyPatches_Idempotent(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.controller.ConfigureOptions(types.OSLinux)
	require.NoError(t, f.controller.AcquireSource(context.Background(), ""))

	path := filepath.Join(f.layout.SourceDir(), "CMakeLists.txt")
	once, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, f.controller.ApplyPatches())
	twice, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(once), string(twice))
}

func TestAcquireSource_ReRunReusesCheckout(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.controller.ConfigureOptions(types.OSLinux)
	ctx := context.Background()

	require.NoError(t, f.controller.AcquireSource(ctx, ""))
	require.NoError(t, f.controller.AcquireSource(ctx, ""))

	clones := 0
	for _, op := range f.runner.Ops() {
		if op == runnertest.OpClone {
			clones++
		}
	}
	assert.Equal(t, 1, clones)
}

func TestAcquireSource_PatchTargetMissing(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.runner.Upstream["CMakeLists.txt"] = "project(fcl CXX C)\nfind_package(octomap 1.9 REQUIRED)\n"
	f.controller.ConfigureOptions(types.OSLinux)

	err := f.controller.AcquireSource(context.Background(), "")
	assert.ErrorIs(t, err, recipe.ErrPatchTargetMissing)
}

func TestAcquireSource_Unavailable(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.runner.Fail(runnertest.OpClone)
	f.runner.FailOutput = "fatal: unable to access 'https://github.com/flexible-collision-library/fcl.git/'"
	f.controller.ConfigureOptions(types.OSLinux)

	err := f.controller.AcquireSource(context.Background(), "")
	require.ErrorIs(t, err, recipe.ErrSourceUnavailable)
	assert.Contains(t, recipe.Diagnostic(err), "unable to access")
	assert.Contains(t, err.Error(), "unable to access")
}

func TestConfigure_Failure(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.runner.Fail(runnertest.OpConfigure)
	f.controller.ConfigureOptions(types.OSLinux)
	require.NoError(t, f.controller.AcquireSource(context.Background(), ""))

	_, err := f.controller.Configure(context.Background())
	assert.ErrorIs(t, err, recipe.ErrConfiguration)
	assert.False(t, f.controller.Completed(types.StageConfigure))
}

func TestBuild_FailureIsNotRetried(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.runner.Fail(runnertest.OpBuild)
	f.controller.ConfigureOptions(types.OSLinux)
	ctx := context.Background()
	require.NoError(t, f.controller.AcquireSource(ctx, ""))
	_, err := f.controller.Configure(ctx)
	require.NoError(t, err)

	err = f.controller.Build(ctx)
	require.ErrorIs(t, err, recipe.ErrBuildFailure)

	builds := 0
	for _, op := range f.runner.Ops() {
		if op == runnertest.OpBuild {
			builds++
		}
	}
	assert.Equal(t, 1, builds)

	err = f.controller.Package(ctx)
	assert.ErrorIs(t, err, recipe.ErrStageOrder)
}

func TestPackage_MissingLicense(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	delete(f.runner.Upstream, "LICENSE")
	f.controller.ConfigureOptions(types.OSLinux)
	ctx := context.Background()
	require.NoError(t, f.controller.AcquireSource(ctx, ""))
	_, err := f.controller.Configure(ctx)
	require.NoError(t, err)
	require.NoError(t, f.controller.Build(ctx))

	err = f.controller.Package(ctx)
	assert.ErrorIs(t, err, recipe.ErrPackaging)
}

func TestPackage_InstallFailure(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	f.runner.Fail(runnertest.OpInstall)
	f.controller.ConfigureOptions(types.OSLinux)
	ctx := context.Background()
	require.NoError(t, f.controller.AcquireSource(ctx, ""))
	_, err := f.controller.Configure(ctx)
	require.NoError(t, err)
	require.NoError(t, f.controller.Build(ctx))

	err = f.controller.Package(ctx)
	assert.ErrorIs(t, err, recipe.ErrPackaging)
	assert.Empty(t, f.controller.CollectLibraryList())
}

func TestStageOrder(t *testing.T) {
	f := newFixture(t, types.OSLinux)
	ctx := context.Background()

	assert.ErrorIs(t, f.controller.AcquireSource(ctx, ""), recipe.ErrStageOrder)
	_, err := f.controller.Configure(ctx)
	assert.ErrorIs(t, err, recipe.ErrStageOrder)
	assert.ErrorIs(t, f.controller.Build(ctx), recipe.ErrStageOrder)
	assert.ErrorIs(t, f.controller.Package(ctx), recipe.ErrStageOrder)
	assert.Empty(t, f.runner.Calls)
}

func TestSetOption(t *testing.T) {
	f := newFixture(t, types.OSWindows)
	f.controller.ConfigureOptions(types.OSWindows)

	assert.Error(t, f.controller.SetOption(types.OptionFPIC, false), "removed option")
	assert.Error(t, f.controller.SetOption("lto", true), "unknown option")
	require.NoError(t, f.controller.SetOption(types.OptionUseNativeArch, true))

	ctx := context.Background()
	require.NoError(t, f.controller.AcquireSource(ctx, ""))
	_, err := f.controller.Configure(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, f.controller.SetOption(types.OptionShared, true), recipe.ErrStageOrder)
}

func TestMarkCompleted_Resumes(t *testing.T) {
	first := newFixture(t, types.OSLinux)
	first.runAll(t, types.OSLinux)

	resumed, err := recipe.New(recipe.Config{
		Descriptor: config.DefaultDescriptor(),
		Settings:   types.Settings{OS: types.OSLinux},
		Layout:     first.layout,
		Runner:     first.runner,
	})
	require.NoError(t, err)
	resumed.ConfigureOptions(types.OSLinux)
	resumed.MarkCompleted(types.StageSource, types.StageConfigure, types.StageBuild)

	require.NoError(t, resumed.Package(context.Background()))
}

func TestLegacySchema(t *testing.T) {
	f := newFixtureWith(t, config.LegacyDescriptor(), types.OSLinux)
	f.runAll(t, types.OSLinux)

	def := f.controller.ResolveBuildDefinition()
	assert.Equal(t, []string{
		"-DBUILD_TESTING=OFF",
		"-DFCL_STATIC_LIBRARY=ON",
		"-DCMAKE_POSITION_INDEPENDENT_CODE=ON",
	}, def.Args())

	data, err := os.ReadFile(filepath.Join(f.layout.SourceDir(), "CMakeLists.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "find_package(octomap QUIET)", "schema 1 leaves sources untouched")
}

func TestStageError(t *testing.T) {
	cause := errors.New("cmake failed: exit status 1")
	err := &recipe.StageError{
		Stage:  types.StageBuild,
		Kind:   recipe.ErrBuildFailure,
		Err:    cause,
		Output: strings.Repeat("noise\n", 50) + "error: 'Eigen/Dense' file not found\n",
	}

	assert.ErrorIs(t, err, recipe.ErrBuildFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Eigen/Dense")
	assert.Len(t, strings.Split(err.Tail(5), "\n"), 5)
}
