package cmake_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclpkg/fclrecipe/pkg/cmake"
	"github.com/fclpkg/fclrecipe/pkg/mocks"
	"github.com/fclpkg/fclrecipe/pkg/runner"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

func fclDefinition() types.BuildDefinition {
	return types.BuildDefinition{
		{Name: types.DefBuildTesting, Value: false},
		{Name: types.DefStaticLibrary, Value: true},
		{Name: types.DefPIC, Value: true},
	}
}

func TestConfigureArgs(t *testing.T) {
	tool := cmake.New(nil, nil)
	tool.Generator = "Ninja"

	args := tool.ConfigureArgs(cmake.ConfigureRequest{
		SourceDir:     "/src",
		BuildDir:      "/build",
		InstallPrefix: "/pkg",
		BuildType:     types.BuildTypeRelease,
		Definitions:   fclDefinition(),
		Cache: map[string]string{
			"CMAKE_PREFIX_PATH":          "/deps/libccd;/deps/octomap",
			"CONAN_INCLUDE_DIRS_OCTOMAP": "/deps/octomap/include",
		},
	})

	assert.Equal(t, []string{
		"-S", "/src", "-B", "/build",
		"-G", "Ninja",
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_INSTALL_PREFIX=/pkg",
		"-DBUILD_TESTING=OFF",
		"-DFCL_STATIC_LIBRARY=ON",
		"-DCMAKE_POSITION_INDEPENDENT_CODE=ON",
		"-DCMAKE_PREFIX_PATH=/deps/libccd;/deps/octomap",
		"-DCONAN_INCLUDE_DIRS_OCTOMAP=/deps/octomap/include",
	}, args)
}

func TestConfigureArgs_NoGenerator(t *testing.T) {
	tool := cmake.New(nil, nil)
	tool.Generator = ""

	args := tool.ConfigureArgs(cmake.ConfigureRequest{SourceDir: "s", BuildDir: "b"})
	assert.Equal(t, []string{"-S", "s", "-B", "b"}, args)
}

func TestDefaultGenerator_FromEnvironment(t *testing.T) {
	t.Setenv("CMAKE_GENERATOR", "Ninja Multi-Config")
	assert.Equal(t, "Ninja Multi-Config", cmake.DefaultGenerator())
}

func TestConfigure_RunsInBuildDir(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRunner := mocks.NewMockRunner(ctrl)

	buildDir := filepath.Join(t.TempDir(), "build")
	mockRunner.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd runner.Command) (*runner.Result, error) {
			assert.Equal(t, "cmake", cmd.Name)
			assert.Equal(t, buildDir, cmd.Dir)
			assert.Equal(t, "configure", cmd.LogName)
			assert.Contains(t, cmd.Args, "-DBUILD_TESTING=OFF")
			return &runner.Result{Output: []byte("-- Generating done")}, nil
		})

	tool := cmake.New(mockRunner, nil)
	result, err := tool.Configure(context.Background(), cmake.ConfigureRequest{
		SourceDir:   "/src",
		BuildDir:    buildDir,
		Definitions: fclDefinition(),
	})
	require.NoError(t, err)
	assert.Equal(t, "-- Generating done", string(result.Output))
	assert.DirExists(t, buildDir)
}

func TestBuildAndInstallArgs(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRunner := mocks.NewMockRunner(ctrl)

	gomock.InOrder(
		mockRunner.EXPECT().
			Run(gomock.Any(), runner.Command{
				Name:    "cmake",
				Args:    []string{"--build", "/build", "--config", "Release", "--parallel", "4"},
				Dir:     "/build",
				LogName: "build",
			}).
			Return(&runner.Result{}, nil),
		mockRunner.EXPECT().
			Run(gomock.Any(), runner.Command{
				Name:    "cmake",
				Args:    []string{"--install", "/build", "--config", "Release", "--prefix", "/pkg"},
				Dir:     "/build",
				LogName: "install",
			}).
			Return(&runner.Result{}, nil),
	)

	tool := cmake.New(mockRunner, nil)
	_, err := tool.Build(context.Background(), "/build", types.BuildTypeRelease, 4)
	require.NoError(t, err)
	_, err = tool.Install(context.Background(), "/build", "/pkg", types.BuildTypeRelease)
	require.NoError(t, err)
}

func TestBuild_PropagatesFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRunner := mocks.NewMockRunner(ctrl)

	mockRunner.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		Return(&runner.Result{Output: []byte("error: expected ';'"), ExitCode: 2}, errors.New("cmake failed: exit status 2"))

	tool := cmake.New(mockRunner, nil)
	result, err := tool.Build(context.Background(), "/build", "", 0)
	require.Error(t, err)
	assert.Equal(t, 2, result.ExitCode)
}
