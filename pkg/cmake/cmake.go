// Package cmake drives the CMake configure, build and install steps
package cmake

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"

	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/runner"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

const (
	defaultProgram = "cmake"
	unixMakefiles  = "Unix Makefiles"
)

// Tool invokes cmake through a runner
type Tool struct {
	Program   string
	Generator string
	Runner    runner.Runner
	Logger    logger.Logger
}

// New creates a cmake tool using the generator from CMAKE_GENERATOR or the
// platform default
func New(r runner.Runner, log logger.Logger) *Tool {
	if log == nil {
		log = logger.Nop()
	}
	return &Tool{
		Program:   defaultProgram,
		Generator: DefaultGenerator(),
		Runner:    r,
		Logger:    log,
	}
}

// DefaultGenerator returns the generator for the running platform
func DefaultGenerator() string {
	if generator := os.Getenv("CMAKE_GENERATOR"); generator != "" {
		return generator
	}

	switch runtime.GOOS {
	case "windows":
		// let cmake pick the newest Visual Studio
		return ""
	default:
		return unixMakefiles
	}
}

// ConfigureRequest describes one configure invocation
type ConfigureRequest struct {
	SourceDir     string
	BuildDir      string
	InstallPrefix string
	BuildType     types.BuildType
	Definitions   types.BuildDefinition
	// Cache holds additional string cache entries such as prefix paths
	Cache map[string]string
	Env   map[string]string
}

// ConfigureArgs renders the cmake command line for a configure request
func (t *Tool) ConfigureArgs(req ConfigureRequest) []string {
	args := []string{"-S", req.SourceDir, "-B", req.BuildDir}

	if t.Generator != "" {
		args = append(args, "-G", t.Generator)
	}
	if req.BuildType != "" {
		args = append(args, fmt.Sprintf("-DCMAKE_BUILD_TYPE=%s", req.BuildType))
	}
	if req.InstallPrefix != "" {
		args = append(args, fmt.Sprintf("-DCMAKE_INSTALL_PREFIX=%s", req.InstallPrefix))
	}

	args = append(args, req.Definitions.Args()...)

	keys := make([]string, 0, len(req.Cache))
	for k := range req.Cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("-D%s=%s", k, req.Cache[k]))
	}
	return args
}

// Configure generates the build tree
func (t *Tool) Configure(ctx context.Context, req ConfigureRequest) (*runner.Result, error) {
	if err := os.MkdirAll(req.BuildDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	cmd := runner.Command{
		Name:    t.Program,
		Args:    t.ConfigureArgs(req),
		Dir:     req.BuildDir,
		Env:     req.Env,
		LogName: "configure",
	}
	t.Logger.Info("Configuring", logger.WithField("command", cmd.String()))
	return t.Runner.Run(ctx, cmd)
}

// Build compiles the configured tree. parallel <= 0 leaves the job count to
// the native tool.
func (t *Tool) Build(ctx context.Context, buildDir string, buildType types.BuildType, parallel int) (*runner.Result, error) {
	args := []string{"--build", buildDir}
	if buildType != "" {
		args = append(args, "--config", string(buildType))
	}
	if parallel > 0 {
		args = append(args, "--parallel", strconv.Itoa(parallel))
	}

	cmd := runner.Command{
		Name:    t.Program,
		Args:    args,
		Dir:     buildDir,
		LogName: "build",
	}
	t.Logger.Info("Building", logger.WithField("command", cmd.String()))
	return t.Runner.Run(ctx, cmd)
}

// Install copies the build outputs into prefix
func (t *Tool) Install(ctx context.Context, buildDir, prefix string, buildType types.BuildType) (*runner.Result, error) {
	args := []string{"--install", buildDir}
	if buildType != "" {
		args = append(args, "--config", string(buildType))
	}
	if prefix != "" {
		args = append(args, "--prefix", prefix)
	}

	cmd := runner.Command{
		Name:    t.Program,
		Args:    args,
		Dir:     buildDir,
		LogName: "install",
	}
	t.Logger.Info("Installing", logger.WithField("command", cmd.String()))
	return t.Runner.Run(ctx, cmd)
}
