// Package recipe implements the lifecycle of the FCL package recipe:
// options, source, configure, build, package and library collection
package recipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fclpkg/fclrecipe/pkg/analyzers"
	"github.com/fclpkg/fclrecipe/pkg/cmake"
	"github.com/fclpkg/fclrecipe/pkg/deps"
	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/runner"
	"github.com/fclpkg/fclrecipe/pkg/scm"
	"github.com/fclpkg/fclrecipe/pkg/types"
	"github.com/fclpkg/fclrecipe/pkg/utils"
	"github.com/fclpkg/fclrecipe/pkg/workspace"
)

// Config wires a Controller
type Config struct {
	Descriptor types.Descriptor
	Settings   types.Settings
	Layout     *workspace.Layout
	Runner     runner.Runner
	Logger     logger.Logger
	// Deps locates prerequisites; nil skips the lookup
	Deps *deps.Resolver
	// Parallel is the compile job count; 0 leaves it to the build tool
	Parallel int
}

// Controller drives one recipe run. Operations must be invoked in lifecycle
// order; re-running a completed operation is allowed.
type Controller struct {
	descriptor types.Descriptor
	settings   types.Settings
	layout     *workspace.Layout
	git        *scm.Git
	cmake      *cmake.Tool
	deps       *deps.Resolver
	log        logger.Logger
	parallel   int

	mu         sync.Mutex
	options    types.OptionSet
	completed  map[types.Stage]bool
	definition types.BuildDefinition
}

// New creates a controller with the descriptor's default options
func New(cfg Config) (*Controller, error) {
	if cfg.Layout == nil {
		return nil, fmt.Errorf("workspace layout is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Settings.OS == "" {
		cfg.Settings.OS = types.HostOS()
	}
	if cfg.Settings.BuildType == "" {
		cfg.Settings.BuildType = types.BuildTypeRelease
	}

	schema := cfg.Descriptor.Schema
	if schema == 0 {
		schema = 2
	}

	return &Controller{
		descriptor: cfg.Descriptor,
		settings:   cfg.Settings,
		layout:     cfg.Layout,
		git:        scm.NewGit(cfg.Runner, cfg.Logger.WithStage(string(types.StageSource))),
		cmake:      cmake.New(cfg.Runner, cfg.Logger),
		deps:       cfg.Deps,
		log:        cfg.Logger,
		parallel:   cfg.Parallel,
		options:    types.DefaultOptionSet(schema),
		completed:  make(map[types.Stage]bool),
	}, nil
}

// Descriptor returns the recipe identity
func (c *Controller) Descriptor() types.Descriptor {
	return c.descriptor
}

// Settings returns the build settings
func (c *Controller) Settings() types.Settings {
	return c.settings
}

// Layout returns the workspace layout
func (c *Controller) Layout() *workspace.Layout {
	return c.layout
}

// Options returns a copy of the current option set
func (c *Controller) Options() types.OptionSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.options.Clone()
}

// Completed reports whether a stage has finished in this run
func (c *Controller) Completed(stage types.Stage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed[stage]
}

// MarkCompleted records stages finished by an earlier process so a resumed
// run can continue where it stopped
func (c *Controller) MarkCompleted(stages ...types.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stage := range stages {
		c.completed[stage] = true
	}
}

// ConfigureOptions removes the options that do not exist on target. Calling
// it again with the same target changes nothing.
func (c *Controller) ConfigureOptions(target types.OS) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.options.RemoveInapplicable(target)
	c.completed[types.StageOptions] = true

	c.log.WithStage(string(types.StageOptions)).Debug("Options configured",
		logger.WithField("os", target),
		logger.WithField("options", c.options.Names()))
}

// SetOption overrides one option value. Options are frozen once the build
// has been configured.
func (c *Controller) SetOption(name string, value bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed[types.StageConfigure] {
		return fmt.Errorf("%w: options are frozen after configure", ErrStageOrder)
	}
	return c.options.Set(name, value)
}

// AcquireSource clones the upstream at version (the descriptor's version when
// empty) into the source folder and applies the recipe's patches
func (c *Controller) AcquireSource(ctx context.Context, version string) error {
	if err := c.require(types.StageSource, types.StageOptions); err != nil {
		return err
	}
	if version == "" {
		version = c.descriptor.Version
	}
	log := c.log.WithStage(string(types.StageSource))

	result, err := c.git.Clone(ctx, c.descriptor.SourceURL, version, c.layout.SourceDir())
	if err != nil {
		var output []byte
		if result != nil {
			output = result.Output
		}
		return stageError(types.StageSource, ErrSourceUnavailable, err, output)
	}
	if _, err := os.Stat(filepath.Join(c.layout.SourceDir(), "CMakeLists.txt")); err != nil {
		return stageError(types.StageSource, ErrSourceUnavailable,
			fmt.Errorf("checkout of %s has no CMakeLists.txt", version), nil)
	}

	if err := c.ApplyPatches(); err != nil {
		return err
	}

	log.Success(fmt.Sprintf("Source %s ready", version), logger.WithField("dir", c.layout.SourceDir()))
	c.markDone(types.StageSource)
	return nil
}

// ApplyPatches applies the descriptor's patches to the retrieved source
func (c *Controller) ApplyPatches() error {
	log := c.log.WithStage(string(types.StageSource))
	for _, patch := range c.descriptor.Patches {
		outcome, err := ApplyPatch(c.layout.SourceDir(), patch)
		if err != nil {
			return stageError(types.StageSource, ErrPatchTargetMissing, err, nil)
		}
		log.Info(fmt.Sprintf("Patch %s", outcome), logger.WithField("file", patch.File))
	}
	return nil
}

// ResolveBuildDefinition maps the current option set to CMake definitions.
// It has no side effects; an unchanged option set always yields an equal
// definition.
func (c *Controller) ResolveBuildDefinition() types.BuildDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Resolve(c.options)
}

// Resolve maps an option set to CMake definitions. Options absent from the
// set produce no definition at all.
func Resolve(options types.OptionSet) types.BuildDefinition {
	def := types.BuildDefinition{
		{Name: types.DefBuildTesting, Value: false},
		{Name: types.DefStaticLibrary, Value: !options.Shared},
	}
	if fpic, ok := options.Get(types.OptionFPIC); ok {
		def = append(def, types.Definition{Name: types.DefPIC, Value: fpic})
	}
	if sse, ok := options.Get(types.OptionUseSSE); ok {
		def = append(def, types.Definition{Name: types.DefSSE, Value: sse})
	}
	if native, ok := options.Get(types.OptionUseNativeArch); ok {
		def = append(def, types.Definition{Name: types.DefNativeArch, Value: native})
	}
	return def
}

// Configure resolves the build definition and runs the CMake configure step
func (c *Controller) Configure(ctx context.Context) (types.BuildDefinition, error) {
	if err := c.require(types.StageConfigure, types.StageSource); err != nil {
		return nil, err
	}
	def := c.ResolveBuildDefinition()
	c.warnOnDrift(def)

	output, err := c.runConfigure(ctx, def)
	if err != nil {
		return nil, stageError(types.StageConfigure, ErrConfiguration, err, output)
	}

	c.mu.Lock()
	c.definition = def
	c.mu.Unlock()

	c.log.WithStage(string(types.StageConfigure)).Success("Build configured",
		logger.WithField("definitions", def.Map()))
	c.markDone(types.StageConfigure)
	return def, nil
}

// Build compiles the configured tree. A failure is final; nothing is retried.
func (c *Controller) Build(ctx context.Context) error {
	if err := c.require(types.StageBuild, types.StageConfigure); err != nil {
		return err
	}

	result, err := c.cmake.Build(ctx, c.layout.BuildDir(), c.settings.BuildType, c.parallel)
	if err != nil {
		return stageError(types.StageBuild, ErrBuildFailure, err, outputOf(result))
	}

	c.log.WithStage(string(types.StageBuild)).Success(fmt.Sprintf("Built in %s", result.Duration))
	c.markDone(types.StageBuild)
	return nil
}

// Package copies the license into licenses/, re-resolves the build
// definition and installs into the package folder
func (c *Controller) Package(ctx context.Context) error {
	if err := c.require(types.StagePackage, types.StageBuild); err != nil {
		return err
	}
	log := c.log.WithStage(string(types.StagePackage))

	if _, err := os.Stat(filepath.Join(c.layout.BuildDir(), "CMakeCache.txt")); err != nil {
		return stageError(types.StagePackage, ErrPackaging,
			fmt.Errorf("build output missing in %s", c.layout.BuildDir()), nil)
	}

	licenseName := c.descriptor.GetLicenseFile()
	if err := utils.CopyFile(
		filepath.Join(c.layout.SourceDir(), licenseName),
		filepath.Join(c.layout.LicensesDir(), filepath.Base(licenseName)),
	); err != nil {
		return stageError(types.StagePackage, ErrPackaging, fmt.Errorf("license file: %w", err), nil)
	}

	def := c.ResolveBuildDefinition()
	c.mu.Lock()
	previous := c.definition
	c.mu.Unlock()
	if previous != nil && !previous.Equal(def) {
		return stageError(types.StagePackage, ErrPackaging,
			fmt.Errorf("build definition changed since configure"), nil)
	}

	if output, err := c.runConfigure(ctx, def); err != nil {
		return stageError(types.StagePackage, ErrPackaging, err, output)
	}

	result, err := c.cmake.Install(ctx, c.layout.BuildDir(), c.layout.PackageDir(), c.settings.BuildType)
	if err != nil {
		return stageError(types.StagePackage, ErrPackaging, err, outputOf(result))
	}

	log.Success("Package created", logger.WithField("dir", c.layout.PackageDir()))
	c.markDone(types.StagePackage)
	return nil
}

func (c *Controller) runConfigure(ctx context.Context, def types.BuildDefinition) ([]byte, error) {
	cache := map[string]string{}
	if c.deps != nil {
		prereqs, err := c.deps.Resolve(ctx, c.descriptor.Requires)
		if err != nil {
			return nil, err
		}
		cache = deps.CacheEntries(prereqs)
	}

	result, err := c.cmake.Configure(ctx, cmake.ConfigureRequest{
		SourceDir:     c.layout.SourceDir(),
		BuildDir:      c.layout.BuildDir(),
		InstallPrefix: c.layout.PackageDir(),
		BuildType:     c.settings.BuildType,
		Definitions:   def,
		Cache:         cache,
	})
	return outputOf(result), err
}

func (c *Controller) warnOnDrift(def types.BuildDefinition) {
	analyzer := analyzers.NewCMakeAnalyzer(c.layout.SourceDir())
	project, err := analyzer.AnalyzeProject(&analyzers.AnalysisOptions{RecursiveSearch: true})
	if err != nil {
		return
	}
	if drift := analyzer.DetectDrift(project, def); len(drift) > 0 {
		c.log.WithStage(string(types.StageConfigure)).Warn(
			"Upstream no longer declares some definitions as options",
			logger.WithField("definitions", drift))
	}
}

func (c *Controller) require(stage, prerequisite types.Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.completed[prerequisite] {
		return fmt.Errorf("%w: %s requires %s", ErrStageOrder, stage, prerequisite)
	}
	return nil
}

func (c *Controller) markDone(stage types.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[stage] = true
}

func outputOf(result *runner.Result) []byte {
	if result == nil {
		return nil
	}
	return result.Output
}
