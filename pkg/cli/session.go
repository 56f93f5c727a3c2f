package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fclpkg/fclrecipe/internal/engine"
	"github.com/fclpkg/fclrecipe/pkg/config"
	rcontext "github.com/fclpkg/fclrecipe/pkg/context"
	"github.com/fclpkg/fclrecipe/pkg/deps"
	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/process"
	"github.com/fclpkg/fclrecipe/pkg/recipe"
	"github.com/fclpkg/fclrecipe/pkg/runner"
	"github.com/fclpkg/fclrecipe/pkg/state"
	"github.com/fclpkg/fclrecipe/pkg/types"
	"github.com/fclpkg/fclrecipe/pkg/validation"
	"github.com/fclpkg/fclrecipe/pkg/workspace"
)

// session is one recipe run: the loaded recipe, resolved settings and
// options, and the controller driving the stages
type session struct {
	recipe     *config.Recipe
	settings   types.Settings
	layout     *workspace.Layout
	controller *recipe.Controller
	key        string
	log        logger.Logger

	// libs is filled by the libs hook
	libs []string
}

// runResult is what a pipeline run produced
type runResult struct {
	report *engine.Report
	libs   []string
}

func (c *CLI) loadRecipe() (*config.Recipe, error) {
	return config.NewManager().Load(c.config.RecipeFile, c.config.ProjectRoot)
}

func (c *CLI) recipePath() string {
	if c.config.RecipeFile != "" {
		return c.config.RecipeFile
	}
	if found := config.NewManager().FindRecipe(c.config.ProjectRoot); found != "" {
		return found
	}
	return filepath.Join(c.config.ProjectRoot, config.RecipeFileNames[0])
}

// newSession loads the recipe and prepares a controller with its options
// configured for the target OS
func (c *CLI) newSession() (*session, error) {
	r, err := c.loadRecipe()
	if err != nil {
		return nil, err
	}
	return c.newSessionFor(r)
}

func (c *CLI) newSessionFor(r *config.Recipe) (*session, error) {
	settings, err := resolveSettings(c.viper, r.Settings)
	if err != nil {
		return nil, err
	}

	overrides, err := resolveOptions(c.viper, r.Options, c.config.Options)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateOptions(overrides, r.Descriptor.Schema, "").Err(); err != nil {
		return nil, err
	}

	var layout *workspace.Layout
	if c.config.Isolated {
		layout, err = workspace.Isolated(c.config.ProjectRoot)
	} else {
		layout, err = workspace.New(c.config.ProjectRoot)
	}
	if err != nil {
		return nil, err
	}
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	log := c.logger
	tools := c.runner
	if tools == nil {
		tools = runner.NewExecRunner(layout.LogDir(), log)
	}

	controller, err := recipe.New(recipe.Config{
		Descriptor: r.Descriptor,
		Settings:   settings,
		Layout:     layout,
		Runner:     tools,
		Logger:     log,
		Deps:       deps.NewResolver(c.config.DepsPaths, log),
		Parallel:   c.config.Parallel,
	})
	if err != nil {
		return nil, err
	}

	for _, name := range sortedNames(overrides) {
		if decl, ok := types.LookupOption(name); ok && !decl.AppliesTo(settings.OS) {
			log.Warn(fmt.Sprintf("Option %s does not exist on %s, ignoring override", name, settings.OS))
			continue
		}
		if err := controller.SetOption(name, overrides[name]); err != nil {
			return nil, err
		}
	}
	controller.ConfigureOptions(settings.OS)

	key := state.Key(r.Descriptor.Reference(), settings.OS)
	if layout.RunID != "" {
		key += "-" + layout.RunID
	}

	return &session{
		recipe:     r,
		settings:   settings,
		layout:     layout,
		controller: controller,
		key:        key,
		log:        log,
	}, nil
}

// hooks returns the lifecycle hooks from options through last
func (s *session) hooks(recorder interface{ SetLibraries(int) }) []engine.Hook {
	all := []engine.Hook{
		{
			Stage:  types.StageOptions,
			Always: true,
			Run: func(ctx context.Context) error {
				s.controller.ConfigureOptions(s.settings.OS)
				return nil
			},
		},
		{
			Stage: types.StageSource,
			Run: func(ctx context.Context) error {
				return s.controller.AcquireSource(ctx, "")
			},
		},
		{
			Stage: types.StageConfigure,
			Run: func(ctx context.Context) error {
				_, err := s.controller.Configure(ctx)
				return err
			},
		},
		{
			Stage: types.StageBuild,
			Run:   s.controller.Build,
		},
		{
			Stage: types.StagePackage,
			Run:   s.controller.Package,
		},
		{
			Stage:  types.StageLibs,
			Always: true,
			Run: func(ctx context.Context) error {
				s.libs = s.controller.CollectLibraryList()
				if recorder != nil {
					recorder.SetLibraries(len(s.libs))
				}
				return nil
			},
		},
	}
	return all
}

// runThrough runs every stage up to and including last, resuming from the
// progress recorded by earlier runs
func (c *CLI) runThrough(ctx context.Context, s *session, last types.Stage, fresh bool) (*runResult, error) {
	ctx = rcontext.EnrichContext(rcontext.WithRecipe(ctx, s.recipe.Descriptor.Reference()))
	log := logger.WithContext(ctx, s.log)

	factory := engine.NewDependencyFactory(s.layout.StateDir(), log, engine.FactoryConfig{
		Reference:      s.recipe.Descriptor.Reference(),
		StateKey:       s.key,
		Notify:         c.config.Notify,
		NotifyStages:   c.config.NotifyStages,
		MetricsEnabled: c.config.MetricsFile != "",
	})
	defaults := factory.CreateWithOverrides(c.overrides)
	states := defaults.StateManager

	if _, err := states.Acquire(s.key, s.recipe.Descriptor.Reference(), s.settings); err != nil {
		return nil, err
	}
	if fresh {
		if err := states.Reset(s.key); err != nil {
			return nil, err
		}
	}

	invalidated, err := states.RecordOptions(s.key, s.controller.Options().Values())
	if err != nil {
		_ = states.Release(s.key, state.RunStatusFailed)
		return nil, err
	}
	if len(invalidated) > 0 {
		log.Warn("Options changed since the last run, repeating later stages",
			logger.WithField("stages", invalidated))
	}

	current, err := states.ReadState(s.key)
	if err != nil {
		_ = states.Release(s.key, state.RunStatusFailed)
		return nil, err
	}
	var completed []types.Stage
	for _, stage := range current.Completed {
		if stage.Index() <= last.Index() {
			completed = append(completed, stage)
		}
	}
	s.controller.MarkCompleted(completed...)

	pm := process.NewManager(log)
	pm.SetHeartbeat(states.UpdateHeartbeats, process.DefaultHeartbeatInterval)
	pm.RegisterShutdownHandler(func() {
		if err := states.Cleanup(); err != nil {
			log.Warn("Failed to release state", logger.WithField("error", err))
		}
	})
	runCtx := pm.Start(ctx)
	defer pm.Stop()

	var recorder interface{ SetLibraries(int) }
	if defaults.Recorder != nil {
		recorder = defaults.Recorder
	}
	hooks := s.hooks(recorder)[:last.Index()+1]

	pipeline := engine.NewPipeline(log, defaults.Dependencies, hooks...)
	report, runErr := pipeline.Run(runCtx, completed)

	status := state.RunStatusSucceeded
	if runErr != nil {
		status = state.RunStatusFailed
	}
	if err := states.Release(s.key, status); err != nil {
		log.Warn("Failed to record final status", logger.WithField("error", err))
	}

	if defaults.Recorder != nil {
		if err := defaults.Recorder.WriteTextfile(c.config.MetricsFile); err != nil {
			log.Warn("Failed to write metrics", logger.WithField("error", err))
		}
	}

	if runErr != nil {
		return &runResult{report: report}, runErr
	}
	return &runResult{report: report, libs: s.libs}, nil
}

// describeFailure prints the error kind and the tool output tail
func (c *CLI) describeFailure(err error) {
	var stageErr *recipe.StageError
	if errors.As(err, &stageErr) {
		c.printError(fmt.Sprintf("%s failed: %v", stageErr.Stage, stageErr.Kind))
		if stageErr.Err != nil {
			c.printError(stageErr.Err.Error())
		}
		if tail := stageErr.Tail(20); tail != "" {
			fmt.Fprintln(c.errorOut, tail)
		}
		return
	}
	if errors.Is(err, recipe.ErrWorkspaceLocked) {
		c.printError("Another fclrecipe process is using this workspace; retry when it finishes or pass --isolated")
		return
	}
	c.printError(err.Error())
}
