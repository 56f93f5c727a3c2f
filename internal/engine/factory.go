package engine

import (
	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/metrics"
	"github.com/fclpkg/fclrecipe/pkg/notifier"
	"github.com/fclpkg/fclrecipe/pkg/state"
)

// FactoryConfig selects the default dependencies
type FactoryConfig struct {
	Reference string
	StateKey  string
	// Notify enables desktop notifications; NotifyStages adds per-stage ones
	Notify       bool
	NotifyStages bool
	// MetricsEnabled creates a metrics recorder
	MetricsEnabled bool
}

// DependencyFactory creates default implementations of dependencies.
// This keeps concrete types out of the pipeline's constructor.
type DependencyFactory struct {
	stateDir string
	logger   logger.Logger
	config   FactoryConfig
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(stateDir string, log logger.Logger, config FactoryConfig) *DependencyFactory {
	if log == nil {
		log = logger.Nop()
	}
	return &DependencyFactory{
		stateDir: stateDir,
		logger:   log,
		config:   config,
	}
}

// Defaults holds the concrete dependencies alongside the pipeline view of them
type Defaults struct {
	Dependencies
	StateManager *state.StateManager
	Recorder     *metrics.Recorder
}

// CreateDefaults creates the state manager, and the notifier and metrics
// recorder when enabled
func (f *DependencyFactory) CreateDefaults() Defaults {
	sm := state.NewStateManager(f.stateDir, f.logger)
	d := Defaults{
		Dependencies: Dependencies{
			State:    sm,
			StateKey: f.config.StateKey,
		},
		StateManager: sm,
	}

	if f.config.Notify {
		d.Notifier = notifier.New(notifier.Config{
			Enabled:   true,
			Reference: f.config.Reference,
			Stages:    f.config.NotifyStages,
			Sound:     true,
		}, f.logger)
	}

	if f.config.MetricsEnabled {
		d.Recorder = metrics.NewRecorder(f.config.Reference)
		d.Metrics = d.Recorder
	}
	return d
}

// CreateWithOverrides creates defaults and replaces every non-nil override.
// This is useful for testing.
func (f *DependencyFactory) CreateWithOverrides(overrides Dependencies) Defaults {
	d := f.CreateDefaults()
	if overrides.State != nil {
		d.State = overrides.State
	}
	if overrides.StateKey != "" {
		d.StateKey = overrides.StateKey
	}
	if overrides.Notifier != nil {
		d.Notifier = overrides.Notifier
	}
	if overrides.Metrics != nil {
		d.Metrics = overrides.Metrics
	}
	return d
}
