package engine

import (
	"time"

	"github.com/fclpkg/fclrecipe/pkg/types"
)

// StateRecorder persists stage progress.
// Implemented by *state.StateManager and by test fakes.
type StateRecorder interface {
	MarkStage(key string, stage types.Stage, duration time.Duration) error
	MarkFailed(key string, stage types.Stage, err error) error
}

// StageNotifier announces stage progress.
// Implemented by *notifier.StageNotifier and by test fakes.
type StageNotifier interface {
	NotifyStageStart(stage types.Stage)
	NotifyStageSuccess(stage types.Stage, duration time.Duration)
	NotifyStageFailure(stage types.Stage, err error)
	NotifyRunComplete(duration time.Duration)
}

// MetricsRecorder observes stage and run timings.
// Implemented by *metrics.Recorder.
type MetricsRecorder interface {
	ObserveStage(stage types.Stage, duration time.Duration, err error)
	ObserveRun(duration time.Duration)
}

// Dependencies are the optional collaborators of a Pipeline; nil fields are
// skipped
type Dependencies struct {
	State    StateRecorder
	StateKey string
	Notifier StageNotifier
	Metrics  MetricsRecorder
}
