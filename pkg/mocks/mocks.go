// Package mocks provides test doubles for the pipeline's collaborators.
// runner_mock.go is generated by mockgen; the doubles below are hand-written.
package mocks

import (
	"fmt"
	"sync"
	"time"

	"github.com/fclpkg/fclrecipe/pkg/types"
)

// MockStateRecorder records stage progress in memory
type MockStateRecorder struct {
	mu        sync.RWMutex
	completed map[string][]types.Stage
	failed    map[string]types.Stage
	lastError map[string]error
	markError error
}

// NewMockStateRecorder creates a new mock state recorder
func NewMockStateRecorder() *MockStateRecorder {
	return &MockStateRecorder{
		completed: make(map[string][]types.Stage),
		failed:    make(map[string]types.Stage),
		lastError: make(map[string]error),
	}
}

// SetMarkError makes every MarkStage call fail
func (m *MockStateRecorder) SetMarkError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markError = err
}

// MarkStage records a completed stage
func (m *MockStateRecorder) MarkStage(key string, stage types.Stage, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markError != nil {
		return m.markError
	}
	m.completed[key] = append(m.completed[key], stage)
	return nil
}

// MarkFailed records a failed stage
func (m *MockStateRecorder) MarkFailed(key string, stage types.Stage, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[key] = stage
	m.lastError[key] = err
	return nil
}

// Completed returns the stages marked for key
func (m *MockStateRecorder) Completed(key string) []types.Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Stage(nil), m.completed[key]...)
}

// Failed returns the failed stage for key and its error
func (m *MockStateRecorder) Failed(key string) (types.Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failed[key], m.lastError[key]
}

// MockNotifier records notifications as strings
type MockNotifier struct {
	mu     sync.Mutex
	events []string
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// NotifyStageStart records a start event
func (m *MockNotifier) NotifyStageStart(stage types.Stage) {
	m.record("start:" + string(stage))
}

// NotifyStageSuccess records a success event
func (m *MockNotifier) NotifyStageSuccess(stage types.Stage, _ time.Duration) {
	m.record("success:" + string(stage))
}

// NotifyStageFailure records a failure event
func (m *MockNotifier) NotifyStageFailure(stage types.Stage, _ error) {
	m.record("failure:" + string(stage))
}

// NotifyRunComplete records the end of a run
func (m *MockNotifier) NotifyRunComplete(_ time.Duration) {
	m.record("complete")
}

// Events returns the recorded events in order
func (m *MockNotifier) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *MockNotifier) record(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// MockMetrics counts observations
type MockMetrics struct {
	mu     sync.Mutex
	stages map[string]int
	runs   int
}

// NewMockMetrics creates a new mock metrics recorder
func NewMockMetrics() *MockMetrics {
	return &MockMetrics{stages: make(map[string]int)}
}

// ObserveStage counts a stage observation by stage and outcome
func (m *MockMetrics) ObserveStage(stage types.Stage, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.stages[fmt.Sprintf("%s/%s", stage, status)]++
}

// ObserveRun counts a run
func (m *MockMetrics) ObserveRun(_ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

// StageCount returns how often stage finished with status
func (m *MockMetrics) StageCount(stage types.Stage, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stages[fmt.Sprintf("%s/%s", stage, status)]
}

// Runs returns the number of observed runs
func (m *MockMetrics) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}
