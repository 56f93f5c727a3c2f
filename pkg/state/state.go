// Package state persists recipe run progress so an interrupted run can resume
// and concurrent runs against one workspace are refused
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/process"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

// ErrLocked is returned by Acquire when a live process owns the state
var ErrLocked = errors.New("workspace is locked by another process")

// HeartbeatTimeout is how old a heartbeat may get before its owner is
// considered dead
const HeartbeatTimeout = 30 * time.Second

// RunStatus is the coarse status of a recipe run
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunState is the persisted progress of one recipe in one workspace
type RunState struct {
	Key            string                        `json:"key"`
	Reference      string                        `json:"reference"`
	RunID          string                        `json:"runId,omitempty"`
	Status         RunStatus                     `json:"status"`
	Completed      []types.Stage                 `json:"completed"`
	Options        map[string]bool               `json:"options,omitempty"`
	Settings       types.Settings                `json:"settings"`
	ProcessID      int                           `json:"processId"`
	Heartbeat      time.Time                     `json:"heartbeat"`
	StartedAt      time.Time                     `json:"startedAt"`
	LastStage      types.Stage                   `json:"lastStage,omitempty"`
	LastError      string                        `json:"lastError,omitempty"`
	StageDurations map[types.Stage]time.Duration `json:"stageDurations,omitempty"`
	RunCount       int                           `json:"runCount"`
	FailureCount   int                           `json:"failureCount"`
}

// HasCompleted reports whether stage is recorded as done
func (s *RunState) HasCompleted(stage types.Stage) bool {
	for _, done := range s.Completed {
		if done == stage {
			return true
		}
	}
	return false
}

func (s *RunState) clone() *RunState {
	c := *s
	c.Completed = append([]types.Stage(nil), s.Completed...)
	c.Options = maps.Clone(s.Options)
	c.StageDurations = maps.Clone(s.StageDurations)
	return &c
}

// StateManager reads and writes state files below one directory
type StateManager struct {
	stateDir string
	logger   logger.Logger
	mu       sync.RWMutex
	states   map[string]*RunState
}

// NewStateManager creates a state manager storing files in stateDir
func NewStateManager(stateDir string, log logger.Logger) *StateManager {
	if log == nil {
		log = logger.Nop()
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Error("Failed to create state directory", logger.WithField("error", err))
	}
	return &StateManager{
		stateDir: stateDir,
		logger:   log,
		states:   make(map[string]*RunState),
	}
}

// Key derives a file-safe state key from a recipe reference and target OS
func Key(reference string, target types.OS) string {
	key := reference
	if target != "" {
		key += "-" + string(target)
	}
	return strings.NewReplacer("/", "-", "@", "-", string(filepath.Separator), "-").Replace(key)
}

// Acquire takes ownership of the state for key. Progress recorded by an
// earlier run is preserved; a state owned by another live process fails
// with ErrLocked.
func (sm *StateManager) Acquire(key, reference string, settings types.Settings) (*RunState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	existing, err := sm.loadStateFile(key)
	if err != nil && !os.IsNotExist(err) {
		sm.logger.Warn("Ignoring unreadable state file",
			logger.WithField("key", key),
			logger.WithField("error", err))
		existing = nil
	}
	if existing != nil && ownedByOther(existing) {
		return nil, fmt.Errorf("%w: pid %d holds %s", ErrLocked, existing.ProcessID, key)
	}
	if err := sm.createLock(key); err != nil {
		return nil, err
	}

	now := time.Now()
	state := &RunState{
		Key:            key,
		Reference:      reference,
		Status:         RunStatusRunning,
		Settings:       settings,
		ProcessID:      os.Getpid(),
		Heartbeat:      now,
		StartedAt:      now,
		StageDurations: make(map[types.Stage]time.Duration),
	}
	if existing != nil && existing.Reference == reference && existing.Settings == settings {
		state.Completed = existing.Completed
		state.Options = existing.Options
		state.RunCount = existing.RunCount
		state.FailureCount = existing.FailureCount
		if existing.StageDurations != nil {
			state.StageDurations = existing.StageDurations
		}
	}
	state.RunCount++

	if err := sm.saveStateFile(state); err != nil {
		sm.removeLock(key)
		return nil, fmt.Errorf("failed to save initial state: %w", err)
	}
	sm.states[key] = state
	return state.clone(), nil
}

// ReadState returns a copy of the state for key
func (sm *StateManager) ReadState(key string) (*RunState, error) {
	sm.mu.RLock()
	if state, ok := sm.states[key]; ok {
		defer sm.mu.RUnlock()
		return state.clone(), nil
	}
	sm.mu.RUnlock()

	return sm.loadStateFile(key)
}

// RecordOptions stores the resolved option values. When they differ from the
// values of the earlier run, every stage from configure on is invalidated
// and returned.
func (sm *StateManager) RecordOptions(key string, options map[string]bool) ([]types.Stage, error) {
	var invalidated []types.Stage
	err := sm.update(key, func(state *RunState) {
		if state.Options != nil && !maps.Equal(state.Options, options) {
			keep := state.Completed[:0]
			for _, stage := range state.Completed {
				if stage.Index() >= types.StageConfigure.Index() {
					invalidated = append(invalidated, stage)
					continue
				}
				keep = append(keep, stage)
			}
			state.Completed = keep
		}
		state.Options = maps.Clone(options)
	})
	return invalidated, err
}

// MarkStage records a completed stage and its duration
func (sm *StateManager) MarkStage(key string, stage types.Stage, duration time.Duration) error {
	return sm.update(key, func(state *RunState) {
		if !state.HasCompleted(stage) {
			state.Completed = append(state.Completed, stage)
			sort.Slice(state.Completed, func(i, j int) bool {
				return state.Completed[i].Index() < state.Completed[j].Index()
			})
		}
		if state.StageDurations == nil {
			state.StageDurations = make(map[types.Stage]time.Duration)
		}
		state.StageDurations[stage] = duration
		state.LastStage = stage
		state.LastError = ""
	})
}

// MarkFailed records the stage that failed and its error
func (sm *StateManager) MarkFailed(key string, stage types.Stage, cause error) error {
	return sm.update(key, func(state *RunState) {
		state.Status = RunStatusFailed
		state.LastStage = stage
		state.FailureCount++
		if cause != nil {
			state.LastError = cause.Error()
		}
	})
}

// Reset forgets all completed stages for key
func (sm *StateManager) Reset(key string) error {
	return sm.update(key, func(state *RunState) {
		state.Completed = nil
		state.StageDurations = make(map[types.Stage]time.Duration)
		state.LastError = ""
	})
}

// Release gives up ownership of key and records the final status
func (sm *StateManager) Release(key string, status RunStatus) error {
	err := sm.update(key, func(state *RunState) {
		if status == RunStatusSucceeded && state.Status == RunStatusFailed {
			status = RunStatusFailed
		}
		state.Status = status
		state.ProcessID = 0
	})

	sm.mu.Lock()
	delete(sm.states, key)
	sm.removeLock(key)
	sm.mu.Unlock()
	return err
}

// RemoveState deletes the state for key
func (sm *StateManager) RemoveState(key string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.states, key)
	sm.removeLock(key)
	if err := os.Remove(sm.getStateFilePath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// IsLocked checks whether another live process owns key
func (sm *StateManager) IsLocked(key string) (bool, error) {
	if _, held := sm.lockOwner(key); held {
		return true, nil
	}
	state, err := sm.loadStateFile(key)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return ownedByOther(state), nil
}

// DiscoverStates loads every state file in the directory
func (sm *StateManager) DiscoverStates() (map[string]*RunState, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	states := make(map[string]*RunState)
	files, err := os.ReadDir(sm.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		key := strings.TrimSuffix(file.Name(), ".json")
		state, err := sm.loadStateFile(key)
		if err != nil {
			sm.logger.Warn("Failed to load state file",
				logger.WithField("key", key),
				logger.WithField("error", err))
			continue
		}
		states[key] = state
	}
	return states, nil
}

// UpdateHeartbeats refreshes the heartbeat of every state this process owns
func (sm *StateManager) UpdateHeartbeats() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for _, state := range sm.states {
		state.Heartbeat = now
		_ = os.Chtimes(sm.getLockFilePath(state.Key), now, now)
		if err := sm.saveStateFile(state); err != nil {
			sm.logger.Debug("Failed to update heartbeat",
				logger.WithField("key", state.Key),
				logger.WithField("error", err))
		}
	}
}

// Cleanup releases every state still owned by this process as idle
func (sm *StateManager) Cleanup() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for key, state := range sm.states {
		if state.Status == RunStatusRunning {
			state.Status = RunStatusIdle
		}
		state.ProcessID = 0
		if err := sm.saveStateFile(state); err != nil {
			sm.logger.Warn("Failed to save final state",
				logger.WithField("key", key),
				logger.WithField("error", err))
		}
		sm.removeLock(key)
		delete(sm.states, key)
	}
	return nil
}

func ownedByOther(state *RunState) bool {
	if state.ProcessID == 0 || state.ProcessID == os.Getpid() {
		return false
	}
	if time.Since(state.Heartbeat) > HeartbeatTimeout {
		return false
	}
	return process.IsAlive(state.ProcessID)
}

func (sm *StateManager) update(key string, apply func(*RunState)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state, ok := sm.states[key]
	if !ok {
		loaded, err := sm.loadStateFile(key)
		if err != nil {
			return fmt.Errorf("state not found: %s", key)
		}
		state = loaded
		sm.states[key] = state
	}

	apply(state)
	state.Heartbeat = time.Now()
	return sm.saveStateFile(state)
}

// createLock creates the lock file for key exclusively. A lock left behind by
// a dead process, or one whose heartbeat stopped, is removed and taken over.
func (sm *StateManager) createLock(key string) error {
	path := sm.getLockFilePath(key)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(path)
				return fmt.Errorf("failed to write lock file: %w", werr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		pid, held := sm.lockOwner(key)
		if pid == os.Getpid() {
			return nil
		}
		if held {
			return fmt.Errorf("%w: pid %d holds %s", ErrLocked, pid, key)
		}
		sm.logger.Warn("Removing stale lock", logger.WithField("key", key), logger.WithField("pid", pid))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return fmt.Errorf("%w: %s", ErrLocked, key)
}

// lockOwner reads the pid in the lock file for key and reports whether
// another live process holds it. A lock without a pid yet is held while it
// is fresh.
func (sm *StateManager) lockOwner(key string) (int, bool) {
	path := sm.getLockFilePath(key)
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	fresh := time.Since(info.ModTime()) <= HeartbeatTimeout

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fresh
	}
	if pid == os.Getpid() {
		return pid, false
	}
	return pid, fresh && process.IsAlive(pid)
}

// removeLock deletes the lock file for key when this process owns it
func (sm *StateManager) removeLock(key string) {
	path := sm.getLockFilePath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err != nil || pid != os.Getpid() {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		sm.logger.Debug("Failed to remove lock file", logger.WithField("key", key), logger.WithField("error", err))
	}
}

func (sm *StateManager) getLockFilePath(key string) string {
	return filepath.Join(sm.stateDir, key+".lock")
}

func (sm *StateManager) getStateFilePath(key string) string {
	return filepath.Join(sm.stateDir, key+".json")
}

func (sm *StateManager) loadStateFile(key string) (*RunState, error) {
	data, err := os.ReadFile(sm.getStateFilePath(key))
	if err != nil {
		return nil, err
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &state, nil
}

func (sm *StateManager) saveStateFile(state *RunState) error {
	stateFile := sm.getStateFilePath(state.Key)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}
