package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

// ReloadCallback receives the reloaded recipe, or the error that prevented it
type ReloadCallback func(*Recipe, error)

// ReloadEventType represents the type of reload event
type ReloadEventType string

const (
	ReloadEventTypeModified ReloadEventType = "modified"
	ReloadEventTypeCreated  ReloadEventType = "created"
	ReloadEventTypeRemoved  ReloadEventType = "removed"
	ReloadEventTypeError    ReloadEventType = "error"
)

// ReloadManager watches a recipe file and reloads it after edits settle
type ReloadManager struct {
	recipePath     string
	manager        *Manager
	logger         logger.Logger
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	lastModTime    time.Time
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	mu             sync.RWMutex
	cancel         context.CancelFunc
	isWatching     bool
}

// NewReloadManager creates a reload manager for recipePath
func NewReloadManager(recipePath string, log logger.Logger) *ReloadManager {
	if log == nil {
		log = logger.Nop()
	}
	return &ReloadManager{
		recipePath:     recipePath,
		manager:        NewManager(),
		logger:         log,
		debouncePeriod: 500 * time.Millisecond,
	}
}

// AddCallback registers a reload callback
func (rm *ReloadManager) AddCallback(callback ReloadCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.callbacks = append(rm.callbacks, callback)
}

// SetDebouncePeriod sets how long edits must settle before a reload
func (rm *ReloadManager) SetDebouncePeriod(period time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.debouncePeriod = period
}

// StartWatching watches the recipe's directory until ctx is done or
// StopWatching is called
func (rm *ReloadManager) StartWatching(ctx context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isWatching {
		return fmt.Errorf("already watching %s", rm.recipePath)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// editors replace files atomically, so watch the directory
	if err := watcher.Add(filepath.Dir(rm.recipePath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch recipe directory: %w", err)
	}

	if stat, err := os.Stat(rm.recipePath); err == nil {
		rm.lastModTime = stat.ModTime()
	}

	watchCtx, cancel := context.WithCancel(ctx)
	rm.watcher = watcher
	rm.cancel = cancel
	rm.isWatching = true

	go rm.watchLoop(watchCtx, watcher)

	rm.logger.Debug("Started watching recipe file", logger.WithField("path", rm.recipePath))
	return nil
}

// StopWatching stops the watcher
func (rm *ReloadManager) StopWatching() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.isWatching {
		return nil
	}

	rm.cancel()
	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
		rm.debounceTimer = nil
	}

	err := rm.watcher.Close()
	rm.watcher = nil
	rm.isWatching = false

	rm.logger.Debug("Stopped watching recipe file")
	return err
}

// IsWatching returns whether the manager is currently watching
func (rm *ReloadManager) IsWatching() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.isWatching
}

// TriggerReload reloads immediately, ignoring modification times
func (rm *ReloadManager) TriggerReload() {
	rm.mu.Lock()
	rm.lastModTime = time.Time{}
	rm.mu.Unlock()
	rm.handleChange(ReloadEventTypeModified)
}

func (rm *ReloadManager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		if r := recover(); r != nil {
			rm.logger.Error("Recipe watcher panic recovered", logger.WithField("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !rm.isRecipeEvent(event.Name) {
				continue
			}
			rm.logger.Debug("Recipe file event", logger.WithField("event", event.String()))
			rm.debounce(mapEvent(event.Op))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			rm.logger.Error("Recipe watcher error", logger.WithField("error", err))
			rm.notify(nil, err)
		}
	}
}

func (rm *ReloadManager) isRecipeEvent(eventPath string) bool {
	name := filepath.Base(rm.recipePath)
	eventName := filepath.Base(eventPath)
	return eventName == name || strings.HasPrefix(eventName, name+".")
}

func mapEvent(op fsnotify.Op) ReloadEventType {
	switch {
	case op&fsnotify.Write == fsnotify.Write:
		return ReloadEventTypeModified
	case op&fsnotify.Create == fsnotify.Create:
		return ReloadEventTypeCreated
	case op&fsnotify.Remove == fsnotify.Remove:
		return ReloadEventTypeRemoved
	default:
		return ReloadEventTypeModified
	}
}

func (rm *ReloadManager) debounce(eventType ReloadEventType) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
	}
	rm.debounceTimer = time.AfterFunc(rm.debouncePeriod, func() {
		rm.handleChange(eventType)
	})
}

func (rm *ReloadManager) handleChange(eventType ReloadEventType) {
	stat, err := os.Stat(rm.recipePath)
	if eventType == ReloadEventTypeRemoved || os.IsNotExist(err) {
		rm.notify(nil, fmt.Errorf("recipe file was removed: %s", rm.recipePath))
		return
	}
	if err != nil {
		rm.notify(nil, err)
		return
	}

	rm.mu.Lock()
	if !stat.ModTime().After(rm.lastModTime) {
		rm.mu.Unlock()
		return
	}
	rm.lastModTime = stat.ModTime()
	rm.mu.Unlock()

	recipe, err := rm.manager.LoadRecipe(rm.recipePath)
	if err != nil {
		rm.logger.Error("Failed to reload recipe", logger.WithField("error", err))
		rm.notify(nil, err)
		return
	}

	rm.logger.Info("Recipe reloaded", logger.WithField("reference", recipe.Descriptor.Reference()))
	rm.notify(recipe, nil)
}

func (rm *ReloadManager) notify(recipe *Recipe, err error) {
	rm.mu.RLock()
	callbacks := make([]ReloadCallback, len(rm.callbacks))
	copy(callbacks, rm.callbacks)
	rm.mu.RUnlock()

	for _, callback := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					rm.logger.Error("Reload callback panic recovered", logger.WithField("panic", r))
				}
			}()
			callback(recipe, err)
		}()
	}
}
