// Package process handles signals and heartbeats for a running recipe
package process

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/fclpkg/fclrecipe/pkg/logger"
)

// DefaultHeartbeatInterval is how often the heartbeat function runs
const DefaultHeartbeatInterval = 10 * time.Second

// Manager cancels a run on SIGINT/SIGTERM, runs shutdown handlers and keeps
// a heartbeat going while the run is alive
type Manager struct {
	logger            logger.Logger
	shutdownHandlers  []func()
	heartbeatFunc     func()
	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}
	stopSignals       func()
	wg                sync.WaitGroup
	mu                sync.Mutex
	running           bool
	stopping          bool
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		logger:            log,
		heartbeatInterval: DefaultHeartbeatInterval,
	}
}

// RegisterShutdownHandler adds a handler; handlers run in reverse order
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// SetHeartbeat sets the function called every interval while running
func (m *Manager) SetHeartbeat(fn func(), interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeatFunc = fn
	if interval > 0 {
		m.heartbeatInterval = interval
	}
}

// Start returns a context that is cancelled when parent is done or an
// interrupt arrives. Shutdown handlers run once, on the first of those.
func (m *Manager) Start(parent context.Context) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if m.running {
		return ctx
	}
	m.running = true
	m.stopSignals = stop

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-ctx.Done()
		m.mu.Lock()
		interrupted := !m.stopping && parent.Err() == nil
		m.mu.Unlock()
		if interrupted {
			m.logger.Warn("Interrupted, stopping the current stage")
		}
		m.handleShutdown()
	}()

	if m.heartbeatFunc != nil {
		m.heartbeatStop = make(chan struct{})
		m.startHeartbeat(ctx, m.heartbeatFunc, m.heartbeatInterval, m.heartbeatStop)
	}
	return ctx
}

// Stop releases the signal handlers and waits for the manager's goroutines.
// Shutdown handlers that have not run yet run now.
func (m *Manager) Stop() {
	m.mu.Lock()
	stop := m.stopSignals
	if stop == nil {
		m.mu.Unlock()
		return
	}
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	m.stopSignals = nil
	m.stopping = true
	m.mu.Unlock()

	stop()
	m.wg.Wait()
}

// IsRunning reports whether Start was called and shutdown has not happened
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) handleShutdown() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.running = false
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}

func (m *Manager) startHeartbeat(ctx context.Context, fn func(), interval time.Duration, stop <-chan struct{}) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// IsAlive reports whether a process with pid exists. On platforms without
// signal 0 it reports false for every pid but our own.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess opens a handle on Windows and fails for exited processes
	if runtime.GOOS == "windows" {
		_ = proc.Release()
		return true
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
