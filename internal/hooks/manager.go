package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager registers and dispatches hooks for transfer lifecycle events.
// protocol.Sender and protocol.Receiver hold one as their optional Hooks
// collaborator, calling Fire at each state transition worth observing.
type Manager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	logger    *slog.Logger
	config    Config
}

// NewManager creates a new hook manager.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := time.ParseDuration(config.Timeout); err != nil {
		logger.Warn("invalid hook timeout, using default", "timeout", config.Timeout, "error", err)
	}

	m := &Manager{
		hooks:  make(map[EventType][]Hook),
		logger: logger,
		config: config,
		pool:   newExecutionPool(config.Concurrency, logger),
	}

	if config.StdioFormat != "" {
		m.EnableStdioOutput(config.StdioFormat)
	}

	return m
}

// RegisterHook registers a hook for the given event type.
func (m *Manager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("cannot register nil hook")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks[eventType] = append(m.hooks[eventType], hook)
	m.logger.Info("hook registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())
	return nil
}

// UnregisterHook removes a hook by id from the given event type.
func (m *Manager) UnregisterHook(eventType EventType, hookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	registered := m.hooks[eventType]
	for i, h := range registered {
		if h.ID() == hookID {
			m.hooks[eventType] = append(registered[:i], registered[i+1:]...)
			m.logger.Info("hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// Fire builds an Event of the given type carrying fields and triggers every
// hook registered for it. Satisfies the protocol.Hooks interface.
func (m *Manager) Fire(eventType string, fields map[string]any) {
	ev := NewEvent(EventType(eventType))
	for k, v := range fields {
		switch k {
		case "session_id":
			if s, ok := v.(string); ok {
				ev.WithSessionID(s)
				continue
			}
		case "file_name":
			if s, ok := v.(string); ok {
				ev.WithFileName(s)
				continue
			}
		}
		ev.WithData(k, v)
	}
	m.TriggerEvent(context.Background(), *ev)
}

// TriggerEvent executes every hook registered for event.Type.
func (m *Manager) TriggerEvent(ctx context.Context, event Event) {
	if m == nil {
		return
	}

	m.mu.RLock()
	registered := make([]Hook, len(m.hooks[event.Type]))
	copy(registered, m.hooks[event.Type])
	m.mu.RUnlock()

	if m.stdioHook != nil {
		registered = append(registered, m.stdioHook)
	}

	if len(registered) == 0 {
		return
	}

	m.logger.Debug("triggering event", "event_type", event.Type, "hook_count", len(registered), "event", event.String())

	for _, h := range registered {
		m.pool.execute(ctx, h, event)
	}
}

// EnableStdioOutput enables structured stdout/stderr output.
func (m *Manager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("unsupported stdio format: %s", format)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stdioHook = NewStdioHook("stdio", format)
	m.logger.Info("stdio output enabled", "format", format)
	return nil
}

// DisableStdioOutput disables structured stdio output.
func (m *Manager) DisableStdioOutput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = nil
}

// Close shuts the manager down, waiting for pending executions.
func (m *Manager) Close() error {
	if m.pool != nil {
		m.pool.close()
	}
	return nil
}

// executionPool bounds concurrent hook execution.
type executionPool struct {
	workers chan struct{}
	size    int
	active  int
	mu      sync.Mutex
	logger  *slog.Logger
}

func newExecutionPool(size int, logger *slog.Logger) *executionPool {
	if size <= 0 {
		size = 10
	}
	return &executionPool{workers: make(chan struct{}, size), size: size, logger: logger}
}

func (ep *executionPool) execute(ctx context.Context, hook Hook, event Event) {
	go func() {
		ep.workers <- struct{}{}
		defer func() { <-ep.workers }()

		ep.mu.Lock()
		ep.active++
		ep.mu.Unlock()
		defer func() {
			ep.mu.Lock()
			ep.active--
			ep.mu.Unlock()
		}()

		start := time.Now()
		err := hook.Execute(ctx, event)
		duration := time.Since(start)

		if err != nil {
			ep.logger.Error("hook execution failed", "hook_type", hook.Type(), "hook_id", hook.ID(), "event_type", event.Type, "duration_ms", duration.Milliseconds(), "error", err)
		} else {
			ep.logger.Debug("hook executed", "hook_type", hook.Type(), "hook_id", hook.ID(), "event_type", event.Type, "duration_ms", duration.Milliseconds())
		}
	}()
}

func (ep *executionPool) close() {
	for i := 0; i < cap(ep.workers); i++ {
		ep.workers <- struct{}{}
	}
}
