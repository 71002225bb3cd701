package hooks

import "context"

// Hook represents a handler invoked when a lifecycle event occurs.
type Hook interface {
	Execute(ctx context.Context, event Event) error
	Type() string
	ID() string
}

// Config configures a Manager.
type Config struct {
	// Timeout is a duration string (default: 30s). NewManager only checks
	// that it parses; each hook applies the timeout it was constructed with.
	Timeout string `json:"timeout"`
	// Concurrency bounds simultaneous hook executions (default: 10).
	Concurrency int `json:"concurrency"`
	// StdioFormat enables structured stdio output ("json", "env", or "").
	StdioFormat string `json:"stdio_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     "30s",
		Concurrency: 10,
		StdioFormat: "",
	}
}
