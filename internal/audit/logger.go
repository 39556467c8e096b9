// Package audit provides asynchronous audit logging for authorization
// decisions and administrative mutations.
package audit

import (
	"context"
	"fmt"
	"time"
)

// Logger logs audit events
type Logger interface {
	// LogDecision logs one permission evaluation
	LogDecision(ctx context.Context, event *DecisionEvent)

	// LogMutation logs a policy, role, or assignment change
	LogMutation(ctx context.Context, event *MutationEvent)

	// Flush flushes pending logs
	Flush() error

	// Close closes logger and flushes remaining logs
	Close() error
}

// Config for audit logger
type Config struct {
	// Enabled enables audit logging
	Enabled bool

	// Output type: stdout or file
	Type string

	// For file output
	FilePath       string
	FileMaxSize    int // MB
	FileMaxAge     int // Days
	FileMaxBackups int

	// Performance tuning
	BufferSize    int           // Ring buffer size (default: 1000)
	FlushInterval time.Duration // Batch interval (default: 100ms)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           "stdout",
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		FileMaxSize:    100,
		FileMaxAge:     30,
		FileMaxBackups: 10,
	}
}

// NewLogger creates an audit logger per the configuration. A disabled
// configuration yields a no-op logger.
func NewLogger(cfg Config) (Logger, error) {
	if !cfg.Enabled {
		return NopLogger{}, nil
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}

	var writer Writer
	var err error
	switch cfg.Type {
	case "", "stdout":
		writer = NewStdoutWriter()
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("audit: file output requires a path")
		}
		writer, err = NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
	default:
		return nil, fmt.Errorf("audit: unknown output type %q", cfg.Type)
	}

	return newAsyncLogger(writer, cfg), nil
}

// NopLogger discards all events
type NopLogger struct{}

func (NopLogger) LogDecision(ctx context.Context, event *DecisionEvent) {}
func (NopLogger) LogMutation(ctx context.Context, event *MutationEvent) {}
func (NopLogger) Flush() error                                          { return nil }
func (NopLogger) Close() error                                          { return nil }
