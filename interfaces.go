package redisclient

import (
	"time"
)

// Field represents a structured log field
type Field struct {
	Key   string
	Value interface{}
}

// Logger interface for custom logging implementations
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// MetricsCollector interface for metrics collection
type MetricsCollector interface {
	// RecordCommand records a completed command round trip with its duration
	RecordCommand(cmd string, duration time.Duration)

	// RecordReconnection records a transparent reconnect after an idle timeout
	RecordReconnection()

	// RecordError records an error event ("connection", "protocol", "server", "pool")
	RecordError(errorType string)

	// RecordPoolWait records how long an Acquire call waited for a slot
	RecordPoolWait(duration time.Duration)
}

// NopLogger discards every message
type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}

// PoolStats describes the slots of one pool
type PoolStats struct {
	Size    int // number of slots
	Created int // slots holding a connection
	Active  int // connections currently checked out
}

// ManagerStats provides pool usage for both directions
type ManagerStats struct {
	Write PoolStats
	Read  PoolStats
}
