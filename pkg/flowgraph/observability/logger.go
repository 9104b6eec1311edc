// Package observability provides structured logging, metrics, and tracing
// for graph execution.
//
// Logging uses slog. Metrics and tracing use the global OpenTelemetry
// providers, so the host process decides where they are exported. Each
// concern has a no-op implementation for when it is disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger scopes a logger to one node execution within a thread.
func EnrichLogger(logger *slog.Logger, threadID, nodeID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("thread_id", threadID),
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
	)
}

// LogRunStart logs the start of a run, either fresh or resumed at fromNode.
func LogRunStart(logger *slog.Logger, threadID, fromNode string) {
	if logger == nil {
		return
	}
	logger.Info("graph run starting",
		slog.String("thread_id", threadID),
		slog.String("from_node", fromNode),
	)
}

// LogRunComplete logs a run that reached END.
func LogRunComplete(logger *slog.Logger, threadID string, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.String("thread_id", threadID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunError logs a run that failed.
func LogRunError(logger *slog.Logger, threadID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String("thread_id", threadID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogSuspend logs a run pausing before an interrupt node.
func LogSuspend(logger *slog.Logger, threadID, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("graph run suspended",
		slog.String("thread_id", threadID),
		slog.String("before_node", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogResume logs a run continuing from a stored checkpoint.
func LogResume(logger *slog.Logger, threadID, nodeID string, sequence int) {
	if logger == nil {
		return
	}
	logger.Info("graph run resuming",
		slog.String("thread_id", threadID),
		slog.String("next_node", nodeID),
		slog.Int("sequence", sequence),
	)
}

func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting", slog.String("node_id", nodeID))
}

func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs a checkpoint write.
func LogCheckpoint(logger *slog.Logger, nodeID, nextNode string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.String("next_node", nextNode),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a checkpoint failure. Whether the failure stops
// the run is decided by the caller.
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation returns a func reporting milliseconds since the call.
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
