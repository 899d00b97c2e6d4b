// Package observability provides logging, metrics, and tracing for the
// event bus.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - A Collector of bus counters, mirrored to OpenTelemetry metrics
//   - Publish and dispatch spans via OpenTelemetry tracing
//
// OpenTelemetry export is opt-in and has no-op implementations when disabled.
// The Collector always keeps its in-process counters.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds bus context to a logger.
// Returns a new logger with component and source fields.
func EnrichLogger(logger *slog.Logger, source string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("component", "eventbus"),
		slog.String("source", source),
	)
}

// LogPublished logs an accepted publish.
func LogPublished(logger *slog.Logger, eventID, kind string) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("event_id", eventID),
		slog.String("kind", kind),
	)
}

// LogFiltered logs a publish rejected by the global filter.
func LogFiltered(logger *slog.Logger, kind string) {
	if logger == nil {
		return
	}
	logger.Debug("event rejected by filter",
		slog.String("kind", kind),
	)
}

// LogPersistenceError logs a failed log write (non-fatal).
func LogPersistenceError(logger *slog.Logger, eventID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event log write failed",
		slog.String("event_id", eventID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogHandlerError logs a failed handler. Dispatch continues.
func LogHandlerError(logger *slog.Logger, eventID, kind, subscriptionID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("handler failed",
		slog.String("event_id", eventID),
		slog.String("kind", kind),
		slog.String("subscription_id", subscriptionID),
		slog.String("error", err.Error()),
	)
}

// LogDispatchComplete logs the end of dispatch for one envelope.
func LogDispatchComplete(logger *slog.Logger, eventID, kind string, handlers, failed int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event dispatched",
		slog.String("event_id", eventID),
		slog.String("kind", kind),
		slog.Int("handlers", handlers),
		slog.Int("handlers_failed", failed),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDispatchFault logs a failure outside any handler. The envelope is
// marked failed and the worker moves on.
func LogDispatchFault(logger *slog.Logger, eventID, kind string, err error) {
	if logger == nil {
		return
	}
	logger.Error("dispatch failed",
		slog.String("event_id", eventID),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}

// LogResubmitted logs the outcome of a replay or retry pass.
func LogResubmitted(logger *slog.Logger, op string, matched, resubmitted int) {
	if logger == nil {
		return
	}
	logger.Info("events resubmitted",
		slog.String("operation", op),
		slog.Int("matched", matched),
		slog.Int("resubmitted", resubmitted),
	)
}

// LogCleanup logs a retention sweep.
func LogCleanup(logger *slog.Logger, retentionDays int, deleted int64) {
	if logger == nil {
		return
	}
	logger.Info("event log cleanup",
		slog.Int("retention_days", retentionDays),
		slog.Int64("deleted", deleted),
	)
}

// LogShutdown logs bus shutdown.
func LogShutdown(logger *slog.Logger, pending int, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("event bus shutdown incomplete",
			slog.Int("pending", pending),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("event bus stopped")
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}

// Milliseconds converts a duration to fractional milliseconds for logging.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
