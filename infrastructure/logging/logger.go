// Package logging provides structured logging with trace ID support
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys
type ContextKey string

// TraceIDKey is the context key for trace ID
const TraceIDKey ContextKey = "trace_id"

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance
func New(service, level, format string) *Logger {
	logger := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set formatter
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger:  logger,
		service: service,
	}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment variables.
// Defaults to "info" and "json" when unset.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext creates a new logger entry with context values
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}

	return entry
}

// WithFields creates a new logger entry with custom fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError creates a new logger entry with error
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"error":   err.Error(),
	})
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Info(message)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Warn(message)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.WithFields(fields).Error(message)
}

// Context helper functions

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// Gateway-specific structured logging helpers

// LogSessionTransition logs a session status/runtime_state transition.
func (l *Logger) LogSessionTransition(ctx context.Context, sessionID, fromStatus, toStatus string, version int) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"session_id":  sessionID,
		"from_status": fromStatus,
		"to_status":   toStatus,
		"version":     version,
	}).Info("session transition")
}

// LogChallengeIssued logs the creation of a pending-signature challenge.
func (l *Logger) LogChallengeIssued(ctx context.Context, sessionID, walletAddress string, expiresAt time.Time) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"session_id":     sessionID,
		"wallet_address": walletAddress,
		"expires_at":     expiresAt.Format(time.RFC3339),
	}).Info("challenge issued")
}

// LogSignatureVerification logs the outcome of a wallet signature check. The
// signature itself is never logged.
func (l *Logger) LogSignatureVerification(ctx context.Context, sessionID string, ok bool, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"session_id": sessionID,
		"ok":         ok,
	})
	if err != nil {
		entry.WithError(err).Warn("signature verification failed")
		return
	}
	entry.Info("signature verified")
}

// LogProvisioning logs a provisioning dispatch outcome.
func (l *Logger) LogProvisioning(ctx context.Context, sessionID, source string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"session_id":          sessionID,
		"provisioning_source": source,
		"duration_ms":         duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("provisioning failed")
		return
	}
	entry.Info("provisioning succeeded")
}

// LogOnboardingTurn logs an onboarding conversation turn transition.
func (l *Logger) LogOnboardingTurn(ctx context.Context, sessionID, fromStep, toStep string, missingFields []string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"session_id":     sessionID,
		"from_step":      fromStep,
		"to_step":        toStep,
		"missing_fields": missingFields,
	}).Info("onboarding turn")
}

// LogRuntimeControl logs a runtime control action application or rejection.
func (l *Logger) LogRuntimeControl(ctx context.Context, sessionID, action, fromState, toState string, blocked bool) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"session_id": sessionID,
		"action":     action,
		"from_state": fromState,
		"to_state":   toState,
		"blocked":    blocked,
	})
	if blocked {
		entry.Warn("runtime control blocked")
		return
	}
	entry.Info("runtime control applied")
}

// LogEventBusOverflow logs a subscriber queue overflow on the event bus.
func (l *Logger) LogEventBusOverflow(ctx context.Context, channel string, droppedCount int) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"channel":       channel,
		"dropped_count": droppedCount,
	}).Warn("event bus subscriber queue overflow")
}
