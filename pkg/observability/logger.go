package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	return []string{"DEBUG", "INFO", "WARN", "ERROR"}[l]
}

// Logger provides structured JSON logging
type Logger struct {
	level  LogLevel
	output io.Writer
	fields map[string]interface{}
}

// NewLogger creates a new structured logger
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		level:  level,
		output: output,
		fields: make(map[string]interface{}),
	}
}

// LogEntry represents a single log entry. WebhookID and EventID are pulled
// from context so call sites deep in the delivery path don't need to thread
// them through every log call by hand.
type LogEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	WebhookID  string                 `json:"webhook_id,omitempty"`
	EventID    string                 `json:"event_id,omitempty"`
	Error      string                 `json:"error,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newLogger := &Logger{
		level:  l.level,
		output: l.output,
		fields: make(map[string]interface{}),
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	newLogger.fields[key] = value
	return newLogger
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newLogger := &Logger{
		level:  l.level,
		output: l.output,
		fields: make(map[string]interface{}),
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	for k, v := range fields {
		newLogger.fields[k] = v
	}
	return newLogger
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// WithWebhook scopes the logger to a single webhook, the way delivery and
// retry logging wants to tag every line with which webhook it concerns.
func (l *Logger) WithWebhook(webhookID string) *Logger {
	return l.WithField("webhook_id", webhookID)
}

// WithEvent scopes the logger to a single webhook event.
func (l *Logger) WithEvent(webhookID, eventID string) *Logger {
	return l.WithWebhook(webhookID).WithField("event_id", eventID)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(DebugLevel, message, nil)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...), nil)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(InfoLevel, message, nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(WarnLevel, message, nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...), nil)
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.log(ErrorLevel, message, nil)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

// log writes a log entry
func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	// Add logger context fields
	for k, v := range l.fields {
		entry.Fields[k] = v
	}

	// Add additional fields
	for k, v := range fields {
		entry.Fields[k] = v
	}

	// Lift webhook_id/event_id out of the field bag into their own columns,
	// since those two are what every delivery/retry log line is keyed by.
	if v, ok := entry.Fields["webhook_id"].(string); ok {
		entry.WebhookID = v
		delete(entry.Fields, "webhook_id")
	}
	if v, ok := entry.Fields["event_id"].(string); ok {
		entry.EventID = v
		delete(entry.Fields, "event_id")
	}

	// Marshal to JSON
	data, err := json.Marshal(entry)
	if err != nil {
		// Fallback to simple output
		fmt.Fprintf(l.output, "[%s] %s: %s\n", entry.Timestamp.Format(time.RFC3339), level.String(), message)
		return
	}

	l.output.Write(data)
	l.output.Write([]byte("\n"))
}

// contextKey is the type for context keys
type contextKey string

const (
	// WebhookIDKey is the context key for the webhook a request/operation
	// concerns.
	WebhookIDKey contextKey = "webhook_id"
	// EventIDKey is the context key for the webhook event in flight.
	EventIDKey contextKey = "event_id"
	// LoggerKey is the context key for the logger
	LoggerKey contextKey = "logger"
)

// WithWebhookID attaches a webhook id to the context.
func WithWebhookID(ctx context.Context, webhookID string) context.Context {
	return context.WithValue(ctx, WebhookIDKey, webhookID)
}

// GetWebhookID retrieves the webhook id from context.
func GetWebhookID(ctx context.Context) string {
	if id, ok := ctx.Value(WebhookIDKey).(string); ok {
		return id
	}
	return ""
}

// WithEventID attaches an event id to the context.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

// GetEventID retrieves the event id from context.
func GetEventID(ctx context.Context) string {
	if id, ok := ctx.Value(EventIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetLogger retrieves the logger from context
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger(InfoLevel, os.Stdout)
}

// FromContext creates a logger scoped to whichever webhook/event ids are
// set on ctx, for use at delivery/retry call sites that only have a
// context to work from.
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)

	if webhookID := GetWebhookID(ctx); webhookID != "" {
		logger = logger.WithWebhook(webhookID)
	}

	if eventID := GetEventID(ctx); eventID != "" {
		logger = logger.WithField("event_id", eventID)
	}

	return logger
}
