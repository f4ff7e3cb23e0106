package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogSignal logs signal log events
	LogSignalRecorded(ctx context.Context, orgID, userID, actionType, kind, signalID string) error
	LogSignalRejected(ctx context.Context, orgID, userID, actionType string, err error) error

	// LogTier logs tier transition events
	LogTierPromoted(ctx context.Context, orgID, userID, actionType, from, to, reason string) error
	LogTierDemoted(ctx context.Context, orgID, userID, actionType, from, to, reason string) error

	// LogPolicy logs threshold policy events
	LogPolicyUpserted(ctx context.Context, orgID, actionType, fromTier, toTier, actor string) error

	// LogKeyControls logs operator override events
	LogKeyControlsChanged(ctx context.Context, orgID, userID, actionType, actor string) error

	// LogSweep logs sweep completion events
	LogSweepCompleted(ctx context.Context, examined, promoted, demoted int, duration time.Duration) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	// Parse log level
	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	// Create encoder config
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Create application logger with rotation
	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Create audit logger with rotation (always INFO level, append-only)
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel, // Audit logs are always INFO level
	)

	auditZapLogger := zap.New(auditCore)

	// Create the logger instance
	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	// Start auto-flush goroutine
	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Add to buffer
	l.buffer = append(l.buffer, event)

	// Flush if buffer is full
	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	// Write all buffered events
	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	// Clear buffer
	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogSignalRecorded logs when a feedback signal is accepted into the log
func (l *auditLogger) LogSignalRecorded(ctx context.Context, orgID, userID, actionType, kind, signalID string) error {
	event := NewEvent(EventSignalRecorded).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithOrg(orgID).
		WithKey(userID, actionType).
		WithResult(ResultSuccess).
		WithMetadata("kind", kind).
		WithMetadata("signal_id", signalID).
		WithDescription(fmt.Sprintf("Signal %s recorded for %s/%s", kind, userID, actionType))

	return l.Log(ctx, event)
}

// LogSignalRejected logs when a feedback signal fails validation
func (l *auditLogger) LogSignalRejected(ctx context.Context, orgID, userID, actionType string, err error) error {
	event := NewEvent(EventSignalRejected).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithOrg(orgID).
		WithKey(userID, actionType).
		WithError(err, "validation_error").
		WithDescription(fmt.Sprintf("Signal rejected for %s/%s", userID, actionType))

	return l.Log(ctx, event)
}

// LogTierPromoted logs when a key moves up one autonomy tier
func (l *auditLogger) LogTierPromoted(ctx context.Context, orgID, userID, actionType, from, to, reason string) error {
	event := NewEvent(EventTierPromoted).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithOrg(orgID).
		WithKey(userID, actionType).
		WithTiers(from, to).
		WithResult(ResultSuccess).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("Tier promoted %s -> %s for %s/%s", from, to, userID, actionType))

	return l.Log(ctx, event)
}

// LogTierDemoted logs when a key moves down one or more autonomy tiers
func (l *auditLogger) LogTierDemoted(ctx context.Context, orgID, userID, actionType, from, to, reason string) error {
	event := NewEvent(EventTierDemoted).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithOrg(orgID).
		WithKey(userID, actionType).
		WithTiers(from, to).
		WithResult(ResultSuccess).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("Tier demoted %s -> %s for %s/%s", from, to, userID, actionType))

	return l.Log(ctx, event)
}

// LogPolicyUpserted logs when a threshold policy is created or replaced
func (l *auditLogger) LogPolicyUpserted(ctx context.Context, orgID, actionType, fromTier, toTier, actor string) error {
	event := NewEvent(EventPolicyUpserted).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithOrg(orgID).
		WithActor(actor).
		WithTiers(fromTier, toTier).
		WithResult(ResultSuccess).
		WithMetadata("action_type", actionType).
		WithDescription(fmt.Sprintf("Policy upserted for org=%s action=%s %s->%s", orgID, actionType, fromTier, toTier))

	return l.Log(ctx, event)
}

// LogKeyControlsChanged logs operator overrides on a trust key
func (l *auditLogger) LogKeyControlsChanged(ctx context.Context, orgID, userID, actionType, actor string) error {
	event := NewEvent(EventKeyControlsChanged).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithOrg(orgID).
		WithKey(userID, actionType).
		WithActor(actor).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Key controls changed for %s/%s", userID, actionType))

	return l.Log(ctx, event)
}

// LogSweepCompleted logs the outcome of a periodic evaluation sweep
func (l *auditLogger) LogSweepCompleted(ctx context.Context, examined, promoted, demoted int, duration time.Duration) error {
	event := NewEvent(EventSweepCompleted).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("keys_examined", examined).
		WithMetadata("promoted", promoted).
		WithMetadata("demoted", demoted).
		WithDescription(fmt.Sprintf("Sweep examined %d keys (promoted %d, demoted %d)", examined, promoted, demoted))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()

	if err := l.Sync(); err != nil {
		return err
	}

	return nil
}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value("correlation_id").(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, "correlation_id", id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
}
