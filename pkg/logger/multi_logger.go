package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogCategory represents different log categories
type LogCategory string

const (
	CategoryTransfer LogCategory = "transfer" // Download state transitions (JSON)
	CategoryError    LogCategory = "error"    // Application errors (JSON)
)

// Categories lists every category written by MultiLogger
var Categories = []LogCategory{CategoryTransfer, CategoryError}

// ValidCategory checks if a category is written by MultiLogger
func ValidCategory(category LogCategory) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// MultiLogger writes categorized JSON logs to daily files in LogsDir
type MultiLogger struct {
	loggers map[LogCategory]*zap.Logger
	files   []*os.File
	config  MultiLoggerConfig
	mu      sync.RWMutex
}

// MultiLoggerConfig contains configuration for multi-output logging
type MultiLoggerConfig struct {
	Level   string // debug, info, warn, error
	LogsDir string // Directory for log files
}

// NewMultiLogger creates a new multi-output logger
func NewMultiLogger(config MultiLoggerConfig) (*MultiLogger, error) {
	if config.LogsDir == "" {
		return nil, fmt.Errorf("logs_dir must be specified")
	}
	if err := os.MkdirAll(config.LogsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	ml := &MultiLogger{
		loggers: make(map[LogCategory]*zap.Logger),
		config:  config,
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	transferLogger, err := ml.createStructuredLogger(CategoryTransfer, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer logger: %w", err)
	}
	ml.loggers[CategoryTransfer] = transferLogger

	errorLogger, err := ml.createStructuredLogger(CategoryError, zapcore.ErrorLevel)
	if err != nil {
		ml.Close()
		return nil, fmt.Errorf("failed to create error logger: %w", err)
	}
	ml.loggers[CategoryError] = errorLogger

	return ml, nil
}

func (ml *MultiLogger) createStructuredLogger(category LogCategory, level zapcore.Level) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"
	encoderConfig.LevelKey = "level"
	encoderConfig.CallerKey = ""

	file, err := os.OpenFile(categoryLogPath(ml.config.LogsDir, category, time.Now()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	ml.files = append(ml.files, file)

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), level)
	return zap.New(core), nil
}

func categoryLogPath(dir string, category LogCategory, date time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", category, date.Format("20060102")))
}

// LogsDir returns the logs directory path
func (ml *MultiLogger) LogsDir() string {
	return ml.config.LogsDir
}

// GetLogger returns the logger for a category, falling back to the error logger
func (ml *MultiLogger) GetLogger(category LogCategory) *zap.Logger {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	if logger, ok := ml.loggers[category]; ok {
		return logger
	}
	return ml.loggers[CategoryError]
}

// LogTransferEvent records a download state transition
func (ml *MultiLogger) LogTransferEvent(event string, fields ...zap.Field) {
	ml.GetLogger(CategoryTransfer).Info(event, fields...)
}

// LogAppError logs an application-level error
func (ml *MultiLogger) LogAppError(msg string, fields ...zap.Field) {
	ml.GetLogger(CategoryError).Error(msg, fields...)
}

// Sync flushes all loggers
func (ml *MultiLogger) Sync() error {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	var lastErr error
	for _, logger := range ml.loggers {
		if err := logger.Sync(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close flushes all loggers and closes their files
func (ml *MultiLogger) Close() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	var lastErr error
	for _, logger := range ml.loggers {
		if err := logger.Sync(); err != nil {
			lastErr = err
		}
	}
	for _, f := range ml.files {
		if err := f.Close(); err != nil {
			lastErr = err
		}
	}
	ml.files = nil
	return lastErr
}
