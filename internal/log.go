package internal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

var (
	globalLogger *SecureLogger
	logFile      *os.File
	loggerMutex  sync.Mutex
)

// InitLogger replaces the process logger. Messages go to config.LogFile when
// set, otherwise to stderr. A log file opened by an earlier call is closed.
func InitLogger(config *Config) error {
	level, err := ParseLogLevel(config.LogLevel)
	if err != nil {
		return NewValidationErrorWithValue("log_level", err.Error(), config.LogLevel).
			WithSuggestion("Use one of debug, info, warn, error")
	}

	var output io.Writer = os.Stderr
	var file *os.File
	if config.LogFile != "" {
		file, err = os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return NewValidationErrorWithValue("log_file", "failed to open log file", config.LogFile).
				WithSuggestion("Check file permissions and path validity")
		}
		output = file
	}

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if logFile != nil {
		logFile.Close()
	}
	logFile = file
	globalLogger = NewSecureLogger(output, level, config.EnableDebug, config.QuietMode)
	if config.EnableDebug {
		globalLogger.SetDebug(true)
	}
	if config.QuietMode {
		globalLogger.SetQuiet(true)
	}
	return nil
}

// CloseLogger releases the log file, if any. Later messages go to stderr.
func CloseLogger() error {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	if globalLogger != nil {
		globalLogger.logger.SetOutput(os.Stderr)
	}
	return err
}

// GetLogger returns the process logger, creating a default one on first use
func GetLogger() *SecureLogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = NewDefaultLogger(false, false)
	}
	return globalLogger
}

// ParseLogLevel converts a level name to a LogLevel. An empty name is info.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", level)
}

// LogError logs an error message using the global logger
func LogError(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// LogWarn logs a warning message using the global logger
func LogWarn(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// LogInfo logs an info message using the global logger
func LogInfo(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// LogDebug logs a debug message using the global logger
func LogDebug(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// LogMediaError logs a MediaError at the level matching its severity
func LogMediaError(err *MediaError) {
	logger := GetLogger()

	switch err.Severity {
	case SeverityCritical:
		logger.Error("CRITICAL: %s", err.DetailedError())
	case SeverityWarning:
		logger.Warn("%s", err.DetailedError())
	case SeverityInfo:
		logger.Info("%s", err.DetailedError())
	default:
		logger.Error("%s", err.DetailedError())
	}
}

// SessionLog writes through the global logger with a download session id
// prefixed to every message.
type SessionLog string

// ForSession returns the logger for one download session
func ForSession(id string) SessionLog { return SessionLog(id) }

func (s SessionLog) args(args []interface{}) []interface{} {
	return append([]interface{}{string(s)}, args...)
}

func (s SessionLog) Error(format string, args ...interface{}) {
	GetLogger().Error("[session %s] "+format, s.args(args)...)
}

func (s SessionLog) Warn(format string, args ...interface{}) {
	GetLogger().Warn("[session %s] "+format, s.args(args)...)
}

func (s SessionLog) Info(format string, args ...interface{}) {
	GetLogger().Info("[session %s] "+format, s.args(args)...)
}

func (s SessionLog) Debug(format string, args ...interface{}) {
	GetLogger().Debug("[session %s] "+format, s.args(args)...)
}
