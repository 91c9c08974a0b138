package internal

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// SecureLogger provides leveled logging with sensitive data redaction.
// It is safe for use by concurrent download tasks and HTTP handlers.
type SecureLogger struct {
	mu        sync.RWMutex
	logger    *log.Logger
	level     LogLevel
	debug     bool
	quiet     bool
	redactors []Redactor
}

// Redactor defines an interface for redacting sensitive information
type Redactor interface {
	Redact(input string) string
}

// CookieRedactor redacts cookie and credential values from strings
type CookieRedactor struct{}

func (r *CookieRedactor) Redact(input string) string {
	patterns := []string{
		"sessionid=",
		"csrftoken=",
		"ds_user_id=",
		"Cookie:",
		"Set-Cookie:",
		"Authorization:",
		"Bearer ",
	}
	return redactAfter(input, patterns, " ;\r\n")
}

// URLRedactor redacts sensitive URL parameters
type URLRedactor struct{}

func (r *URLRedactor) Redact(input string) string {
	params := []string{
		"access_token=",
		"token=",
		"signature=",
		"sig=",
		"key=",
		"password=",
	}
	return redactAfter(input, params, "& \n")
}

// redactAfter replaces every value that follows one of the patterns, up to
// the first terminator byte.
func redactAfter(input string, patterns []string, terminators string) string {
	result := input
	for _, pattern := range patterns {
		lowerPattern := strings.ToLower(pattern)
		offset := 0
		for {
			index := strings.Index(strings.ToLower(result[offset:]), lowerPattern)
			if index == -1 {
				break
			}
			start := offset + index + len(pattern)
			end := start
			for end < len(result) && !strings.ContainsRune(terminators, rune(result[end])) {
				end++
			}
			if end > start && !strings.HasPrefix(result[start:], "[REDACTED]") {
				result = result[:start] + "[REDACTED]" + result[end:]
				end = start + len("[REDACTED]")
			}
			offset = end
			if offset >= len(result) {
				break
			}
		}
	}
	return result
}

// NewSecureLogger creates a new secure logger
func NewSecureLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	return &SecureLogger{
		logger: log.New(output, "", 0),
		level:  level,
		debug:  debug,
		quiet:  quiet,
		redactors: []Redactor{
			&CookieRedactor{},
			&URLRedactor{},
		},
	}
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger(debug, quiet bool) *SecureLogger {
	level := LogLevelInfo
	if debug {
		level = LogLevelDebug
	}
	if quiet {
		level = LogLevelError
	}

	return NewSecureLogger(os.Stderr, level, debug, quiet)
}

func (sl *SecureLogger) redactSensitiveData(input string) string {
	sl.mu.RLock()
	redactors := sl.redactors
	sl.mu.RUnlock()

	result := input
	for _, redactor := range redactors {
		result = redactor.Redact(result)
	}
	return result
}

// formatMessage formats a log message with timestamp and caller information
func (sl *SecureLogger) formatMessage(level LogLevel, message string, debug bool) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05")

	if debug {
		for depth := 3; depth <= 6; depth++ {
			_, file, line, ok := runtime.Caller(depth)
			if ok && !strings.HasSuffix(file, "logger.go") && !strings.HasSuffix(file, "log.go") {
				parts := strings.Split(file, "/")
				return fmt.Sprintf("[%s] %s %s:%d %s", timestamp, level.String(), parts[len(parts)-1], line, message)
			}
		}
	}

	return fmt.Sprintf("[%s] %s %s", timestamp, level.String(), message)
}

func (sl *SecureLogger) logf(level LogLevel, format string, args ...interface{}) {
	sl.mu.RLock()
	enabled := level <= sl.level && !(sl.quiet && level > LogLevelError)
	debug := sl.debug
	sl.mu.RUnlock()
	if !enabled {
		return
	}

	message := sl.redactSensitiveData(fmt.Sprintf(format, args...))
	sl.logger.Print(sl.formatMessage(level, message, debug))
}

// Enabled reports whether messages of the given level are written
func (sl *SecureLogger) Enabled(level LogLevel) bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return level <= sl.level && !(sl.quiet && level > LogLevelError)
}

// Error logs an error message
func (sl *SecureLogger) Error(format string, args ...interface{}) {
	sl.logf(LogLevelError, format, args...)
}

// Warn logs a warning message
func (sl *SecureLogger) Warn(format string, args ...interface{}) {
	sl.logf(LogLevelWarn, format, args...)
}

// Info logs an info message
func (sl *SecureLogger) Info(format string, args ...interface{}) {
	sl.logf(LogLevelInfo, format, args...)
}

// Debug logs a debug message
func (sl *SecureLogger) Debug(format string, args ...interface{}) {
	sl.logf(LogLevelDebug, format, args...)
}

// LogHTTPRequest logs an outgoing HTTP request with sensitive headers redacted
func (sl *SecureLogger) LogHTTPRequest(req *http.Request) {
	if !sl.Enabled(LogLevelDebug) {
		return
	}
	sl.Debug("HTTP Request: %s %s Headers: %v", req.Method, req.URL.String(), sanitizeHeaders(req.Header))
}

// LogHTTPResponse logs an HTTP response with sensitive headers redacted
func (sl *SecureLogger) LogHTTPResponse(resp *http.Response) {
	if !sl.Enabled(LogLevelDebug) {
		return
	}
	sl.Debug("HTTP Response: %s Headers: %v", resp.Status, sanitizeHeaders(resp.Header))
}

func sanitizeHeaders(header http.Header) map[string]string {
	sanitized := make(map[string]string, len(header))
	for name, values := range header {
		if isSensitiveHeader(name) {
			sanitized[name] = "[REDACTED]"
		} else {
			sanitized[name] = strings.Join(values, ", ")
		}
	}
	return sanitized
}

func isSensitiveHeader(name string) bool {
	sensitiveHeaders := []string{
		"authorization",
		"cookie",
		"x-auth-token",
		"x-api-key",
		"x-csrftoken",
		"token",
	}

	lowerName := strings.ToLower(name)
	for _, sensitive := range sensitiveHeaders {
		if strings.Contains(lowerName, sensitive) {
			return true
		}
	}
	return false
}

// SetLevel sets the logging level
func (sl *SecureLogger) SetLevel(level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.level = level
}

// SetDebug enables or disables debug mode
func (sl *SecureLogger) SetDebug(debug bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.debug = debug
	if debug {
		sl.level = LogLevelDebug
	}
}

// SetQuiet enables or disables quiet mode
func (sl *SecureLogger) SetQuiet(quiet bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.quiet = quiet
	if quiet {
		sl.level = LogLevelError
	}
}

// AddRedactor adds a custom redactor
func (sl *SecureLogger) AddRedactor(redactor Redactor) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.redactors = append(sl.redactors, redactor)
}
