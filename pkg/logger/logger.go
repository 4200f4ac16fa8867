// Package logger provides the process-wide logging capability for the gateway.
//
// It is a thin singleton shim over zap so that packages can log without
// threading a logger through every constructor. Call Initialize once at
// startup; tests may call Set to capture output.
package logger

import (
	"os"
	"regexp"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// singleton is the package-level logger created by Initialize.
// Accessed atomically to be safe for concurrent use across goroutines.
var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	// Set a default logger so callers that skip Initialize() don't panic.
	l, _ := zap.NewProduction()
	singleton.Store(l.Sugar())
}

func get() *zap.SugaredLogger {
	return singleton.Load()
}

// Get returns the underlying *zap.SugaredLogger for injection into structs.
func Get() *zap.SugaredLogger {
	return get()
}

// Set replaces the singleton logger. This is intended for tests that need to
// capture log output; production code should use Initialize instead.
func Set(l *zap.SugaredLogger) {
	singleton.Store(l)
}

// Debug logs a message at debug level using the singleton logger.
func Debug(msg string) { get().Debug(msg) }

// Debugf logs a formatted message at debug level using the singleton logger.
func Debugf(msg string, args ...any) { get().Debugf(msg, args...) }

// Debugw logs a message at debug level with additional key-value pairs.
func Debugw(msg string, keysAndValues ...any) { get().Debugw(msg, RedactKV(keysAndValues)...) }

// Info logs a message at info level using the singleton logger.
func Info(msg string) { get().Info(msg) }

// Infof logs a formatted message at info level using the singleton logger.
func Infof(msg string, args ...any) { get().Infof(msg, args...) }

// Infow logs a message at info level with additional key-value pairs.
func Infow(msg string, keysAndValues ...any) { get().Infow(msg, RedactKV(keysAndValues)...) }

// Warn logs a message at warning level using the singleton logger.
func Warn(msg string) { get().Warn(msg) }

// Warnf logs a formatted message at warning level using the singleton logger.
func Warnf(msg string, args ...any) { get().Warnf(msg, args...) }

// Warnw logs a message at warning level with additional key-value pairs.
func Warnw(msg string, keysAndValues ...any) { get().Warnw(msg, RedactKV(keysAndValues)...) }

// Error logs a message at error level using the singleton logger.
func Error(msg string) { get().Error(msg) }

// Errorf logs a formatted message at error level using the singleton logger.
func Errorf(msg string, args ...any) { get().Errorf(msg, args...) }

// Errorw logs a message at error level with additional key-value pairs.
func Errorw(msg string, keysAndValues ...any) { get().Errorw(msg, RedactKV(keysAndValues)...) }

// Fatalf logs a formatted message at error level and exits the program.
func Fatalf(msg string, args ...any) {
	get().Errorf(msg, args...)
	os.Exit(1)
}

// Initialize creates and configures the appropriate logger.
// If the UNSTRUCTURED_LOGS env var is set to true, it will output plain text.
// Otherwise it will create a standard structured JSON logger.
func Initialize() {
	level := zap.InfoLevel
	if debug, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && debug {
		level = zap.DebugLevel
	}

	var cfg zap.Config
	if unstructuredLogs() {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	l, err := cfg.Build()
	if err != nil {
		// Keep the default logger rather than crashing on a config issue.
		get().Errorf("failed to build logger: %v", err)
		return
	}
	singleton.Store(l.Sugar())
}

func unstructuredLogs() bool {
	unstructured, err := strconv.ParseBool(os.Getenv("UNSTRUCTURED_LOGS"))
	if err != nil {
		// Env var unset or empty; default to structured output in the
		// hosted environment.
		return false
	}
	return unstructured
}

// secretKeyPattern matches key names whose values must never reach a log
// line: OAuth tokens, Authorization headers, workspace-configured secrets.
var secretKeyPattern = regexp.MustCompile(`(?i)token|secret|key|authorization|bearer`)

// RedactKV returns a copy of the key-value pairs with every value whose key
// matches the secret pattern replaced by "[REDACTED]". Keys that are not
// strings are passed through untouched.
func RedactKV(keysAndValues []any) []any {
	out := make([]any, len(keysAndValues))
	copy(out, keysAndValues)
	for i := 0; i+1 < len(out); i += 2 {
		k, ok := out[i].(string)
		if !ok {
			continue
		}
		if secretKeyPattern.MatchString(k) {
			out[i+1] = "[REDACTED]"
		}
	}
	return out
}

// RedactHeaders returns a copy of an outbound header map safe for logging.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if secretKeyPattern.MatchString(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}
