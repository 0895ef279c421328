// Package logging provides the proxy's diagnostic sink.
//
// Every stage in a session shares one of these loggers. One invariant
// matters here more than anywhere else in this codebase: nothing written
// through a Logger may ever reach the process's stdout or stderr. Those
// file descriptors are the RPC data path (source payload on one end,
// qrexec-client-vm's own stderr on the other); a stray log line on either
// would corrupt the byte stream it shares or leak diagnostic data across
// the trust boundary. Records go to the local syslog daemon, tagged
// "qrexec-proxy", falling back to a local file when syslog is unreachable.
package logging

import (
	"fmt"
	"log/syslog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with convenience methods.
type Logger struct {
	*zap.Logger
}

// Config defines logger configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	// FallbackPath is opened when the local syslog daemon cannot be
	// reached, e.g. a minimal container with no /dev/log.
	FallbackPath string
}

// DefaultConfig returns production-ready logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:        "info",
		Development:  false,
		FallbackPath: "/var/log/qrexec-proxy.log",
	}
}

// DevelopmentConfig returns development logger configuration.
func DevelopmentConfig() Config {
	return Config{
		Level:        "debug",
		Development:  true,
		FallbackPath: "/var/log/qrexec-proxy.log",
	}
}

// New creates a new logger with the provided configuration.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	sink, err := openSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("open diagnostic sink: %w", err)
	}

	core := zapcore.NewCore(encoder(cfg.Development), sink, level)
	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.AddStacktrace(zapcore.WarnLevel))
	}

	return &Logger{Logger: zap.New(core, opts...)}, nil
}

// NewDefault creates a logger with default configuration. If even the
// fallback sink cannot be opened it degrades to a no-op logger: failure to
// log must never become a reason the proxy fails to relay bytes.
func NewDefault() *Logger {
	logger, err := New(DefaultConfig())
	if err != nil {
		return &Logger{Logger: zap.NewNop()}
	}
	return logger
}

// NewDevelopment creates a logger with development configuration.
func NewDevelopment() *Logger {
	logger, err := New(DevelopmentConfig())
	if err != nil {
		return &Logger{Logger: zap.NewNop()}
	}
	return logger
}

// openSink dials the local syslog daemon and falls back to a plain file
// when that fails. Neither path ever touches os.Stdout or os.Stderr.
func openSink(cfg Config) (zapcore.WriteSyncer, error) {
	writer, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "qrexec-proxy")
	if err == nil {
		return zapcore.AddSync(writer), nil
	}

	path := cfg.FallbackPath
	if path == "" {
		path = DefaultConfig().FallbackPath
	}
	f, ferr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if ferr != nil {
		return nil, fmt.Errorf("syslog unavailable (%v) and fallback %s could not be opened: %w", err, path, ferr)
	}
	return zapcore.AddSync(f), nil
}

// parseLevel converts string level to zapcore.Level.
func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// encoder returns the zapcore.Encoder for the given environment: console
// encoding when development is set, JSON otherwise. The choice does not
// depend on whether openSink returned the syslog or the fallback file.
func encoder(development bool) zapcore.Encoder {
	if development {
		return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			CallerKey:      "C",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "M",
			StacktraceKey:  "S",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
	}

	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

// Named returns a child logger scoped to a stage or component name, so
// concurrently-running stages produce attributable journal entries.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

// With attaches structured fields (e.g. session/stage correlation IDs) to
// every subsequent record from the returned logger.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// IsProduction checks if running in production environment.
func IsProduction() bool {
	env := os.Getenv("ENV")
	return env == "production" || env == "prod"
}

// IsDevelopment checks if running in development environment.
func IsDevelopment() bool {
	return !IsProduction()
}
