package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a global logger instance
var Logger *zap.Logger

// Options controls how the global logger is built
type Options struct {
	Env   string // "production" or "development"
	Level string // debug, info, warn, error
	File  string // optional JSON-lines log file; stderr when empty
}

// Init initializes the global logger.
// Output never goes to stdout: the terminal line belongs to the progress indicator.
func Init(opts Options) error {
	var config zap.Config

	if opts.Env == "production" || opts.File != "" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return err
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if opts.File != "" {
		config.OutputPaths = []string{opts.File}
	}

	var err error
	Logger, err = config.Build()
	if err != nil {
		return err
	}

	return nil
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Get returns the global logger instance
func Get() *zap.Logger {
	if Logger == nil {
		// Fallback to a basic logger if not initialized
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		logger, err := cfg.Build()
		if err != nil {
			return zap.New(zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.Lock(os.Stderr),
				zap.DebugLevel,
			))
		}
		return logger
	}
	return Logger
}

// ForSession returns a child logger tagged with the session id.
// The read_logs tool filters the JSON log file on this field.
func ForSession(base *zap.Logger, sessionID string) *zap.Logger {
	if base == nil {
		base = Get()
	}
	return base.With(zap.String(SessionField, sessionID))
}

// SessionField is the structured field name carrying the session id
const SessionField = "session_id"
