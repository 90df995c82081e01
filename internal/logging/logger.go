// internal/logging/logger.go
package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Context keys
type contextKey string

var (
	ContextKeyRequestID = contextKey("request_id")
	ContextKeyRunID     = contextKey("run_id")
	contextKeyLogger    = contextKey("logger")
)

// LoggerConfig configures a logger
type LoggerConfig struct {
	Level  string    `yaml:"level" json:"level"`
	Format string    `yaml:"format" json:"format"`
	Output io.Writer `yaml:"-" json:"-"`
}

// Validate checks configuration
func (c *LoggerConfig) Validate() error {
	switch c.Level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, "":
	default:
		return fmt.Errorf("logging: invalid level: %s", c.Level)
	}
	switch c.Format {
	case FormatJSON, FormatConsole, "":
	default:
		return fmt.Errorf("logging: invalid format: %s", c.Format)
	}
	return nil
}

// ApplyDefaults fills in default values
func (c *LoggerConfig) ApplyDefaults() {
	if c.Level == "" {
		c.Level = LevelInfo
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
}

func (c *LoggerConfig) zapLevel() zapcore.Level {
	switch c.Level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a zap logger. JSON output uses the production encoder,
// console output the development one.
func New(config *LoggerConfig) (*zap.Logger, error) {
	if config == nil {
		config = &LoggerConfig{}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	var encoder zapcore.Encoder
	if config.Format == FormatConsole {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(config.Output)), config.zapLevel())
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// WithContext returns ctx carrying logger.
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, contextKeyLogger, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger. Request
// and run ids found in ctx are attached as fields.
func FromContext(ctx context.Context) *zap.Logger {
	logger, ok := ctx.Value(contextKeyLogger).(*zap.Logger)
	if !ok || logger == nil {
		logger = zap.NewNop()
	}
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok && id != "" {
		logger = logger.With(zap.String("request_id", id))
	}
	if id, ok := ctx.Value(ContextKeyRunID).(string); ok && id != "" {
		logger = logger.With(zap.String("run_id", id))
	}
	return logger
}
