package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys shared by every job log line.
const (
	FieldJobID     = "job_id"
	FieldOperation = "operation"
)

// NewLogger creates the engine logger for the given environment.
// prod writes JSON, local/dev/docker write colored console lines, test discards everything.
// Output always goes to stderr: stdout belongs to the CLI's JSON results.
// levelOverride (if non-empty) overrides the log level: debug, info, warn, error.
func NewLogger(env string, levelOverride ...string) (*zap.Logger, error) {
	cfg, err := configFor(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return zap.NewNop(), nil
	}

	if len(levelOverride) > 0 && levelOverride[0] != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(levelOverride[0])); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", levelOverride[0], err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	l, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l.Named("tenderlens"), nil
}

// configFor returns nil for the test environment.
func configFor(env string) (*zap.Config, error) {
	var cfg zap.Config
	switch env {
	case "prod":
		cfg = zap.NewProductionConfig()
		// Один job пишет десятки строк; сэмплинг терял бы их хвост.
		cfg.Sampling = nil
	case "local", "dev", "docker":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "test":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown environment %q for logger", env)
	}
	cfg.OutputPaths = []string{"stderr"}
	return &cfg, nil
}

// ForJob derives the logger of a single job.
func ForJob(base *zap.Logger, jobID, operation string) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.With(zap.String(FieldJobID, jobID), zap.String(FieldOperation, operation))
}

type ctxKey struct{}

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger carried by ctx, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// StartJob derives the job logger and stores it in ctx, where FromContext finds it.
// A nil base falls back to the logger already carried by ctx.
func StartJob(ctx context.Context, base *zap.Logger, jobID, operation string) (context.Context, *zap.Logger) {
	if base == nil {
		base = FromContext(ctx)
	}
	l := ForJob(base, jobID, operation)
	return ContextWithLogger(ctx, l), l
}
