// Package monitoring provides the zap-backed logger, Prometheus metrics, and
// OpenTelemetry tracing for the credcore service.
package monitoring

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/logger"
)

// ZapLogger implements logger.Logger on top of zap.
type ZapLogger struct {
	zl *zap.Logger
}

var _ logger.Logger = (*ZapLogger)(nil)

// NewLogger builds the production logger from config. Format "console" is
// for local development; everything else gets JSON.
func NewLogger(cfg config.LogConfig) (*ZapLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zl, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{zl: zl}, nil
}

// Debug implements logger.Logger.
func (l *ZapLogger) Debug(ctx context.Context, message string, fields ...logger.Field) {
	l.zl.Debug(message, l.convert(ctx, fields)...)
}

// Info implements logger.Logger.
func (l *ZapLogger) Info(ctx context.Context, message string, fields ...logger.Field) {
	l.zl.Info(message, l.convert(ctx, fields)...)
}

// Warn implements logger.Logger.
func (l *ZapLogger) Warn(ctx context.Context, message string, fields ...logger.Field) {
	l.zl.Warn(message, l.convert(ctx, fields)...)
}

// Error implements logger.Logger.
func (l *ZapLogger) Error(ctx context.Context, message string, err error, fields ...logger.Field) {
	zfields := l.convert(ctx, fields)
	if err != nil {
		zfields = append(zfields, zap.Error(err))
	}
	l.zl.Error(message, zfields...)
}

// WithFields implements logger.Logger.
func (l *ZapLogger) WithFields(fields ...logger.Field) logger.Logger {
	zfields := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		zfields = append(zfields, zap.Any(f.Key, f.Value))
	}
	return &ZapLogger{zl: l.zl.With(zfields...)}
}

// WithComponent implements logger.Logger.
func (l *ZapLogger) WithComponent(component string) logger.Logger {
	return &ZapLogger{zl: l.zl.With(zap.String("component", component))}
}

// Sync flushes buffered entries on shutdown.
func (l *ZapLogger) Sync() error {
	return l.zl.Sync()
}

// convert maps fields and pulls request-scoped correlation values out of the
// context so every log line within a request carries the same request id.
func (l *ZapLogger) convert(ctx context.Context, fields []logger.Field) []zap.Field {
	zfields := make([]zap.Field, 0, len(fields)+2)
	for _, f := range fields {
		zfields = append(zfields, zap.Any(f.Key, f.Value))
	}
	if ctx != nil {
		if reqID, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok && reqID != "" {
			zfields = append(zfields, zap.String("request_id", reqID))
		}
		if ip, ok := ctx.Value(constants.ContextKeyClientIP).(string); ok && ip != "" {
			zfields = append(zfields, zap.String("client_ip", ip))
		}
	}
	return zfields
}
