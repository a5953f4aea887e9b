// Package logging backs the ectologger interface with zap.
package logging

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	ctxhelpers "github.com/Ramsey-B/thistle/pkg/context"
)

type zapLogger struct {
	base   *zap.Logger
	fields map[string]any
	err    error
}

// NewZapLogger builds an ectologger.Logger writing structured JSON through
// zap. Pretty switches to the development console encoder. The returned flush
// func should run on shutdown.
func NewZapLogger(level string, pretty bool) (ectologger.Logger, func() error, error) {
	cfg := zap.NewProductionConfig()
	if pretty {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	return &zapLogger{base: base}, base.Sync, nil
}

// NewNopLogger returns a logger that discards everything. Intended for tests.
func NewNopLogger() ectologger.Logger {
	return &zapLogger{base: zap.NewNop()}
}

func (l *zapLogger) clone() *zapLogger {
	fields := make(map[string]any, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &zapLogger{base: l.base, fields: fields, err: l.err}
}

func (l *zapLogger) WithContext(ctx context.Context) ectologger.Logger {
	next := l.clone()
	if requestID := ctxhelpers.GetRequestID(ctx); requestID != "" {
		next.fields["request_id"] = requestID
	}
	if tenantID := ctxhelpers.GetTenantID(ctx); tenantID != "" {
		next.fields["tenant_id"] = tenantID
	}
	if userID := ctxhelpers.GetUserID(ctx); userID != "" {
		next.fields["user_id"] = userID
	}
	return next
}

func (l *zapLogger) WithFields(fields map[string]any) ectologger.Logger {
	next := l.clone()
	for k, v := range fields {
		next.fields[k] = v
	}
	return next
}

func (l *zapLogger) WithField(key string, value any) ectologger.Logger {
	return l.WithFields(map[string]any{key: value})
}

func (l *zapLogger) WithError(err error) ectologger.Logger {
	next := l.clone()
	next.err = err
	return next
}

func (l *zapLogger) zapFields() []zap.Field {
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+1)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, l.fields[k]))
	}
	if l.err != nil {
		fields = append(fields, zap.Error(l.err))
	}
	return fields
}

func (l *zapLogger) Debug(msg string)                  { l.base.Debug(msg, l.zapFields()...) }
func (l *zapLogger) Debugf(format string, args ...any) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *zapLogger) Info(msg string)                   { l.base.Info(msg, l.zapFields()...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.Info(fmt.Sprintf(format, args...)) }
func (l *zapLogger) Warn(msg string)                   { l.base.Warn(msg, l.zapFields()...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *zapLogger) Error(msg string)                  { l.base.Error(msg, l.zapFields()...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.Error(fmt.Sprintf(format, args...)) }
func (l *zapLogger) Fatal(msg string)                  { l.base.Fatal(msg, l.zapFields()...) }
func (l *zapLogger) Fatalf(format string, args ...any) { l.Fatal(fmt.Sprintf(format, args...)) }

func (l *zapLogger) withCtx(ctx context.Context) *zapLogger {
	return l.WithContext(ctx).(*zapLogger)
}

func (l *zapLogger) DebugContext(ctx context.Context, msg string) { l.withCtx(ctx).Debug(msg) }
func (l *zapLogger) DebugContextf(ctx context.Context, format string, args ...any) {
	l.withCtx(ctx).Debugf(format, args...)
}
func (l *zapLogger) InfoContext(ctx context.Context, msg string) { l.withCtx(ctx).Info(msg) }
func (l *zapLogger) InfoContextf(ctx context.Context, format string, args ...any) {
	l.withCtx(ctx).Infof(format, args...)
}
func (l *zapLogger) WarnContext(ctx context.Context, msg string) { l.withCtx(ctx).Warn(msg) }
func (l *zapLogger) WarnContextf(ctx context.Context, format string, args ...any) {
	l.withCtx(ctx).Warnf(format, args...)
}
func (l *zapLogger) ErrorContext(ctx context.Context, msg string) { l.withCtx(ctx).Error(msg) }
func (l *zapLogger) ErrorContextf(ctx context.Context, format string, args ...any) {
	l.withCtx(ctx).Errorf(format, args...)
}
func (l *zapLogger) FatalContext(ctx context.Context, msg string) { l.withCtx(ctx).Fatal(msg) }
func (l *zapLogger) FatalContextf(ctx context.Context, format string, args ...any) {
	l.withCtx(ctx).Fatalf(format, args...)
}
