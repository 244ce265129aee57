package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/model"
)

type loggerKey struct{}

// NewLogger creates a zap.Logger writing JSON to stdout.
//
// Levels:
//   - error: remote 5xx, transport failures, protocol violations, panics
//   - warn:  remote 4xx, circuit breaker open, stale completions discarded
//   - info:  server lifecycle, mutations accepted by the remote API
//   - debug: every remote call, cache hits and misses, redacted payloads
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zap.NewAtomicLevelAt(level),
	)
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))).Named("fieldadmin"), nil
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger enriched with the caller
// identity. The bearer token is never logged.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("tenant_id", rctx.TenantID),
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}

var defaultSensitiveFields = []string{
	"password", "secret", "token", "access_token", "refresh_token",
	"api_key", "authorization", "credit_card", "ssn", "pin",
}

// RedactBody returns a copy of body with sensitive members replaced by
// "[REDACTED]". Keys match case-insensitively against the defaults plus
// extra, and nested maps and lists are walked. Debug logging only.
func RedactBody(body map[string]any, extra ...string) map[string]any {
	if body == nil {
		return nil
	}
	set := make(map[string]struct{}, len(defaultSensitiveFields)+len(extra))
	for _, f := range defaultSensitiveFields {
		set[f] = struct{}{}
	}
	for _, f := range extra {
		set[strings.ToLower(f)] = struct{}{}
	}
	return redactMap(body, set)
}

func redactMap(body map[string]any, set map[string]struct{}) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if _, hit := set[strings.ToLower(k)]; hit {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redactValue(v, set)
	}
	return out
}

func redactValue(v any, set map[string]struct{}) any {
	switch x := v.(type) {
	case map[string]any:
		return redactMap(x, set)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = redactValue(e, set)
		}
		return out
	}
	return v
}
