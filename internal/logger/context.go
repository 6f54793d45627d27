package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	providerKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithProvider tags the context with the payment provider handling the
// request, so every log line on the webhook path names its source.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, providerKey, provider)
}

func ProviderFrom(ctx context.Context) string {
	if v, ok := ctx.Value(providerKey).(string); ok {
		return v
	}
	return ""
}

// FromCtx returns a logger carrying the request-scoped fields.
func FromCtx(ctx context.Context) *zap.Logger {
	log := L()
	if reqID := RequestIDFrom(ctx); reqID != "" {
		log = log.With(zap.String("request_id", reqID))
	}
	if provider := ProviderFrom(ctx); provider != "" {
		log = log.With(zap.String("provider", provider))
	}
	return log
}
