package transport

import "context"

type ctxKey string

const requestIDKey ctxKey = "buyvia.requestID"

// WithRequestID stores the correlation id the next request should carry.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx fetches the correlation id from context.
func RequestIDFromCtx(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	return v, ok && v != ""
}
