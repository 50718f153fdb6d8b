package correlation

import (
	"context"

	"github.com/google/uuid"
)

// Header carries the correlation id across RPCs and bus messages.
const Header = "X-Correlation-ID"

type ctxKey struct{}

// With returns a child context carrying the correlation id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id, or "" when absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure returns the context's correlation id, minting a new one when the
// context has none.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return With(ctx, id), id
}
