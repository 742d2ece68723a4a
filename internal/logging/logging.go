package logging

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// ContextKey defines the context key type.
type ContextKey string

// ContextIDKey holds the key of the context ID.
const ContextIDKey ContextKey = "ctx_id"

// NewContext returns a copy of the given context with a new context ID set
// under ContextIDKey. The ID is logged as ctx_id.
func NewContext(ctx context.Context) (context.Context, error) {
	ctxID, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "new uuid error")
	}
	return context.WithValue(ctx, ContextIDKey, ctxID), nil
}

// ContextID returns the context ID of the given context. It returns
// uuid.Nil when the context has no ID.
func ContextID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(ContextIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
