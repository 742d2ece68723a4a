package logging

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewContext(t *testing.T) {
	assert := require.New(t)

	assert.Equal(uuid.Nil, ContextID(context.Background()))

	ctx, err := NewContext(context.Background())
	assert.NoError(err)

	id := ContextID(ctx)
	assert.NotEqual(uuid.Nil, id)
	assert.Equal(id, ctx.Value(ContextIDKey))

	ctx2, err := NewContext(ctx)
	assert.NoError(err)
	assert.NotEqual(id, ContextID(ctx2))
}
