package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationID(t *testing.T) {
	ctx := context.Background()
	_, ok := CorrelationID(ctx)
	assert.False(t, ok)

	ctx = WithCorrelationID(ctx, "abc")
	id, ok := CorrelationID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = CorrelationID(WithCorrelationID(context.Background(), ""))
	assert.False(t, ok)
}

func TestActionAndAttempt(t *testing.T) {
	ctx := WithAttempt(WithAction(context.Background(), "click"), 2)

	action, ok := Action(ctx)
	assert.True(t, ok)
	assert.Equal(t, "click", action)

	n, ok := Attempt(ctx)
	assert.True(t, ok)
	assert.Equal(t, 2, n)

	_, ok = Attempt(WithAttempt(context.Background(), 0))
	assert.False(t, ok)
}
