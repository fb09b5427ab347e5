package cycle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := Transient("list sessions", cause)

	assert.True(t, IsTransient(err))
	assert.False(t, IsConflict(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "list sessions: transient error: connection refused", err.Error())

	wrapped := fmt.Errorf("reconcile: %w", Conflict("stop", "no active session"))
	assert.True(t, IsConflict(wrapped))
	assert.Equal(t, KindConflict, KindOf(wrapped))

	assert.True(t, IsValidation(Validation("start", "bad")))
	assert.True(t, IsFatalConfig(FatalConfig("start", "bad")))
}

func TestKindOfUnclassified(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindTransient, KindOf(errors.New("boom")))
	assert.False(t, IsTransient(errors.New("boom")))
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
