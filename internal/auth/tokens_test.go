package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_IssueAndValidate(t *testing.T) {
	t.Parallel()

	tokens := NewTokens(time.Hour)
	token, err := tokens.Issue()
	require.NoError(t, err)

	assert.Len(t, token, 64)
	assert.True(t, tokens.Valid(token))
	assert.False(t, tokens.Valid(""))
	assert.False(t, tokens.Valid("made-up"))
	assert.Equal(t, 1, tokens.Count())
}

func TestTokens_Revoke(t *testing.T) {
	t.Parallel()

	tokens := NewTokens(0)
	token, err := tokens.Issue()
	require.NoError(t, err)

	tokens.Revoke(token)
	assert.False(t, tokens.Valid(token))
}

func TestTokens_Expire(t *testing.T) {
	t.Parallel()

	tokens := NewTokens(20 * time.Millisecond)
	token, err := tokens.Issue()
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return !tokens.Valid(token)
	}, time.Second, 10*time.Millisecond)
}
