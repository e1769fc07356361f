package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesOnCode(t *testing.T) {
	wrapped := Wrap(CodeStoreUnavailable, "append failed", errors.New("socket closed"))
	assert.ErrorIs(t, wrapped, ErrStoreUnavailable)
	assert.NotErrorIs(t, wrapped, ErrConversationNotFound)

	// survives further wrapping
	deep := fmt.Errorf("handling request: %w", wrapped)
	assert.ErrorIs(t, deep, ErrStoreUnavailable)
	assert.Equal(t, CodeStoreUnavailable, Code(deep))
}

func TestSentinelCodesMatchAdHocErrors(t *testing.T) {
	// handshake rejections built from the same code compare equal to the
	// sentinel even with a different message
	unknown := New(CodeAuthRequired, "unknown user")
	assert.ErrorIs(t, unknown, ErrAuthRequired)
	assert.Equal(t, CodeAuthRequired, Code(unknown))
}

func TestCodeFallback(t *testing.T) {
	assert.Equal(t, "INTERNAL", Code(errors.New("something else")))
}
