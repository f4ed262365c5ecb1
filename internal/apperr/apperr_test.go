package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormattingAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeServiceDegraded, Fatal, "creator profile lookup for %s", "c-1")

	assert.Equal(t, "service_degraded [fatal]: creator profile lookup for c-1: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestCodeAndSeverityThroughWrapping(t *testing.T) {
	base := New(CodeCaptionUnavailable, Medium, "no captions for %s", "ppv_unlock").WithFallback("manual_caption_required")
	wrapped := fmt.Errorf("select: %w", base)

	assert.Equal(t, CodeCaptionUnavailable, CodeOf(wrapped))
	assert.Equal(t, Medium, SeverityOf(wrapped))
	assert.False(t, IsFatal(wrapped))
	assert.Contains(t, wrapped.Error(), "fallback: manual_caption_required")
}

func TestUnknownErrorsAreFatal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, "", CodeOf(err))
	assert.True(t, IsFatal(err))
	assert.False(t, IsFatal(nil))
}

func TestEscalateKeepsCode(t *testing.T) {
	high := New(CodeDiversityInsufficient, High, "only 7 distinct send types")
	fatal := Escalate(high)

	require.Equal(t, Fatal, fatal.Severity)
	assert.Equal(t, CodeDiversityInsufficient, fatal.Code)
	assert.Equal(t, High, high.Severity)
}
