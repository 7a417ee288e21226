package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsMatchTheirKind(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{Validation("bad input"), ErrValidation},
		{Conflict("session is closed"), ErrConflict},
		{NotFound("no attendance to remove"), ErrNotFound},
		{Auth("invalid totem credential"), ErrAuth},
		{NotRecognized("no match"), ErrNotRecognized},
	}
	for _, tc := range cases {
		assert.ErrorIs(t, tc.err, tc.kind)
		for _, other := range cases {
			if other.kind != tc.kind {
				assert.NotErrorIs(t, tc.err, other.kind)
			}
		}
	}
}

func TestMessageIsPreserved(t *testing.T) {
	err := Conflict("session is closed")
	assert.EqualError(t, err, "session is closed")
}

func TestWrappedErrorsStillMatch(t *testing.T) {
	err := fmt.Errorf("marking student: %w", NotFound("session not found"))
	assert.True(t, errors.Is(err, ErrNotFound))
}
