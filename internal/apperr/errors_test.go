package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		target error
		match  bool
	}{
		{name: "validation", err: Validation("email is invalid"), target: ErrValidation, match: true},
		{name: "wrapped network", err: fmt.Errorf("load feedback: %w", Network("GET /feedbacks", 503, nil)), target: ErrNetwork, match: true},
		{name: "cancelled vs network", err: Cancelled(context.Canceled), target: ErrNetwork, match: false},
		{name: "plain error", err: errors.New("boom"), target: ErrUnauthorized, match: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.match, errors.Is(tc.err, tc.target))
		})
	}
}

func TestCancelledUnwrapsContextError(t *testing.T) {
	err := Cancelled(context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, IsCancelled(err))
	assert.False(t, UserVisible(err))
}

func TestKindOfAndStatus(t *testing.T) {
	err := fmt.Errorf("remove: %w", Network("DELETE /feedbacks/3", 500, nil))
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("other")))

	var appErr *Error
	if assert.True(t, errors.As(err, &appErr)) {
		assert.Equal(t, 500, appErr.Status)
	}
	assert.True(t, UserVisible(err))
	assert.False(t, UserVisible(nil))
}
