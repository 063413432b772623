package fractor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveCategory(t *testing.T) {
	ve := &ValidationError{Err: errors.New("bad field")}
	se := &SystemError{Err: errors.New("oom")}

	cases := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"validation", ve, CategoryValidation},
		{"system", se, CategorySystem},
		{"timeout", context.DeadlineExceeded, CategoryTimeout},
		{"generic", errors.New("plain"), CategoryUnknown},
		{"nil", nil, CategoryUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveCategory(tc.err))
		})
	}
}

func TestDeriveSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, DeriveSeverity(CategorySystem))
	assert.Equal(t, SeverityError, DeriveSeverity(CategoryValidation))
	assert.Equal(t, SeverityError, DeriveSeverity(CategoryTimeout))
	assert.Equal(t, SeverityError, DeriveSeverity(CategoryUnknown))
}

func TestErrorCategoryRetriable(t *testing.T) {
	assert.True(t, CategoryTimeout.Retriable())
	assert.True(t, CategoryNetwork.Retriable())
	assert.False(t, CategoryValidation.Retriable())
	assert.False(t, CategorySystem.Retriable())
}

func TestNewSuccessResult(t *testing.T) {
	w := NewWork("in")
	r := NewSuccessResult(w, "out")
	assert.True(t, r.Success)
	assert.Equal(t, "out", r.Result)
	assert.NoError(t, r.Err)
	assert.False(t, r.Retriable())
}

func TestNewErrorResult(t *testing.T) {
	w := NewWork("in")
	err := &ValidationError{Err: errors.New("missing field")}
	r := NewErrorResult(w, err)
	assert.False(t, r.Success)
	assert.Equal(t, CategoryValidation, r.ErrorCategory)
	assert.Equal(t, SeverityError, r.ErrorSeverity)
	assert.ErrorIs(t, r.Err, err)
	assert.False(t, r.Retriable())
}

func TestNewErrorResultOptions(t *testing.T) {
	w := NewWork("in")
	r := NewErrorResult(w, errors.New("boom"),
		WithErrorCode("E_BOOM"),
		WithErrorCategory(CategoryNetwork),
		WithErrorContext(map[string]any{"host": "x"}),
	)
	assert.Equal(t, "E_BOOM", r.ErrorCode)
	assert.Equal(t, CategoryNetwork, r.ErrorCategory)
	assert.Equal(t, SeverityError, r.ErrorSeverity)
	assert.True(t, r.Retriable())
	assert.Equal(t, "x", r.ErrorContext["host"])
}
