package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToDomainError(t *testing.T) {
	assert.Nil(t, ToDomainError(nil))

	notFound := NewNotFound("gone")
	assert.Same(t, notFound, ToDomainError(fmt.Errorf("lookup: %w", notFound)))

	transient := ToDomainError(context.DeadlineExceeded)
	assert.Equal(t, CodeTransient, transient.Code)
	assert.Equal(t, http.StatusServiceUnavailable, transient.HTTPStatus)

	internal := ToDomainError(errors.New("boom"))
	assert.Equal(t, CodeInternal, internal.Code)
	assert.Equal(t, "internal server error: boom", internal.Error())
}

func TestFieldErrors(t *testing.T) {
	err := NewValidationError("Validation failed.", []FieldError{{Field: "email", Message: "bad"}})
	assert.True(t, HasCode(err, CodeValidationFailed))
	assert.Equal(t, []FieldError{{Field: "email", Message: "bad"}}, FieldErrors(err))

	assert.Equal(t, []FieldError{}, FieldErrors(NewValidationError("x", nil)))
	assert.Nil(t, FieldErrors(NewConflict("taken", nil)))
	assert.Nil(t, FieldErrors(errors.New("plain")))
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
}

func TestStatusCodes(t *testing.T) {
	tests := map[string]struct {
		err    error
		status int
	}{
		CodeInvalidToken:    {NewInvalidToken("x"), http.StatusNotFound},
		CodeExpiredToken:    {NewExpiredToken("x"), http.StatusUnauthorized},
		CodeUnauthorized:    {NewUnauthorized("x"), http.StatusUnauthorized},
		CodeForbidden:       {NewForbidden("x"), http.StatusForbidden},
		CodeAccountInactive: {NewAccountInactive("x"), http.StatusForbidden},
		CodeConflict:        {NewConflict("x", nil), http.StatusConflict},
	}
	for code, tc := range tests {
		t.Run(code, func(t *testing.T) {
			domainErr := ToDomainError(tc.err)
			assert.Equal(t, code, domainErr.Code)
			assert.Equal(t, tc.status, domainErr.HTTPStatus)
		})
	}
}
