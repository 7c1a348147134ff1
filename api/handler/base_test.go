package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/promorang/maturity/domain"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   domain.ErrorCode
	}{
		{domain.ErrUnauthorized, http.StatusUnauthorized, domain.ErrCodeUnauthorized},
		{domain.ErrOverrideForbidden, http.StatusForbidden, domain.ErrCodeForbidden},
		{domain.ErrInvalidAction, http.StatusBadRequest, domain.ErrCodeInvalid},
		{domain.ErrUserNotFound, http.StatusNotFound, domain.ErrCodeNotFound},
		{domain.WrapError(domain.ErrCodeUnavailable, "record action", errors.New("connection refused")), http.StatusServiceUnavailable, domain.ErrCodeUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, domain.ErrCodeInternal},
	}
	for _, tc := range cases {
		status, code := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, string(tc.code), code, tc.err.Error())
	}
}
