package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		status int
	}{
		{fmt.Errorf("%w: assignment a-1", ErrNotFound), KindNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: session s-1", ErrForbidden), KindForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: already evaluated", ErrConflict), KindConflict, http.StatusConflict},
		{fmt.Errorf("%w: 1 turn", ErrTooEarly), KindTooEarly, http.StatusTooEarly},
		{fmt.Errorf("%w: pending -> completed", ErrInvalidTransition), KindInvalidTransition, http.StatusBadRequest},
		{fmt.Errorf("%w: timeout", ErrUpstream), KindUpstream, http.StatusBadGateway},
		{ErrInvalidInput, KindInvalidInput, http.StatusBadRequest},
		{ErrUnauthorized, KindUnauthorized, http.StatusUnauthorized},
		{errors.New("disk full"), KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		kind, status := ErrorKind(tt.err)
		assert.Equal(t, tt.kind, kind, tt.err.Error())
		assert.Equal(t, tt.status, status, tt.err.Error())
	}

	assert.True(t, IsRetryableKind(ErrTooEarly))
	assert.True(t, IsRetryableKind(fmt.Errorf("%w: x", ErrUpstream)))
	assert.False(t, IsRetryableKind(ErrConflict))
}

func TestRespondErrorMasksInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondError(c, errors.New("dial tcp 10.0.0.3:5432: connection refused"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, KindInternal, body.Error)
	assert.NotContains(t, body.Message, "10.0.0.3")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	RespondError(c, fmt.Errorf("%w: session s-1 has already been evaluated", ErrConflict))
	require.Equal(t, http.StatusConflict, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, KindConflict, body.Error)
	assert.Contains(t, body.Message, "already been evaluated")
}

func TestRespondErrorMarksRetryableKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err       error
		retryable bool
	}{
		{fmt.Errorf("%w: attempt 1 has 1 turns", ErrTooEarly), true},
		{fmt.Errorf("%w: scoring failed", ErrUpstream), true},
		{fmt.Errorf("%w: session s-1 is completed", ErrConflict), false},
		{fmt.Errorf("%w: pending -> completed", ErrInvalidTransition), false},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		RespondError(c, tt.err)

		var body Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tt.retryable, body.Retryable, tt.err.Error())
	}
}
