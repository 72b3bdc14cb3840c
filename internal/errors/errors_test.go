package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/autopilot-engine/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{
			name:       "invalid order",
			err:        NewInvalidOrderError("amount must be positive"),
			wantCode:   CodeInvalidOrder,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrapped upstream error",
			err:        fmt.Errorf("analyze: %w", NewUpstreamUnavailableError("chain", context.DeadlineExceeded)),
			wantCode:   CodeUpstreamUnavailable,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "submission failed",
			err:        NewSubmissionFailedError("ord-1", nil),
			wantCode:   CodeSubmissionFailed,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "service error",
			err:        &types.ServiceError{Code: CodeInvalidParameter, Message: "bad limit"},
			wantCode:   CodeInvalidParameter,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "plain error",
			err:        fmt.Errorf("boom"),
			wantCode:   CodeInternalError,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := Categorize(tt.err)
			assert.Equal(t, tt.wantCode, cat.Code)
			assert.Equal(t, tt.wantStatus, GetHTTPStatusCode(tt.err))
		})
	}

	assert.Nil(t, Categorize(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewUpstreamUnavailableError("price", nil)))
	assert.True(t, IsRetryable(NewSubmissionFailedError("ord-1", nil)))
	assert.False(t, IsRetryable(NewInvalidOrderError("empty mint")))
	assert.False(t, IsRetryable(NewInvariantViolationError("double release", nil)))
	assert.False(t, IsRetryable(nil))
}

func TestUserAndSystemErrors(t *testing.T) {
	assert.True(t, IsUserError(NewInvalidParameterError("limit", "must be positive")))
	assert.False(t, IsSystemError(NewInvalidParameterError("limit", "must be positive")))
	assert.True(t, IsSystemError(NewInternalError("append failed", nil)))
	assert.True(t, HasCode(NewRiskRejectedError("0xabc", types.ReasonCooldownActive), CodeRiskRejected))
}
