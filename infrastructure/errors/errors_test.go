package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(CodeSessionNotFound, "test message", http.StatusNotFound),
			want: "[session_not_found] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(CodeInternal, "test message", http.StatusInternalServerError, errors.New("underlying")),
			want: "[internal_error] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "test", http.StatusInternalServerError, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestServiceError_WithDetails(t *testing.T) {
	err := ConfigInvalid("username", "too short")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "username" {
		t.Errorf("Details[field] = %v, want username", err.Details["field"])
	}
	if err.Details["reason"] != "too short" {
		t.Errorf("Details[reason] = %v, want too short", err.Details["reason"])
	}
}

func TestInvalidWalletAddress(t *testing.T) {
	err := InvalidWalletAddress("not-a-wallet")

	if err.Code != CodeInvalidWalletAddress {
		t.Errorf("Code = %v, want %v", err.Code, CodeInvalidWalletAddress)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
	if err.Details["wallet_address"] != "not-a-wallet" {
		t.Errorf("Details[wallet_address] = %v, want not-a-wallet", err.Details["wallet_address"])
	}
}

func TestSessionNotFound(t *testing.T) {
	err := SessionNotFound("abc")

	if err.Code != CodeSessionNotFound {
		t.Errorf("Code = %v, want %v", err.Code, CodeSessionNotFound)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusNotFound)
	}
}

func TestChallengeExpired(t *testing.T) {
	err := ChallengeExpired("abc")

	if err.Code != CodeChallengeExpired {
		t.Errorf("Code = %v, want %v", err.Code, CodeChallengeExpired)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
}

func TestSignatureWalletMismatch(t *testing.T) {
	err := SignatureWalletMismatch()

	if err.Code != CodeSignatureWalletMismatch {
		t.Errorf("Code = %v, want %v", err.Code, CodeSignatureWalletMismatch)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
}

func TestConfigInvalid(t *testing.T) {
	err := ConfigInvalid("per_trade_notional_cap_usd", "exceeds max_allocation_usd")

	if err.Code != CodeConfigInvalid {
		t.Errorf("Code = %v, want %v", err.Code, CodeConfigInvalid)
	}
	if err.HTTPStatus != http.StatusUnprocessableEntity {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusUnprocessableEntity)
	}
}

func TestOnboardingRequiredVariables(t *testing.T) {
	err := OnboardingRequiredVariables([]string{"profile_name", "accept_terms"})

	if err.Code != CodeOnboardingRequiredVariables {
		t.Errorf("Code = %v, want %v", err.Code, CodeOnboardingRequiredVariables)
	}
	missing, ok := err.Details["missing_fields"].([]string)
	if !ok || len(missing) != 2 {
		t.Errorf("Details[missing_fields] = %v, want 2 entries", err.Details["missing_fields"])
	}
}

func TestPreflightFailed(t *testing.T) {
	err := PreflightFailed("gas_reserve_estimate")

	if err.Code != CodePreflightFailed {
		t.Errorf("Code = %v, want %v", err.Code, CodePreflightFailed)
	}
	if err.Details["failure_category"] != "gas_reserve_estimate" {
		t.Errorf("Details[failure_category] = %v, want gas_reserve_estimate", err.Details["failure_category"])
	}
}

func TestRuntimeControlBlocked(t *testing.T) {
	err := RuntimeControlBlocked("paused", "pause")

	if err.Code != CodeRuntimeControlBlocked {
		t.Errorf("Code = %v, want %v", err.Code, CodeRuntimeControlBlocked)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
	if err.Details["from_state"] != "paused" || err.Details["action"] != "pause" {
		t.Errorf("Details = %v, want from_state=paused action=pause", err.Details)
	}
}

func TestVersionConflict(t *testing.T) {
	err := VersionConflict("abc")

	if err.Code != CodeVersionConflict {
		t.Errorf("Code = %v, want %v", err.Code, CodeVersionConflict)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestInternal(t *testing.T) {
	underlying := errors.New("database connection failed")
	err := Internal("internal error", underlying)

	if err.Code != CodeInternal {
		t.Errorf("Code = %v, want %v", err.Code, CodeInternal)
	}
	if err.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusInternalServerError)
	}
	if err.Err != underlying {
		t.Errorf("Err = %v, want %v", err.Err, underlying)
	}
}

func TestOperatorHint(t *testing.T) {
	err := SessionNotFound("abc")
	if err.OperatorHint() == "" {
		t.Error("OperatorHint() = empty, want non-empty")
	}
}

func TestIsServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "service error", err: New(CodeInternal, "test", http.StatusInternalServerError), want: true},
		{name: "standard error", err: errors.New("standard error"), want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsServiceError(tt.err); got != tt.want {
				t.Errorf("IsServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetServiceError(t *testing.T) {
	serviceErr := New(CodeInternal, "test", http.StatusInternalServerError)
	standardErr := errors.New("standard error")

	tests := []struct {
		name string
		err  error
		want *ServiceError
	}{
		{name: "service error", err: serviceErr, want: serviceErr},
		{name: "standard error", err: standardErr, want: nil},
		{name: "nil error", err: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetServiceError(tt.err)
			if got != tt.want {
				t.Errorf("GetServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "service error", err: New(CodeChallengeExpired, "test", http.StatusBadRequest), want: http.StatusBadRequest},
		{name: "standard error", err: errors.New("standard error"), want: http.StatusInternalServerError},
		{name: "nil error", err: nil, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}
