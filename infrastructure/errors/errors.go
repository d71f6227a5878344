// Package errors provides unified error handling for the gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is one entry of the gateway's error taxonomy. Every entry maps to
// exactly one triggering condition and one HTTP status.
type ErrorCode string

const (
	CodeFrontdoorDisabled           ErrorCode = "frontdoor_disabled"
	CodeProvisioningBackendUnconf   ErrorCode = "provisioning_backend_unconfigured"
	CodePrivyAppIDMissing           ErrorCode = "privy_app_id_missing"
	CodeInvalidWalletAddress        ErrorCode = "invalid_wallet_address"
	CodeInvalidSessionID            ErrorCode = "invalid_session_id"
	CodeSessionNotFound             ErrorCode = "session_not_found"
	CodeChallengeExpired            ErrorCode = "challenge_expired"
	CodeChallengeWalletMismatch     ErrorCode = "challenge_wallet_mismatch"
	CodeSignatureMalformed          ErrorCode = "signature_malformed"
	CodeSignatureMessageMismatch    ErrorCode = "signature_message_mismatch"
	CodeSignatureWalletMismatch     ErrorCode = "signature_wallet_mismatch"
	CodeConfigInvalid               ErrorCode = "config_invalid"
	CodeOnboardingPrecondition      ErrorCode = "onboarding_precondition"
	CodeOnboardingRequiredVariables ErrorCode = "onboarding_required_variables"
	CodeOnboardingSessionMismatch   ErrorCode = "onboarding_session_mismatch"
	CodePreflightFailed             ErrorCode = "preflight_failed"
	CodeProvisioningFailure         ErrorCode = "provisioning_failure"
	CodeProvisioningTimeout         ErrorCode = "provisioning_timeout"
	CodeProvisioningMalformedResult ErrorCode = "provisioning_malformed_result"
	CodeRuntimeControlBlocked       ErrorCode = "runtime_control_blocked"
	CodeVersionConflict             ErrorCode = "version_conflict"
	CodeInternal                    ErrorCode = "internal_error"
)

// ServiceError is a structured error carrying the wire error code, a
// human message, the HTTP status it maps to, and optional structured detail.
type ServiceError struct {
	Code       ErrorCode              `json:"error_code"`
	Message    string                 `json:"error"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured detail key, used for fields such as
// `field`, `reason`, `missing_fields`, `failure_category`, `from_state`, `action`.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// OperatorHint returns the operator-facing remediation hint for the wire
// failure envelope {error, error_code, operator_hint}.
func (e *ServiceError) OperatorHint() string {
	if hint, ok := operatorHints[e.Code]; ok {
		return hint
	}
	return "contact the gateway operator with the error_code above"
}

func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

var operatorHints = map[ErrorCode]string{
	CodeFrontdoorDisabled:           "set frontdoor_enabled=true in gateway configuration",
	CodeProvisioningBackendUnconf:   "configure provisioning_backend to command or default_instance_url",
	CodePrivyAppIDMissing:           "set privy_app_id when require_privy=true",
	CodeInvalidWalletAddress:        "supply a 0x-prefixed, 40 hex character wallet address",
	CodeInvalidSessionID:            "supply a lowercase UUIDv4 session id",
	CodeSessionNotFound:             "re-create the session with POST /challenge",
	CodeChallengeExpired:            "request a new challenge",
	CodeChallengeWalletMismatch:     "the session's wallet does not match the request",
	CodeSignatureMalformed:          "supply a well-formed hex-encoded signature",
	CodeSignatureMessageMismatch:    "sign the exact challenge message returned by POST /challenge",
	CodeSignatureWalletMismatch:     "sign with the wallet that created the session",
	CodeConfigInvalid:               "correct the named field and resubmit",
	CodeOnboardingPrecondition:      "complete the current onboarding step before advancing",
	CodeOnboardingRequiredVariables: "supply the listed missing fields",
	CodeOnboardingSessionMismatch:   "use the session id returned by POST /challenge",
	CodePreflightFailed:             "resolve the named failing check and retry /verify",
	CodeProvisioningFailure:         "inspect the provisioning command output; session cannot be retried",
	CodeProvisioningTimeout:         "increase provisioning_timeout_ms or inspect the backend",
	CodeProvisioningMalformedResult: "ensure the provisioning command emits a single well-formed JSON result line",
	CodeRuntimeControlBlocked:       "the requested action is not valid from the session's current runtime_state",
	CodeVersionConflict:             "re-read the session and retry the mutation",
	CodeInternal:                    "retry; escalate if the error persists",
}

// Configuration faults

func FrontdoorDisabled() *ServiceError {
	return New(CodeFrontdoorDisabled, "gateway frontdoor is disabled", http.StatusServiceUnavailable)
}

func ProvisioningBackendUnconfigured() *ServiceError {
	return New(CodeProvisioningBackendUnconf, "no provisioning backend is configured", http.StatusServiceUnavailable)
}

func PrivyAppIDMissing() *ServiceError {
	return New(CodePrivyAppIDMissing, "privy_app_id is required but missing", http.StatusServiceUnavailable)
}

// Identity / session faults

func InvalidWalletAddress(address string) *ServiceError {
	return New(CodeInvalidWalletAddress, "wallet address is malformed", http.StatusBadRequest).
		WithDetails("wallet_address", address)
}

func InvalidSessionID(id string) *ServiceError {
	return New(CodeInvalidSessionID, "session id is malformed", http.StatusBadRequest).
		WithDetails("session_id", id)
}

func SessionNotFound(id string) *ServiceError {
	return New(CodeSessionNotFound, "session not found", http.StatusNotFound).
		WithDetails("session_id", id)
}

func ChallengeExpired(id string) *ServiceError {
	return New(CodeChallengeExpired, "challenge has expired", http.StatusBadRequest).
		WithDetails("session_id", id)
}

func ChallengeWalletMismatch() *ServiceError {
	return New(CodeChallengeWalletMismatch, "wallet address does not match session", http.StatusBadRequest)
}

// Signature faults

func SignatureMalformed(reason string) *ServiceError {
	return New(CodeSignatureMalformed, "signature is malformed", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func SignatureMessageMismatch() *ServiceError {
	return New(CodeSignatureMessageMismatch, "signed message does not match the session challenge", http.StatusBadRequest)
}

func SignatureWalletMismatch() *ServiceError {
	return New(CodeSignatureWalletMismatch, "recovered address does not match the session wallet", http.StatusBadRequest)
}

// Config validation

func ConfigInvalid(field, reason string) *ServiceError {
	return New(CodeConfigInvalid, "configuration is invalid", http.StatusUnprocessableEntity).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// Onboarding faults

func OnboardingPrecondition(step, detail string) *ServiceError {
	return New(CodeOnboardingPrecondition, "onboarding step precondition not met", http.StatusUnprocessableEntity).
		WithDetails("step", step).
		WithDetails("detail", detail)
}

func OnboardingRequiredVariables(missing []string) *ServiceError {
	return New(CodeOnboardingRequiredVariables, "required onboarding fields are missing", http.StatusUnprocessableEntity).
		WithDetails("missing_fields", missing)
}

func OnboardingSessionMismatch() *ServiceError {
	return New(CodeOnboardingSessionMismatch, "onboarding session id does not match", http.StatusUnprocessableEntity)
}

// Preflight

func PreflightFailed(category string) *ServiceError {
	return New(CodePreflightFailed, "funding preflight failed", http.StatusUnprocessableEntity).
		WithDetails("failure_category", category)
}

// Provisioning

func ProvisioningFailure(err error) *ServiceError {
	return Wrap(CodeProvisioningFailure, "provisioning backend failed", http.StatusInternalServerError, err)
}

func ProvisioningTimeout() *ServiceError {
	return New(CodeProvisioningTimeout, "provisioning backend timed out", http.StatusInternalServerError)
}

func ProvisioningMalformedResult(detail string) *ServiceError {
	return New(CodeProvisioningMalformedResult, "provisioning backend emitted a malformed result", http.StatusInternalServerError).
		WithDetails("detail", detail)
}

// Runtime control

func RuntimeControlBlocked(fromState, action string) *ServiceError {
	return New(CodeRuntimeControlBlocked, "runtime control transition is blocked", http.StatusConflict).
		WithDetails("from_state", fromState).
		WithDetails("action", action)
}

// Concurrency

func VersionConflict(sessionID string) *ServiceError {
	return New(CodeVersionConflict, "session version conflict; re-read and retry", http.StatusConflict).
		WithDetails("session_id", sessionID)
}

// Catch-all

func Internal(message string, err error) *ServiceError {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}

// Helper functions

func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
