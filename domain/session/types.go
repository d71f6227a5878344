// Package session implements the gateway's authoritative session store:
// the versioned, CAS-guarded record of one wallet-identified user's
// authorization-and-provisioning lifecycle.
package session

import (
	"time"

	"github.com/enclagent/gateway/domain/policy"
)

type Status string

const (
	StatusPendingSignature Status = "pending_signature"
	StatusProvisioning     Status = "provisioning"
	StatusReady            Status = "ready"
	StatusFailed           Status = "failed"
	StatusExpired          Status = "expired"
)

type RuntimeState string

const (
	RuntimeNotStarted RuntimeState = "not_started"
	RuntimeRunning    RuntimeState = "running"
	RuntimePaused     RuntimeState = "paused"
	RuntimeTerminated RuntimeState = "terminated"
)

type ProvisioningSource string

const (
	ProvisioningSourceCommand      ProvisioningSource = "command"
	ProvisioningSourceDefaultURL   ProvisioningSource = "default_instance_url"
	ProvisioningSourceUnconfigured ProvisioningSource = "unconfigured"
)

type PreflightStatus string

const (
	PreflightNotRun PreflightStatus = "not_run"
	PreflightPassed PreflightStatus = "passed"
	PreflightFailed PreflightStatus = "failed"
)

// PreflightCheckResult is one named check from the funding preflight battery.
type PreflightCheckResult struct {
	CheckID string `json:"check_id"`
	Status  string `json:"status"`
	Detail  string `json:"detail"`
}

// Session is the authoritative record of one authorization-and-provisioning
// lifecycle. Every mutation bumps Version; ChallengeMessage is write-once.
// Apply rejects unsetting Config once present; it does not compare a
// replacement Config's contents with the stored one.
type Session struct {
	SessionID     string `json:"session_id"`
	WalletAddress string `json:"wallet_address"`
	PrivyUserID   string `json:"privy_user_id,omitempty"`

	Version int    `json:"version"`
	Status  Status `json:"status"`

	RuntimeState RuntimeState `json:"runtime_state"`

	ChallengeMessage   string    `json:"challenge_message"`
	ChallengeCreatedAt time.Time `json:"challenge_created_at"`
	ChallengeExpiresAt time.Time `json:"challenge_expires_at"`

	Config        *policy.Config `json:"config,omitempty"`
	ProfileName   string         `json:"profile_name,omitempty"`
	ProfileDomain string         `json:"profile_domain,omitempty"`

	ProvisioningSource   ProvisioningSource `json:"provisioning_source"`
	DedicatedInstance    bool               `json:"dedicated_instance"`
	LaunchedOnEigencloud bool               `json:"launched_on_eigencloud"`
	InstanceURL          string             `json:"instance_url,omitempty"`
	VerifyURL            string             `json:"verify_url,omitempty"`
	EigenAppID           string             `json:"eigen_app_id,omitempty"`

	AuthKeyFingerprint string    `json:"auth_key_fingerprint,omitempty"`
	AuthKeyRotatedAt   time.Time `json:"auth_key_rotated_at,omitempty"`

	VerificationBackend                       string `json:"verification_backend,omitempty"`
	VerificationLevel                         string `json:"verification_level,omitempty"`
	VerificationFallbackEnabled               bool   `json:"verification_fallback_enabled"`
	VerificationFallbackRequireSignedReceipts bool   `json:"verification_fallback_require_signed_receipts"`

	FundingPreflightStatus          PreflightStatus        `json:"funding_preflight_status"`
	FundingPreflightFailureCategory string                 `json:"funding_preflight_failure_category,omitempty"`
	FundingPreflightChecks          []PreflightCheckResult `json:"funding_preflight_checks,omitempty"`

	TodoOpenRequiredCount    int    `json:"todo_open_required_count"`
	TodoOpenRecommendedCount int    `json:"todo_open_recommended_count"`
	TodoStatusSummary        string `json:"todo_status_summary,omitempty"`

	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the store's authoritative copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	next := *s
	if s.Config != nil {
		cfgCopy := *s.Config
		cfgCopy.SymbolAllowlist = append([]string(nil), s.Config.SymbolAllowlist...)
		cfgCopy.SymbolDenylist = append([]string(nil), s.Config.SymbolDenylist...)
		next.Config = &cfgCopy
	}
	next.FundingPreflightChecks = append([]PreflightCheckResult(nil), s.FundingPreflightChecks...)
	return &next
}
