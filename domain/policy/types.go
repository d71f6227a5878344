// Package policy holds the user-supplied operating policy configuration,
// its validator, and the read-only template library that seeds it.
package policy

// Config is a normalized user policy. /verify attaches it to a session once,
// when the signature is accepted; no gateway handler mutates or replaces it
// afterwards, and /suggest-config only returns a config without attaching it.
type Config struct {
	ProfileName   string `json:"profile_name"`
	ProfileDomain string `json:"profile_domain"`

	SymbolAllowlist []string `json:"symbol_allowlist"`
	SymbolDenylist  []string `json:"symbol_denylist"`

	RequestTimeoutMs int `json:"request_timeout_ms"`
	MaxRetries       int `json:"max_retries"`
	RetryBackoffMs   int `json:"retry_backoff_ms"`

	MaxPositionSizeUSD     float64 `json:"max_position_size_usd"`
	LeverageCap            float64 `json:"leverage_cap"`
	MaxLeverage            float64 `json:"max_leverage"`
	MaxAllocationUSD       float64 `json:"max_allocation_usd"`
	PerTradeNotionalCapUSD float64 `json:"per_trade_notional_cap_usd"`
	MaxSlippageBps         int     `json:"max_slippage_bps"`

	CustodyMode           string `json:"custody_mode"`
	OperatorWalletAddress string `json:"operator_wallet_address,omitempty"`
	UserWalletAddress     string `json:"user_wallet_address,omitempty"`

	// GatewayAuthKey is accepted on the wire but scrubbed before the config
	// is attached to a session; only its fingerprint is retained.
	GatewayAuthKey string `json:"gateway_auth_key,omitempty"`

	VerificationBackend                       string `json:"verification_backend"`
	VerificationLevel                         string `json:"verification_level"`
	VerificationFallbackEnabled               bool   `json:"verification_fallback_enabled"`
	VerificationFallbackRequireSignedReceipts bool   `json:"verification_fallback_require_signed_receipts"`
	VerificationFallbackChainPath             string `json:"verification_fallback_chain_path,omitempty"`
	VerificationEigencloudTimeoutMs           int    `json:"verification_eigencloud_timeout_ms"`

	PaperLivePolicy         string `json:"paper_live_policy"`
	InformationSharingScope string `json:"information_sharing_scope"`

	AcceptTerms bool `json:"accept_terms"`
}

const (
	CustodyModeOperatorWallet = "operator_wallet"
	CustodyModeUserWallet     = "user_wallet"
	CustodyModeDual           = "dual_mode"

	VerificationBackendEigencloudPrimary = "eigencloud_primary"
	VerificationBackendFallbackOnly      = "fallback_only"
)
