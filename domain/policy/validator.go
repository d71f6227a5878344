package policy

import (
	"sort"
	"strings"

	"github.com/enclagent/gateway/domain/wallet"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

// Validate normalizes cfg in place and enforces every field invariant,
// returning a typed config_invalid error naming the first offending
// field. sessionWallet is the session's immutable wallet address,
// against which user_wallet_address must match when custody requires it.
func Validate(cfg *Config, sessionWallet string) (*Config, error) {
	if cfg == nil {
		return nil, gatewayerrors.ConfigInvalid("config", "config is required")
	}
	normalized := *cfg

	normalized.SymbolAllowlist = upperDedupe(normalized.SymbolAllowlist)
	normalized.SymbolDenylist = upperDedupe(normalized.SymbolDenylist)
	if len(normalized.SymbolAllowlist) == 0 {
		return nil, gatewayerrors.ConfigInvalid("symbol_allowlist", "must not be empty")
	}

	if err := checkRange("request_timeout_ms", float64(normalized.RequestTimeoutMs), 1000, 120000); err != nil {
		return nil, err
	}
	if err := checkRange("max_retries", float64(normalized.MaxRetries), 0, 10); err != nil {
		return nil, err
	}
	if err := checkRange("retry_backoff_ms", float64(normalized.RetryBackoffMs), 0, 30000); err != nil {
		return nil, err
	}
	if err := checkRange("max_position_size_usd", normalized.MaxPositionSizeUSD, 1, 1e7); err != nil {
		return nil, err
	}
	if err := checkRange("leverage_cap", normalized.LeverageCap, 1, 20); err != nil {
		return nil, err
	}
	if normalized.MaxLeverage > normalized.LeverageCap {
		return nil, gatewayerrors.ConfigInvalid("max_leverage", "must not exceed leverage_cap")
	}
	if err := checkRange("max_allocation_usd", normalized.MaxAllocationUSD, 1, 1e7); err != nil {
		return nil, err
	}
	if normalized.PerTradeNotionalCapUSD > normalized.MaxAllocationUSD {
		return nil, gatewayerrors.ConfigInvalid("per_trade_notional_cap_usd", "must not exceed max_allocation_usd")
	}
	if err := checkRange("max_slippage_bps", float64(normalized.MaxSlippageBps), 1, 5000); err != nil {
		return nil, err
	}
	if err := checkRange("verification_eigencloud_timeout_ms", float64(normalized.VerificationEigencloudTimeoutMs), 1, 120000); err != nil {
		return nil, err
	}

	switch normalized.CustodyMode {
	case CustodyModeOperatorWallet, CustodyModeUserWallet, CustodyModeDual:
	default:
		return nil, gatewayerrors.ConfigInvalid("custody_mode", "must be one of operator_wallet, user_wallet, dual_mode")
	}

	needsOperator := normalized.CustodyMode == CustodyModeOperatorWallet || normalized.CustodyMode == CustodyModeDual
	needsUser := normalized.CustodyMode == CustodyModeUserWallet || normalized.CustodyMode == CustodyModeDual

	if needsOperator {
		if !wallet.IsValidAddress(normalized.OperatorWalletAddress) {
			return nil, gatewayerrors.ConfigInvalid("operator_wallet_address", "required for the selected custody_mode")
		}
		normalized.OperatorWalletAddress = wallet.Normalize(normalized.OperatorWalletAddress)
	}
	if needsUser {
		if !wallet.IsValidAddress(normalized.UserWalletAddress) {
			return nil, gatewayerrors.ConfigInvalid("user_wallet_address", "required for the selected custody_mode")
		}
		normalized.UserWalletAddress = wallet.Normalize(normalized.UserWalletAddress)
		if normalized.UserWalletAddress != wallet.Normalize(sessionWallet) {
			return nil, gatewayerrors.ConfigInvalid("user_wallet_address", "must equal the session's wallet address")
		}
	}

	key := normalized.GatewayAuthKey
	if len(key) < 16 || len(key) > 128 {
		return nil, gatewayerrors.ConfigInvalid("gateway_auth_key", "must be between 16 and 128 characters")
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return nil, gatewayerrors.ConfigInvalid("gateway_auth_key", "must not contain whitespace")
	}

	switch normalized.VerificationBackend {
	case VerificationBackendEigencloudPrimary:
	case VerificationBackendFallbackOnly:
		if !normalized.VerificationFallbackEnabled {
			return nil, gatewayerrors.ConfigInvalid("verification_backend", "fallback_only requires verification_fallback_enabled=true")
		}
	default:
		return nil, gatewayerrors.ConfigInvalid("verification_backend", "must be one of eigencloud_primary, fallback_only")
	}

	if strings.ContainsAny(normalized.VerificationFallbackChainPath, "\n\r") {
		return nil, gatewayerrors.ConfigInvalid("verification_fallback_chain_path", "must not contain line terminators")
	}

	if !normalized.AcceptTerms {
		return nil, gatewayerrors.ConfigInvalid("accept_terms", "must be true")
	}

	return &normalized, nil
}

func checkRange(field string, value, min, max float64) error {
	if value < min || value > max {
		return gatewayerrors.ConfigInvalid(field, "out of range")
	}
	return nil
}

func upperDedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
