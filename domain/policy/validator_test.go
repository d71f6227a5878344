package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

const testSessionWallet = "0xabcdef1234567890abcdef1234567890abcdef12"

func validConfig() *Config {
	return &Config{
		ProfileName:                     "alpha_v1",
		ProfileDomain:                   "trading",
		SymbolAllowlist:                 []string{"btc", "eth"},
		RequestTimeoutMs:                30000,
		MaxRetries:                      3,
		RetryBackoffMs:                  1000,
		MaxPositionSizeUSD:              5000,
		LeverageCap:                     5,
		MaxLeverage:                     2,
		MaxAllocationUSD:                10000,
		PerTradeNotionalCapUSD:          1000,
		MaxSlippageBps:                  50,
		CustodyMode:                     CustodyModeOperatorWallet,
		OperatorWalletAddress:           "0xDEF1234567890def1234567890def1234567890a",
		GatewayAuthKey:                  "k0123456789abcdef",
		VerificationBackend:             VerificationBackendEigencloudPrimary,
		VerificationEigencloudTimeoutMs: 10000,
		AcceptTerms:                     true,
	}
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	svcErr := gatewayerrors.GetServiceError(err)
	require.NotNil(t, svcErr)
	field, _ := svcErr.Details["field"].(string)
	return field
}

func TestValidate_HappyPathNormalizes(t *testing.T) {
	cfg := validConfig()
	out, err := Validate(cfg, testSessionWallet)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, out.SymbolAllowlist)
	assert.Equal(t, "0xdef1234567890def1234567890def1234567890a", out.OperatorWalletAddress)
}

func TestValidate_NilConfig(t *testing.T) {
	_, err := Validate(nil, testSessionWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config_invalid")
}

func TestValidate_EmptyAllowlistRejected(t *testing.T) {
	cfg := validConfig()
	cfg.SymbolAllowlist = nil
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "symbol_allowlist", fieldOf(t, err))
}

func TestValidate_SymbolListsDedupedAndUppercased(t *testing.T) {
	cfg := validConfig()
	cfg.SymbolAllowlist = []string{"btc", "BTC", " eth "}
	out, err := Validate(cfg, testSessionWallet)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, out.SymbolAllowlist)
}

func TestValidate_PerTradeNotionalCapExceedsMaxAllocation(t *testing.T) {
	cfg := validConfig()
	cfg.MaxAllocationUSD = 1000
	cfg.PerTradeNotionalCapUSD = 1001
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "per_trade_notional_cap_usd", fieldOf(t, err))
}

func TestValidate_MaxLeverageExceedsLeverageCap(t *testing.T) {
	cfg := validConfig()
	cfg.LeverageCap = 2
	cfg.MaxLeverage = 3
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "max_leverage", fieldOf(t, err))
}

func TestValidate_NumericRangeBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"request_timeout_ms too low", func(c *Config) { c.RequestTimeoutMs = 999 }},
		{"request_timeout_ms too high", func(c *Config) { c.RequestTimeoutMs = 120001 }},
		{"max_retries too high", func(c *Config) { c.MaxRetries = 11 }},
		{"retry_backoff_ms too high", func(c *Config) { c.RetryBackoffMs = 30001 }},
		{"max_position_size_usd too low", func(c *Config) { c.MaxPositionSizeUSD = 0 }},
		{"max_position_size_usd too high", func(c *Config) { c.MaxPositionSizeUSD = 1e7 + 1 }},
		{"leverage_cap too low", func(c *Config) { c.LeverageCap = 0.5 }},
		{"leverage_cap too high", func(c *Config) { c.LeverageCap = 21 }},
		{"max_allocation_usd too low", func(c *Config) { c.MaxAllocationUSD = 0 }},
		{"max_slippage_bps too low", func(c *Config) { c.MaxSlippageBps = 0 }},
		{"max_slippage_bps too high", func(c *Config) { c.MaxSlippageBps = 5001 }},
		{"verification_eigencloud_timeout_ms too high", func(c *Config) { c.VerificationEigencloudTimeoutMs = 120001 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			_, err := Validate(cfg, testSessionWallet)
			require.Error(t, err)
		})
	}
}

func TestValidate_CustodyModeRequiresOperatorWallet(t *testing.T) {
	cfg := validConfig()
	cfg.CustodyMode = CustodyModeOperatorWallet
	cfg.OperatorWalletAddress = ""
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "operator_wallet_address", fieldOf(t, err))
}

func TestValidate_UserWalletMustEqualSessionWallet(t *testing.T) {
	cfg := validConfig()
	cfg.CustodyMode = CustodyModeUserWallet
	cfg.OperatorWalletAddress = ""
	cfg.UserWalletAddress = "0x1111111111111111111111111111111111111111"
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "user_wallet_address", fieldOf(t, err))
}

func TestValidate_UserWalletMatchingSessionWalletPasses(t *testing.T) {
	cfg := validConfig()
	cfg.CustodyMode = CustodyModeUserWallet
	cfg.OperatorWalletAddress = ""
	cfg.UserWalletAddress = testSessionWallet
	out, err := Validate(cfg, testSessionWallet)
	require.NoError(t, err)
	assert.Equal(t, testSessionWallet, out.UserWalletAddress)
}

func TestValidate_DualModeRequiresBothWallets(t *testing.T) {
	cfg := validConfig()
	cfg.CustodyMode = CustodyModeDual
	cfg.OperatorWalletAddress = "0xDEF1234567890def1234567890def1234567890a"
	cfg.UserWalletAddress = testSessionWallet
	out, err := Validate(cfg, testSessionWallet)
	require.NoError(t, err)
	assert.Equal(t, "0xdef1234567890def1234567890def1234567890a", out.OperatorWalletAddress)
}

func TestValidate_InvalidCustodyMode(t *testing.T) {
	cfg := validConfig()
	cfg.CustodyMode = "some_other_mode"
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "custody_mode", fieldOf(t, err))
}

func TestValidate_GatewayAuthKeyLengthBounds(t *testing.T) {
	cfg := validConfig()
	cfg.GatewayAuthKey = "short"
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "gateway_auth_key", fieldOf(t, err))

	cfg = validConfig()
	cfg.GatewayAuthKey = "has a space in it xx"
	_, err = Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "gateway_auth_key", fieldOf(t, err))
}

func TestValidate_FallbackOnlyRequiresFallbackEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.VerificationBackend = VerificationBackendFallbackOnly
	cfg.VerificationFallbackEnabled = false
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "verification_backend", fieldOf(t, err))

	cfg.VerificationFallbackEnabled = true
	_, err = Validate(cfg, testSessionWallet)
	require.NoError(t, err)
}

func TestValidate_InvalidVerificationBackend(t *testing.T) {
	cfg := validConfig()
	cfg.VerificationBackend = "unknown_backend"
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
}

func TestValidate_FallbackChainPathRejectsLineTerminators(t *testing.T) {
	cfg := validConfig()
	cfg.VerificationFallbackChainPath = "a\nb"
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "verification_fallback_chain_path", fieldOf(t, err))
}

func TestValidate_AcceptTermsMustBeTrue(t *testing.T) {
	cfg := validConfig()
	cfg.AcceptTerms = false
	_, err := Validate(cfg, testSessionWallet)
	require.Error(t, err)
	assert.Equal(t, "accept_terms", fieldOf(t, err))
}
