package preflight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enclagent/gateway/domain/policy"
	"github.com/enclagent/gateway/domain/session"
)

const testWallet = "0xabcdef1234567890abcdef1234567890abcdef12"

func validSess() *session.Session {
	return &session.Session{SessionID: "s1", WalletAddress: testWallet}
}

func validCfg() *policy.Config {
	return &policy.Config{
		MaxPositionSizeUSD:     5000,
		MaxAllocationUSD:       10000,
		PerTradeNotionalCapUSD: 1000,
		MaxLeverage:            2,
		LeverageCap:            5,
		VerificationBackend:    policy.VerificationBackendEigencloudPrimary,
	}
}

func TestRun_AllPassed(t *testing.T) {
	battery := Battery(func() bool { return true }, func(cfg *policy.Config) (bool, string) { return true, "reachable" })
	results, aggregate, category := Run(battery, testWallet, validSess(), validCfg())

	require.Len(t, results, 6)
	assert.Equal(t, ResultPassed, aggregate)
	assert.Empty(t, category)
	assert.Equal(t, CheckWalletBinding, results[0].CheckID)
}

func TestRun_WalletBindingFailsWhenMismatched(t *testing.T) {
	battery := Battery(func() bool { return true }, func(cfg *policy.Config) (bool, string) { return true, "" })
	results, aggregate, category := Run(battery, "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", validSess(), validCfg())

	assert.Equal(t, ResultFailed, aggregate)
	assert.Equal(t, CheckWalletBinding, category)
	assert.Equal(t, ResultFailed, results[0].Status)
}

func TestRun_IdentityTokenMissingFails(t *testing.T) {
	battery := Battery(func() bool { return false }, func(cfg *policy.Config) (bool, string) { return true, "" })
	_, aggregate, category := Run(battery, testWallet, validSess(), validCfg())

	assert.Equal(t, ResultFailed, aggregate)
	assert.Equal(t, CheckIdentityTokenPresent, category)
}

func TestRun_PolicySelfConsistencyFailsOnBadConfig(t *testing.T) {
	cfg := validCfg()
	cfg.PerTradeNotionalCapUSD = cfg.MaxAllocationUSD + 1
	battery := Battery(func() bool { return true }, func(cfg *policy.Config) (bool, string) { return true, "" })
	_, aggregate, category := Run(battery, testWallet, validSess(), cfg)

	assert.Equal(t, ResultFailed, aggregate)
	assert.Equal(t, CheckPolicySelfConsistent, category)
}

func TestRun_VerificationBackendSkippedWhenFallbackOnly(t *testing.T) {
	cfg := validCfg()
	cfg.VerificationBackend = policy.VerificationBackendFallbackOnly
	cfg.VerificationFallbackEnabled = true
	battery := Battery(func() bool { return true }, func(cfg *policy.Config) (bool, string) { return false, "unreachable" })
	results, aggregate, category := Run(battery, testWallet, validSess(), cfg)

	last := results[len(results)-1]
	assert.Equal(t, CheckVerificationBackendReachable, last.CheckID)
	assert.Equal(t, ResultSkipped, last.Status)
	assert.Equal(t, ResultPassed, aggregate)
	assert.Empty(t, category)
}

func TestRun_VerificationBackendUnreachableFailsWhenPrimary(t *testing.T) {
	battery := Battery(func() bool { return true }, func(cfg *policy.Config) (bool, string) { return false, "timed out" })
	_, aggregate, category := Run(battery, testWallet, validSess(), validCfg())

	assert.Equal(t, ResultFailed, aggregate)
	assert.Equal(t, CheckVerificationBackendReachable, category)
}

func TestRun_FirstFailureWinsAsCategory(t *testing.T) {
	battery := Battery(func() bool { return false }, func(cfg *policy.Config) (bool, string) { return false, "unreachable" })
	_, aggregate, category := Run(battery, "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", validSess(), validCfg())

	// wallet_binding runs before identity_token_present and verification_backend_reachable.
	assert.Equal(t, ResultFailed, aggregate)
	assert.Equal(t, CheckWalletBinding, category)
}

func TestRun_GasAndFeeChecksFailOnNonPositiveConfig(t *testing.T) {
	cfg := validCfg()
	cfg.MaxPositionSizeUSD = 0
	cfg.MaxAllocationUSD = 0
	cfg.PerTradeNotionalCapUSD = 0 // keep policy_self_consistent passing
	battery := Battery(func() bool { return true }, func(cfg *policy.Config) (bool, string) { return true, "" })
	_, aggregate, category := Run(battery, testWallet, validSess(), cfg)

	assert.Equal(t, ResultFailed, aggregate)
	assert.Equal(t, CheckGasReserveEstimate, category)
}
