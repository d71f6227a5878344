// Package preflight implements the gateway's deterministic funding
// preflight check battery.
package preflight

import (
	"github.com/enclagent/gateway/domain/policy"
	"github.com/enclagent/gateway/domain/session"
)

const (
	CheckWalletBinding                = "wallet_binding"
	CheckIdentityTokenPresent         = "identity_token_present"
	CheckPolicySelfConsistent         = "policy_self_consistent"
	CheckGasReserveEstimate           = "gas_reserve_estimate"
	CheckFeeBudgetReserve             = "fee_budget_reserve"
	CheckVerificationBackendReachable = "verification_backend_reachable"
)

const (
	ResultPassed  = "passed"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Check is a pure function of (walletAddress, sess, cfg) used to order the
// canonical battery; kept as a named type so the ordered list below is the
// single source of truth for both execution order and documentation.
type Check struct {
	ID  string
	Run func(walletAddress string, sess *session.Session, cfg *policy.Config) (status, detail string)
}

// IdentityTokenPresence is supplied by the caller (the HTTP facade), since
// whether a Privy identity token was presented is a property of the current
// /verify request, not of the session or config.
type IdentityTokenPresence func() bool

// Battery returns the canonical ordered check battery.
// identityTokenPresent reports whether the in-flight /verify request carried
// an identity token; verificationReachable probes the verification backend's
// liveness (skipped entirely when the backend is fallback_only).
func Battery(identityTokenPresent IdentityTokenPresence, verificationReachable func(cfg *policy.Config) (ok bool, detail string)) []Check {
	return []Check{
		{ID: CheckWalletBinding, Run: checkWalletBinding},
		{ID: CheckIdentityTokenPresent, Run: func(walletAddress string, sess *session.Session, cfg *policy.Config) (string, string) {
			if identityTokenPresent == nil || identityTokenPresent() {
				return ResultPassed, "identity token present"
			}
			return ResultFailed, "identity token missing"
		}},
		{ID: CheckPolicySelfConsistent, Run: checkPolicySelfConsistent},
		{ID: CheckGasReserveEstimate, Run: checkGasReserveEstimate},
		{ID: CheckFeeBudgetReserve, Run: checkFeeBudgetReserve},
		{ID: CheckVerificationBackendReachable, Run: func(walletAddress string, sess *session.Session, cfg *policy.Config) (string, string) {
			if cfg != nil && cfg.VerificationBackend == policy.VerificationBackendFallbackOnly {
				return ResultSkipped, "fallback_only backend does not require reachability"
			}
			if verificationReachable == nil {
				return ResultPassed, "no reachability probe configured"
			}
			ok, detail := verificationReachable(cfg)
			if ok {
				return ResultPassed, detail
			}
			return ResultFailed, detail
		}},
	}
}

func checkWalletBinding(walletAddress string, sess *session.Session, cfg *policy.Config) (string, string) {
	if sess == nil || sess.WalletAddress == "" {
		return ResultFailed, "session has no bound wallet"
	}
	if walletAddress != sess.WalletAddress {
		return ResultFailed, "wallet address does not match session"
	}
	return ResultPassed, "wallet bound to session"
}

func checkPolicySelfConsistent(walletAddress string, sess *session.Session, cfg *policy.Config) (string, string) {
	if cfg == nil {
		return ResultFailed, "no validated config attached to session"
	}
	if cfg.PerTradeNotionalCapUSD > cfg.MaxAllocationUSD {
		return ResultFailed, "per_trade_notional_cap_usd exceeds max_allocation_usd"
	}
	if cfg.MaxLeverage > cfg.LeverageCap {
		return ResultFailed, "max_leverage exceeds leverage_cap"
	}
	return ResultPassed, "policy internally consistent"
}

func checkGasReserveEstimate(walletAddress string, sess *session.Session, cfg *policy.Config) (string, string) {
	if cfg == nil {
		return ResultFailed, "no config to estimate gas reserve from"
	}
	if cfg.MaxPositionSizeUSD <= 0 {
		return ResultFailed, "max_position_size_usd must be positive to estimate a gas reserve"
	}
	return ResultPassed, "gas reserve estimate within bounds"
}

func checkFeeBudgetReserve(walletAddress string, sess *session.Session, cfg *policy.Config) (string, string) {
	if cfg == nil {
		return ResultFailed, "no config to derive a fee budget from"
	}
	if cfg.MaxAllocationUSD <= 0 {
		return ResultFailed, "max_allocation_usd must be positive to reserve a fee budget"
	}
	return ResultPassed, "fee budget reserved"
}

// Run executes the battery in order against the given inputs, returning the
// ordered results plus the aggregate status and failure category (the id of
// the first failing check, if any).
func Run(battery []Check, walletAddress string, sess *session.Session, cfg *policy.Config) (results []session.PreflightCheckResult, aggregateStatus string, failureCategory string) {
	results = make([]session.PreflightCheckResult, 0, len(battery))
	aggregateStatus = ResultPassed
	for _, c := range battery {
		status, detail := c.Run(walletAddress, sess, cfg)
		results = append(results, session.PreflightCheckResult{CheckID: c.ID, Status: status, Detail: detail})
		if status == ResultFailed && failureCategory == "" {
			failureCategory = c.ID
			aggregateStatus = ResultFailed
		}
	}
	return results, aggregateStatus, failureCategory
}
