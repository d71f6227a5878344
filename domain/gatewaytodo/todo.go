// Package gatewaytodo derives the gateway TODO checklist as a pure
// function of a session snapshot. Nothing here mutates the
// session; status is recomputed fresh on every read.
package gatewaytodo

import "github.com/enclagent/gateway/domain/session"

const (
	SeverityRequired    = "required"
	SeverityRecommended = "recommended"

	StatusOpen      = "open"
	StatusSatisfied = "satisfied"
	StatusBlocked   = "blocked"

	OwnerUser     = "user"
	OwnerOperator = "operator"
)

// EvidenceRefs points a TODO back at the session facts that justify its
// status, so a UI can link straight to the relevant evidence surface.
type EvidenceRefs struct {
	SessionID          string `json:"session_id"`
	ProvisioningSource string `json:"provisioning_source"`
	VerificationLevel  string `json:"verification_level,omitempty"`
	ModuleState        string `json:"module_state"`
	ControlState       string `json:"control_state"`
}

// Todo is one derived checklist item.
type Todo struct {
	TodoID       string       `json:"todo_id"`
	Severity     string       `json:"severity"`
	Status       string       `json:"status"`
	Owner        string       `json:"owner"`
	Action       string       `json:"action"`
	EvidenceRefs EvidenceRefs `json:"evidence_refs"`
}

// Derive computes the checklist for a session snapshot, in the fixed order
// the module state machine's dependency chain implies: identity, policy,
// verification, provisioning, runtime, evidence.
func Derive(sess *session.Session) []Todo {
	refs := func(moduleState string) EvidenceRefs {
		return EvidenceRefs{
			SessionID:          sess.SessionID,
			ProvisioningSource: string(sess.ProvisioningSource),
			VerificationLevel:  sess.VerificationLevel,
			ModuleState:        moduleState,
			ControlState:       string(sess.RuntimeState),
		}
	}

	var todos []Todo

	identityStatus := StatusOpen
	if sess.Status != session.StatusPendingSignature {
		identityStatus = StatusSatisfied
	}
	todos = append(todos, Todo{
		TodoID:       "identity_signature",
		Severity:     SeverityRequired,
		Status:       identityStatus,
		Owner:        OwnerUser,
		Action:       "sign the challenge message with your wallet",
		EvidenceRefs: refs("identity"),
	})

	policyStatus := StatusOpen
	if sess.Status == session.StatusPendingSignature {
		policyStatus = StatusBlocked
	} else if sess.Config != nil {
		policyStatus = StatusSatisfied
	}
	todos = append(todos, Todo{
		TodoID:       "policy_config",
		Severity:     SeverityRequired,
		Status:       policyStatus,
		Owner:        OwnerUser,
		Action:       "complete onboarding to supply a validated policy configuration",
		EvidenceRefs: refs("policy"),
	})

	verificationStatus := StatusOpen
	switch {
	case sess.Config == nil:
		verificationStatus = StatusBlocked
	case sess.FundingPreflightStatus == session.PreflightPassed:
		verificationStatus = StatusSatisfied
	case sess.FundingPreflightStatus == session.PreflightFailed:
		verificationStatus = StatusOpen
	}
	todos = append(todos, Todo{
		TodoID:       "funding_preflight",
		Severity:     SeverityRequired,
		Status:       verificationStatus,
		Owner:        OwnerUser,
		Action:       "resolve the funding preflight failure and resubmit /verify",
		EvidenceRefs: refs("verification"),
	})

	provisioningStatus := StatusOpen
	switch sess.Status {
	case session.StatusPendingSignature:
		provisioningStatus = StatusBlocked
	case session.StatusReady:
		provisioningStatus = StatusSatisfied
	case session.StatusFailed, session.StatusExpired:
		provisioningStatus = StatusOpen
	}
	todos = append(todos, Todo{
		TodoID:       "provisioning",
		Severity:     SeverityRequired,
		Status:       provisioningStatus,
		Owner:        OwnerOperator,
		Action:       "provision or repair the dedicated runtime instance",
		EvidenceRefs: refs("provisioning"),
	})

	runtimeStatus := StatusOpen
	switch {
	case sess.Status != session.StatusReady:
		runtimeStatus = StatusBlocked
	case sess.RuntimeState == session.RuntimeRunning:
		runtimeStatus = StatusSatisfied
	}
	todos = append(todos, Todo{
		TodoID:       "runtime_running",
		Severity:     SeverityRecommended,
		Status:       runtimeStatus,
		Owner:        OwnerUser,
		Action:       "resume the runtime once ready to trade",
		EvidenceRefs: refs("runtime"),
	})

	evidenceStatus := StatusOpen
	if sess.Status == session.StatusReady {
		evidenceStatus = StatusSatisfied
	} else if sess.Status == session.StatusPendingSignature {
		evidenceStatus = StatusBlocked
	}
	todos = append(todos, Todo{
		TodoID:       "review_timeline_evidence",
		Severity:     SeverityRecommended,
		Status:       evidenceStatus,
		Owner:        OwnerUser,
		Action:       "review the session timeline before relying on this runtime",
		EvidenceRefs: refs("evidence"),
	})

	return todos
}

// Summary aggregates a checklist into the session's derived counters and a
// short status string.
func Summary(todos []Todo) (openRequired, openRecommended int, summary string) {
	for _, t := range todos {
		if t.Status != StatusOpen {
			continue
		}
		if t.Severity == SeverityRequired {
			openRequired++
		} else {
			openRecommended++
		}
	}
	switch {
	case openRequired > 0:
		summary = "action required"
	case openRecommended > 0:
		summary = "optional follow-ups remain"
	default:
		summary = "all clear"
	}
	return openRequired, openRecommended, summary
}
