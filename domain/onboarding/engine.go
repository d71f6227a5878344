package onboarding

import (
	"fmt"
	"strings"
	"time"

	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

// Engine implements the four-step onboarding conversation state machine.
// It is stateless; all state lives in the State value passed to each
// method, which the caller is responsible for persisting.
type Engine struct{}

// NewEngine returns an Engine. It carries no fields; it exists as a type so
// callers can depend on an interface-shaped collaborator in tests.
func NewEngine() *Engine { return &Engine{} }

func clone(s *State) *State {
	next := *s
	next.MissingFields = append([]string(nil), s.MissingFields...)
	next.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	next.assignments = make(map[string]string, len(s.assignments))
	for k, v := range s.assignments {
		next.assignments[k] = v
	}
	return &next
}

func appendTurn(s *State, role, message string, now time.Time) {
	s.Transcript = append(s.Transcript, TranscriptEntry{Role: role, Message: message, CreatedAt: now})
	s.UpdatedAt = now
}

// ProcessTurn accepts one free-text user turn and dispatches it to the
// handler appropriate for the state's current step. The literal control
// tokens "confirm plan" and "confirm sign" are recognized at any step but
// only take effect at their respective steps; elsewhere they are treated as
// that step's input: step 1 records the token as the objective, step 2
// ignores it (it holds no key=value pair), step 3 rejects anything but
// "confirm plan" with onboarding_precondition, and step 4 returns a hint
// without an error.
func (e *Engine) ProcessTurn(s *State, message string, now time.Time) (*State, string, error) {
	trimmed := strings.TrimSpace(message)

	switch s.CurrentStep {
	case StepCollectObjective:
		next, err := e.SubmitObjective(s, trimmed, now)
		return next, assistantReplyObjective(next, err), err
	case StepCollectAssignments:
		next, err := e.SubmitAssignments(s, trimmed, now)
		return next, assistantReplyAssignments(next, err), err
	case StepConfirmAndSign:
		if trimmed == "confirm plan" {
			next, err := e.ConfirmPlan(s, now)
			return next, assistantReplyConfirmPlan(next, err), err
		}
		next := clone(s)
		appendTurn(next, "user", message, now)
		return next, "send \"confirm plan\" to proceed", gatewayerrors.OnboardingPrecondition(s.CurrentStep, "expected the literal token \"confirm plan\"")
	case StepReadyToSign:
		if trimmed == "confirm sign" {
			next, err := e.ConfirmSign(s, now)
			return next, assistantReplyConfirmSign(next, err), err
		}
		next := clone(s)
		appendTurn(next, "user", message, now)
		if s.Completed {
			return next, "onboarding is already complete", nil
		}
		return next, "send \"confirm sign\" to complete onboarding", nil
	default:
		return s, "", gatewayerrors.Internal("unknown onboarding step", fmt.Errorf("step=%s", s.CurrentStep))
	}
}

// SubmitObjective handles step 1. A non-empty objective advances to step 2.
func (e *Engine) SubmitObjective(s *State, objective string, now time.Time) (*State, error) {
	next := clone(s)
	appendTurn(next, "user", objective, now)

	if next.CurrentStep != StepCollectObjective {
		return next, gatewayerrors.OnboardingPrecondition(s.CurrentStep, "objective already collected")
	}
	if objective == "" {
		return next, gatewayerrors.OnboardingRequiredVariables([]string{"objective"})
	}

	next.Objective = objective
	next.CurrentStep = StepCollectAssignments
	next.MissingFields = []string{"profile_name", "accept_terms", "gateway_auth_key"}
	return next, nil
}

var assignmentFields = map[string]struct{}{
	"profile_name":     {},
	"accept_terms":     {},
	"gateway_auth_key": {},
}

// SubmitAssignments handles step 2. raw is a comma-separated key=value list;
// recognized keys are removed from missing_fields. Repeating an identical
// assignment is a no-op.
func (e *Engine) SubmitAssignments(s *State, raw string, now time.Time) (*State, error) {
	next := clone(s)
	appendTurn(next, "user", raw, now)

	if next.CurrentStep != StepCollectAssignments {
		return next, gatewayerrors.OnboardingPrecondition(s.CurrentStep, "objective must be collected first")
	}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if _, recognized := assignmentFields[key]; !recognized {
			continue
		}
		next.assignments[key] = value
	}

	remaining := make([]string, 0, len(next.MissingFields))
	for field := range assignmentFields {
		if _, satisfied := next.assignments[field]; !satisfied {
			remaining = append(remaining, field)
		}
	}
	next.MissingFields = sortedIntersectOrder([]string{"profile_name", "accept_terms", "gateway_auth_key"}, remaining)

	if len(next.MissingFields) == 0 {
		next.CurrentStep = StepConfirmAndSign
	}
	return next, nil
}

func sortedIntersectOrder(order, set []string) []string {
	present := make(map[string]struct{}, len(set))
	for _, s := range set {
		present[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for _, o := range order {
		if _, ok := present[o]; ok {
			out = append(out, o)
		}
	}
	return out
}

// ConfirmPlan handles step 3's "confirm plan" token, advancing to the
// terminal ready_to_sign step and emitting its step4_payload.
func (e *Engine) ConfirmPlan(s *State, now time.Time) (*State, error) {
	next := clone(s)
	appendTurn(next, "user", "confirm plan", now)

	if next.CurrentStep != StepConfirmAndSign {
		return next, gatewayerrors.OnboardingPrecondition(s.CurrentStep, "assignments must be collected first")
	}

	next.CurrentStep = StepReadyToSign
	next.MissingFields = []string{}
	next.Step4Payload = &Step4Payload{
		ReadyToSign:              true,
		ConfirmationRequired:     false,
		UnresolvedRequiredFields: []string{},
		SignatureAction:          "produce_eip191_personal_sign",
	}
	return next, nil
}

// ConfirmSign handles the terminal step's "confirm sign" token, setting
// completed=true. Idempotent: calling it again once completed is a no-op.
func (e *Engine) ConfirmSign(s *State, now time.Time) (*State, error) {
	next := clone(s)
	appendTurn(next, "user", "confirm sign", now)

	if next.CurrentStep != StepReadyToSign {
		return next, gatewayerrors.OnboardingPrecondition(s.CurrentStep, "plan must be confirmed first")
	}
	next.Completed = true
	return next, nil
}

// Assignment returns a previously submitted step-2 value, if any.
func (s *State) Assignment(key string) (string, bool) {
	v, ok := s.assignments[key]
	return v, ok
}

func assistantReplyObjective(s *State, err error) string {
	if err != nil {
		return "please describe what you want this runtime to do"
	}
	return "objective recorded. now supply profile_name, accept_terms, and gateway_auth_key as key=value pairs"
}

func assistantReplyAssignments(s *State, err error) string {
	if err != nil {
		return "objective must be collected first"
	}
	if len(s.MissingFields) > 0 {
		return fmt.Sprintf("still missing: %s", strings.Join(s.MissingFields, ", "))
	}
	return "all required fields collected. send \"confirm plan\" to proceed"
}

func assistantReplyConfirmPlan(s *State, err error) string {
	if err != nil {
		return "complete the assignments step first"
	}
	return "plan confirmed. sign the challenge message, then send \"confirm sign\""
}

func assistantReplyConfirmSign(s *State, err error) string {
	if err != nil {
		return "confirm the plan first"
	}
	return "onboarding complete. you may now call /verify"
}
