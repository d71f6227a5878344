// Package onboarding implements the gateway's four-step onboarding
// conversation state machine.
package onboarding

import "time"

const (
	StepCollectObjective   = "collect_objective"
	StepCollectAssignments = "collect_assignments"
	StepConfirmAndSign     = "confirm_and_sign"
	StepReadyToSign        = "ready_to_sign"
)

// TranscriptEntry is one turn of the onboarding conversation.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Step4Payload is emitted once the conversation reaches ready_to_sign.
type Step4Payload struct {
	ReadyToSign              bool     `json:"ready_to_sign"`
	ConfirmationRequired     bool     `json:"confirmation_required"`
	UnresolvedRequiredFields []string `json:"unresolved_required_fields"`
	SignatureAction          string   `json:"signature_action"`
}

// State is the per-session onboarding conversation state.
type State struct {
	SessionID     string            `json:"session_id"`
	CurrentStep   string            `json:"current_step"`
	Completed     bool              `json:"completed"`
	Objective     string            `json:"objective,omitempty"`
	MissingFields []string          `json:"missing_fields"`
	Step4Payload  *Step4Payload     `json:"step4_payload,omitempty"`
	Transcript    []TranscriptEntry `json:"transcript"`
	UpdatedAt     time.Time         `json:"updated_at"`

	// assignments tracks which step-2 fields have been satisfied so that
	// repeated identical turns are idempotent.
	assignments map[string]string
}

// NewState returns the initial onboarding state for a freshly created session.
func NewState(sessionID string, now time.Time) *State {
	return &State{
		SessionID:     sessionID,
		CurrentStep:   StepCollectObjective,
		MissingFields: []string{"objective"},
		Transcript:    []TranscriptEntry{},
		UpdatedAt:     now,
		assignments:   map[string]string{},
	}
}

// IsTerminal reports whether the state has reached ready_to_sign with no
// unresolved fields. Verify refuses to sign until this holds.
func (s *State) IsTerminal() bool {
	return s.CurrentStep == StepReadyToSign && len(s.MissingFields) == 0
}
