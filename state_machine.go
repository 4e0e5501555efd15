package accounts

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// VerificationState is a step in the account verification lifecycle
type VerificationState string

const (
	StatePendingCreation    VerificationState = "pending_creation"
	StateInactive           VerificationState = "inactive"
	StateEmailSent          VerificationState = "email_sent"
	StateCreationFailed     VerificationState = "creation_failed"
	StateActive             VerificationState = "active"
	StateVerificationFailed VerificationState = "verification_failed"
)

var verificationTransitions = map[VerificationState]map[VerificationState]struct{}{
	StatePendingCreation: {
		StateInactive:       {},
		StateCreationFailed: {},
	},
	StateInactive: {
		StateEmailSent:          {},
		StateCreationFailed:     {},
		StateActive:             {},
		StateVerificationFailed: {},
	},
	StateEmailSent: {
		StateActive:             {},
		StateVerificationFailed: {},
	},
	// a failed redemption leaves the account where it was, so the user may retry
	StateVerificationFailed: {
		StateActive:             {},
		StateVerificationFailed: {},
	},
	// re-visiting a consumed link reports failure without regressing the account
	StateActive: {
		StateVerificationFailed: {},
	},
}

// IsTerminal reports whether no further transitions leave the state
func (s VerificationState) IsTerminal() bool {
	return s == StateCreationFailed
}

func (s VerificationState) String() string {
	return string(s)
}

// CanTransition reports whether moving from one state to another is allowed
func CanTransition(from, to VerificationState) bool {
	targets, ok := verificationTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// Transition validates a state change and returns the new state
func Transition(from, to VerificationState) (VerificationState, error) {
	if !CanTransition(from, to) {
		return from, goerrors.Wrap(
			fmt.Errorf("%s -> %s", from, to),
			ErrInvalidTransition.Category,
			ErrInvalidTransition.Message,
		).WithTextCode(ErrInvalidTransition.TextCode).
			WithMetadata(map[string]any{
				"from": string(from),
				"to":   string(to),
			})
	}
	return to, nil
}
