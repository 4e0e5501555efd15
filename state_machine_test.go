package accounts_test

import (
	"testing"

	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerificationStateTransitions(t *testing.T) {
	tests := []struct {
		from    accounts.VerificationState
		to      accounts.VerificationState
		allowed bool
	}{
		{accounts.StatePendingCreation, accounts.StateInactive, true},
		{accounts.StatePendingCreation, accounts.StateCreationFailed, true},
		{accounts.StatePendingCreation, accounts.StateActive, false},
		{accounts.StateInactive, accounts.StateEmailSent, true},
		{accounts.StateInactive, accounts.StateCreationFailed, true},
		{accounts.StateInactive, accounts.StateActive, true},
		{accounts.StateEmailSent, accounts.StateActive, true},
		{accounts.StateEmailSent, accounts.StateVerificationFailed, true},
		{accounts.StateEmailSent, accounts.StateCreationFailed, false},
		{accounts.StateVerificationFailed, accounts.StateActive, true},
		{accounts.StateActive, accounts.StateVerificationFailed, true},
		{accounts.StateActive, accounts.StateActive, false},
		{accounts.StateActive, accounts.StateInactive, false},
		{accounts.StateCreationFailed, accounts.StateInactive, false},
		{accounts.StateCreationFailed, accounts.StateActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, accounts.CanTransition(tt.from, tt.to))

			next, err := accounts.Transition(tt.from, tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, next)
				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.from, next)

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			assert.Equal(t, accounts.TextCodeInvalidTransition, richErr.TextCode)
		})
	}
}

func TestCreationFailedIsTerminal(t *testing.T) {
	assert.True(t, accounts.StateCreationFailed.IsTerminal())
	assert.False(t, accounts.StateActive.IsTerminal())
	assert.False(t, accounts.StateInactive.IsTerminal())
}

func TestUserStatusFollowsActiveFlag(t *testing.T) {
	var missing *accounts.User
	assert.Equal(t, accounts.StatePendingCreation, missing.Status())
	assert.Equal(t, accounts.StateInactive, (&accounts.User{}).Status())
	assert.Equal(t, accounts.StateActive, (&accounts.User{IsActive: true}).Status())
}
