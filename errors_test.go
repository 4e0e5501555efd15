package accounts_test

import (
	"errors"
	"testing"

	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassifiers(t *testing.T) {
	wrapped := goerrors.Wrap(errors.New("boom"), goerrors.CategoryOperation, "dispatch").
		WithTextCode(accounts.TextCodeEmailDispatch)

	tests := []struct {
		name     string
		err      error
		conflict bool
		dispatch bool
		auth     bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: errors.New("plain")},
		{name: "conflict", err: accounts.ErrConflict, conflict: true},
		{name: "dispatch", err: accounts.ErrEmailDispatch, dispatch: true},
		{name: "wrapped dispatch", err: wrapped, dispatch: true},
		{name: "invalid credentials", err: accounts.ErrMismatchedHashAndPassword, auth: true},
		{name: "inactive", err: accounts.ErrInactiveAccount, auth: true},
		{name: "session", err: accounts.ErrUnableToFindSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.conflict, accounts.IsConflict(tt.err))
			assert.Equal(t, tt.dispatch, accounts.IsEmailDispatch(tt.err))
			assert.Equal(t, tt.auth, accounts.IsAuthFailure(tt.err))
		})
	}
}

func TestSentinelErrorCodes(t *testing.T) {
	assert.Equal(t, goerrors.CategoryConflict, accounts.ErrConflict.Category)
	assert.Equal(t, goerrors.CodeConflict, accounts.ErrConflict.Code)
	assert.Equal(t, goerrors.CategoryAuth, accounts.ErrMismatchedHashAndPassword.Category)
	assert.Equal(t, goerrors.CodeUnauthorized, accounts.ErrInactiveAccount.Code)
	assert.Equal(t, accounts.TextCodeVerificationFailed, accounts.ErrVerificationFailed.TextCode)
}
