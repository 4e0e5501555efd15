package accounts_test

import (
	"testing"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuerUser() *accounts.User {
	return &accounts.User{
		ID:           uuid.New(),
		Email:        "jane@example.com",
		PasswordHash: "$2a$04$hash",
	}
}

func TestVerificationTokenIssuer(t *testing.T) {
	clock := newTestClock()
	issuer := accounts.NewVerificationTokenIssuer(testSecret, time.Hour, accounts.WithTokenClock(clock.Now))

	t.Run("verifies a fresh token", func(t *testing.T) {
		user := newIssuerUser()
		token, err := issuer.Issue(user)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.True(t, issuer.Verify(user, token))
	})

	t.Run("rejects a token for another user", func(t *testing.T) {
		token, err := issuer.Issue(newIssuerUser())
		require.NoError(t, err)
		assert.False(t, issuer.Verify(newIssuerUser(), token))
	})

	t.Run("rejects once the user is activated", func(t *testing.T) {
		user := newIssuerUser()
		token, err := issuer.Issue(user)
		require.NoError(t, err)

		user.IsActive = true
		assert.False(t, issuer.Verify(user, token))
	})

	t.Run("rejects after a login or password change", func(t *testing.T) {
		user := newIssuerUser()
		token, err := issuer.Issue(user)
		require.NoError(t, err)

		loggedIn := clock.Now()
		user.LoggedInAt = &loggedIn
		assert.False(t, issuer.Verify(user, token))

		user.LoggedInAt = nil
		user.PasswordHash = "$2a$04$other"
		assert.False(t, issuer.Verify(user, token))
	})

	t.Run("ignores email case", func(t *testing.T) {
		user := newIssuerUser()
		token, err := issuer.Issue(user)
		require.NoError(t, err)

		user.Email = "Jane@Example.com"
		assert.True(t, issuer.Verify(user, token))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		user := newIssuerUser()
		assert.False(t, issuer.Verify(user, ""))
		assert.False(t, issuer.Verify(user, "not-a-token"))
		assert.False(t, issuer.Verify(nil, "not-a-token"))
	})

	t.Run("rejects tokens signed with another secret", func(t *testing.T) {
		user := newIssuerUser()
		other := accounts.NewVerificationTokenIssuer("another-secret-of-some-length", time.Hour, accounts.WithTokenClock(clock.Now))
		token, err := other.Issue(user)
		require.NoError(t, err)
		assert.False(t, issuer.Verify(user, token))
	})
}

func TestVerificationTokenExpires(t *testing.T) {
	clock := newTestClock()
	issuer := accounts.NewVerificationTokenIssuer(testSecret, time.Hour, accounts.WithTokenClock(clock.Now))

	user := newIssuerUser()
	token, err := issuer.Issue(user)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	assert.True(t, issuer.Verify(user, token))

	clock.Advance(2 * time.Minute)
	assert.False(t, issuer.Verify(user, token))
}

func TestVerificationTokenIssuerDefaults(t *testing.T) {
	issuer := accounts.NewVerificationTokenIssuer(testSecret, 0)
	assert.Equal(t, accounts.DefaultVerificationTokenTTL, issuer.TTL())

	_, err := issuer.Issue(&accounts.User{})
	assert.Error(t, err)

	_, err = accounts.NewVerificationTokenIssuer("", time.Hour).Issue(newIssuerUser())
	assert.Error(t, err)
}

func TestVerificationTokenIssuerChecksIssuer(t *testing.T) {
	user := newIssuerUser()

	a := accounts.NewVerificationTokenIssuer(testSecret, time.Hour, accounts.WithTokenIssuerName("a"))
	b := accounts.NewVerificationTokenIssuer(testSecret, time.Hour, accounts.WithTokenIssuerName("b"))

	token, err := a.Issue(user)
	require.NoError(t, err)
	assert.True(t, a.Verify(user, token))
	assert.False(t, b.Verify(user, token))
}
