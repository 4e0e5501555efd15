package accounts

import (
	"context"

	"github.com/goliatone/go-errors"
)

// UserTracker is a store we can use to retrieve users
type UserTracker interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

// UserProvider checks credentials against the account store
type UserProvider struct {
	store  UserTracker
	logger Logger
}

var _ IdentityProvider = UserProvider{}

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserTracker) *UserProvider {
	return &UserProvider{
		store:  store,
		logger: defLogger{},
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	if l != nil {
		u.logger = l
	}
	return u
}

// VerifyIdentity will find the user by email, compare to the password, and
// return the identity. Unknown users, wrong passwords and inactive accounts
// all fail with an auth category error.
func (u UserProvider) VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error) {
	user, err := u.store.GetByEmail(ctx, identifier)
	if err != nil {
		if errors.IsNotFound(err) {
			// keep timing close to the wrong password path
			ComparePasswordAndHash(password, dummyPasswordHash())
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, ErrMismatchedHashAndPassword
	}

	if err := ensureAuthenticatableUser(user); err != nil {
		return nil, err
	}

	if err := u.store.TrackSuccessfulLogin(ctx, user); err != nil {
		u.logger.Error("failed to track successful login", "error", err)
	}

	return NewIdentityFromUser(user), nil
}

// FindIdentityByIdentifier resolves a session subject, inactive accounts
// are rejected so a deactivated user loses access on the next request
func (u UserProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error) {
	user, err := u.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if err := ensureAuthenticatableUser(user); err != nil {
		return nil, err
	}

	return NewIdentityFromUser(user), nil
}

func ensureAuthenticatableUser(user *User) error {
	if user == nil {
		return ErrIdentityNotFound
	}

	if !user.IsActive {
		return ErrInactiveAccount
	}

	return nil
}
