package accounts

// UserIdentity adapts a User into the Identity interface.
type UserIdentity struct {
	user *User
}

var _ Identity = UserIdentity{}

// NewIdentityFromUser returns an Identity adapter for the provided user.
func NewIdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	return UserIdentity{user: user}
}

func (u UserIdentity) ID() string {
	if u.user == nil {
		return ""
	}
	return u.user.ID.String()
}

func (u UserIdentity) Username() string {
	return u.user.GetUsername()
}

func (u UserIdentity) Email() string {
	if u.user == nil {
		return ""
	}
	return u.user.Email
}

func (u UserIdentity) IsActive() bool {
	return u.user != nil && u.user.IsActive
}

// User returns the adapted record
func (u UserIdentity) User() *User {
	return u.user
}
