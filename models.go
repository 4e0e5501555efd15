package accounts

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the account record
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Username      *string    `bun:"username,unique" json:"username,omitempty"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	IsActive      bool       `bun:"is_active,notnull" json:"is_active"`
	FirstName     string     `bun:"first_name" json:"first_name,omitempty"`
	LastName      string     `bun:"last_name" json:"last_name,omitempty"`
	Phone         string     `bun:"phone_number" json:"phone_number,omitempty"`
	DateJoined    time.Time  `bun:"date_joined,notnull" json:"date_joined"`
	LoggedInAt    *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// GetUsername returns the username or an empty string
func (u *User) GetUsername() string {
	if u == nil || u.Username == nil {
		return ""
	}
	return *u.Username
}

// SetUsername stores the username, an empty value is persisted as NULL
func (u *User) SetUsername(username string) *User {
	username = strings.TrimSpace(username)
	if username == "" {
		u.Username = nil
		return u
	}
	u.Username = &username
	return u
}

// Fingerprint digests the mutable fields a verification token is bound to.
// Activation, a password change, an email change or a login all change it.
func (u *User) Fingerprint() string {
	if u == nil {
		return ""
	}

	loggedIn := ""
	if u.LoggedInAt != nil {
		loggedIn = strconv.FormatInt(u.LoggedInAt.UTC().Unix(), 10)
	}

	h := sha256.New()
	for _, part := range []string{
		u.ID.String(),
		normalizeEmail(u.Email),
		u.PasswordHash,
		strconv.FormatBool(u.IsActive),
		loggedIn,
	} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Status maps the persisted flag to a verification state
func (u *User) Status() VerificationState {
	if u == nil {
		return StatePendingCreation
	}
	if u.IsActive {
		return StateActive
	}
	return StateInactive
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
