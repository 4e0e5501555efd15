package accounts

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// VerificationAudience is the audience claim of email verification tokens
const VerificationAudience = "email-verification"

// DefaultVerificationTokenTTL bounds how long a verification link stays valid
const DefaultVerificationTokenTTL = 72 * time.Hour

// TokenIssuer derives and checks email verification tokens
type TokenIssuer interface {
	Issue(user *User) (string, error)
	Verify(user *User, token string) bool
}

// VerificationTokenIssuer signs tokens with a key derived from the server
// secret and the user's state fingerprint. Nothing is stored: once the user
// state changes (e.g. activation) every token issued before stops verifying.
type VerificationTokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
	logger Logger
}

var _ TokenIssuer = (*VerificationTokenIssuer)(nil)

// TokenIssuerOption customizes the issuer
type TokenIssuerOption func(*VerificationTokenIssuer)

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenIssuerOption {
	return func(t *VerificationTokenIssuer) {
		if clock != nil {
			t.now = clock
		}
	}
}

// WithTokenIssuerName sets the iss claim
func WithTokenIssuerName(issuer string) TokenIssuerOption {
	return func(t *VerificationTokenIssuer) {
		t.issuer = issuer
	}
}

// WithTokenLogger overrides the logger
func WithTokenLogger(logger Logger) TokenIssuerOption {
	return func(t *VerificationTokenIssuer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewVerificationTokenIssuer returns an issuer, a zero ttl uses DefaultVerificationTokenTTL
func NewVerificationTokenIssuer(secret string, ttl time.Duration, opts ...TokenIssuerOption) *VerificationTokenIssuer {
	if ttl <= 0 {
		ttl = DefaultVerificationTokenTTL
	}

	t := &VerificationTokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	return t
}

// Issue creates a token bound to the user's current state
func (t *VerificationTokenIssuer) Issue(user *User) (string, error) {
	if user == nil || user.ID == uuid.Nil {
		return "", goerrors.New("cannot issue verification token for unsaved user", goerrors.CategoryInternal)
	}

	if len(t.secret) == 0 {
		return "", goerrors.New("verification token secret is not configured", goerrors.CategoryInternal)
	}

	now := t.now().UTC().Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   user.ID.String(),
		Audience:  jwt.ClaimStrings{VerificationAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.keyFor(user))
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign verification token")
	}

	return signed, nil
}

// Verify recomputes the key from the user's current state and validates the token
func (t *VerificationTokenIssuer) Verify(user *User, raw string) bool {
	if user == nil || user.ID == uuid.Nil || raw == "" || len(t.secret) == 0 {
		return false
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(VerificationAudience),
		jwt.WithSubject(user.ID.String()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(tk *jwt.Token) (any, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tk.Header["alg"])
		}
		return t.keyFor(user), nil
	}, parserOptions...)

	if err != nil {
		t.logger.Debug("verification token rejected", "user_id", user.ID.String(), "error", err)
		return false
	}

	return token.Valid
}

// TTL returns the validity window of issued tokens
func (t *VerificationTokenIssuer) TTL() time.Duration {
	return t.ttl
}

func (t *VerificationTokenIssuer) keyFor(user *User) []byte {
	key := make([]byte, 0, len(t.secret)+65)
	key = append(key, t.secret...)
	key = append(key, ':')
	key = append(key, user.Fingerprint()...)
	return key
}
