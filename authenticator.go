package accounts

import (
	"context"
	"reflect"
	"time"
)

// Auther turns verified credentials into signed sessions
type Auther struct {
	provider        IdentityProvider
	tokenExpiration time.Duration
	logger          Logger
	tokenService    *TokenService
	activitySink    ActivitySink
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, opts Config) *Auther {
	expiration := time.Duration(opts.GetTokenExpiration()) * time.Hour
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}

	return &Auther{
		provider:        provider,
		tokenExpiration: expiration,
		logger:          defLogger{},
		tokenService: NewTokenService(
			[]byte(opts.GetSigningKey()),
			opts.GetIssuer(),
			opts.GetAudience(),
			defLogger{},
		),
		activitySink: noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger == nil {
		return s
	}
	s.logger = logger
	s.tokenService.logger = logger
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() *TokenService {
	return s.tokenService
}

func (s *Auther) Login(ctx context.Context, identifier, password string) (string, error) {
	return s.LoginWithTTL(ctx, identifier, password, s.tokenExpiration)
}

// LoginWithTTL verifies the credentials and signs a session valid for ttl
func (s *Auther) LoginWithTTL(ctx context.Context, identifier, password string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.tokenExpiration
	}

	identity, err := s.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		// the distinction stays in logs and activity, callers show one message
		s.logger.Warn("Login verify identity error", "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, "", loginFailureReason(err), map[string]any{
			"identifier": identifier,
		})
		return "", err
	}

	if identity == nil || reflect.ValueOf(identity).IsZero() {
		s.logger.Error("Login identity is nil or zero value")
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, "", "not_found", map[string]any{
			"identifier": identifier,
		})
		return "", ErrIdentityNotFound
	}

	if !identity.IsActive() {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, identity.ID(), "inactive", map[string]any{
			"identifier": identifier,
		})
		return "", ErrInactiveAccount
	}

	token, err := s.tokenService.Generate(identity, ttl)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, identity.ID(), "token", map[string]any{
			"identifier": identifier,
		})
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, identity.ID(), "", map[string]any{
		"identifier": identifier,
	})

	return token, nil
}

// Logout records the event, the session itself lives in the client cookie
func (s *Auther) Logout(ctx context.Context, session Session) {
	userID := ""
	if session != nil {
		userID = session.GetUserID()
	}
	s.emitAuthEvent(ctx, ActivityEventLogout, userID, "", nil)
}

func (s *Auther) IdentityFromSession(ctx context.Context, session Session) (Identity, error) {
	if session == nil {
		return nil, ErrUnableToFindSession
	}

	identity, err := s.provider.FindIdentityByIdentifier(ctx, session.GetUserID())
	if err != nil {
		s.logger.Error("IdentityFromSession findidentity by identifier: %s", err)
		return nil, err
	}

	return identity, nil
}

func (s *Auther) SessionFromToken(raw string) (Session, error) {
	claims, err := s.tokenService.Validate(raw)
	if err != nil {
		s.logger.Debug("SessionFromToken validation failed", "error", err)
		return nil, err
	}

	session, err := sessionFromClaims(claims)
	if err != nil {
		s.logger.Error("SessionFromToken failed to create session from claims", "error", err)
		return nil, err
	}

	return session, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, userID, reason string, metadata map[string]any) {
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: eventType,
		UserID:    userID,
		Reason:    reason,
		Metadata:  metadata,
	})
}

func loginFailureReason(err error) string {
	switch {
	case hasTextCode(err, TextCodeInactiveAccount):
		return "inactive"
	case hasTextCode(err, TextCodeInvalidCreds):
		return "invalid_credentials"
	default:
		return "internal"
	}
}
