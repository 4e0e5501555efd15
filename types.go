package accounts

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// Logger is satisfied by glog loggers and the default stdout logger
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Session holds attributes that are part of an auth session
type Session interface {
	GetUserID() string
	GetUserUUID() (uuid.UUID, error)
	GetAudience() []string
	GetIssuer() string
	GetIssuedAt() *time.Time
	GetData() map[string]any
}

// Authenticator holds methods to deal with authentication
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (string, error)
	LoginWithTTL(ctx context.Context, identifier, password string, ttl time.Duration) (string, error)
	Logout(ctx context.Context, session Session)
	SessionFromToken(token string) (Session, error)
	IdentityFromSession(ctx context.Context, session Session) (Identity, error)
}

type LoginPayload interface {
	GetIdentifier() string
	GetPassword() string
	GetExtendedSession() bool
}

type HTTPAuthenticator interface {
	Login(ctx router.Context, payload LoginPayload) error
	Logout(ctx router.Context)
	CurrentSession(ctx router.Context) (Session, error)
	ProtectedRoute(errorHandler func(router.Context, error) error) router.MiddlewareFunc
	SetRedirect(ctx router.Context)
	GetRedirect(ctx router.Context, def string) string
}

// Identity holds the attributes of an identity
type Identity interface {
	ID() string
	Username() string
	Email() string
	IsActive() bool
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetContextKey() string
	GetTokenExpiration() int
	GetExtendedTokenDuration() int
	GetIssuer() string
	GetAudience() []string
	GetRejectedRouteKey() string
	GetRejectedRouteDefault() string
}

// IdentityProvider ensure we have a store to retrieve auth identity
type IdentityProvider interface {
	VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error)
	FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error)
}

// defLogger writes the message followed by the key/value pairs
type defLogger struct{}

var stdout io.Writer = os.Stdout

func (d defLogger) Error(msg string, args ...any) {
	d.log("ERR", msg, args...)
}

func (d defLogger) Warn(msg string, args ...any) {
	d.log("WRN", msg, args...)
}

func (d defLogger) Info(msg string, args ...any) {
	d.log("INF", msg, args...)
}

func (d defLogger) Debug(msg string, args ...any) {
	d.log("DBG", msg, args...)
}

func (d defLogger) log(level, msg string, args ...any) {
	line := append([]any{"[" + level + "] ACCOUNTS " + strings.TrimRight(msg, "\n")}, args...)
	fmt.Fprintln(stdout, line...)
}
