package accounts

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// CurrentUserKey is the request locals key holding the signed in Identity
const CurrentUserKey = "current_user"

type RouteAuthenticator struct {
	auth                   Authenticator
	cfg                    Config
	cookieDuration         time.Duration
	extendedCookieDuration time.Duration
	LoginRoute             string
	SecureCookies          bool
	Logger                 Logger
	AuthErrorHandler       func(c router.Context, err error) error
	ErrorHandler           func(c router.Context, err error) error
}

var _ HTTPAuthenticator = (*RouteAuthenticator)(nil)

func NewHTTPAuthenticator(auther Authenticator, cfg Config) (*RouteAuthenticator, error) {
	if auther == nil {
		return nil, errors.New("authenticator is required", errors.CategoryInternal)
	}

	cookieDuration := 24 * time.Hour
	if cfg.GetTokenExpiration() > 0 {
		cookieDuration = time.Duration(cfg.GetTokenExpiration()) * time.Hour
	}

	extendedCookieDuration := cookieDuration
	if cfg.GetExtendedTokenDuration() > 0 {
		extendedCookieDuration = time.Duration(cfg.GetExtendedTokenDuration()) * time.Hour
	}

	a := &RouteAuthenticator{
		cfg:                    cfg,
		auth:                   auther,
		Logger:                 defLogger{},
		LoginRoute:             "/",
		SecureCookies:          true,
		cookieDuration:         cookieDuration,
		extendedCookieDuration: extendedCookieDuration,
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

func (a RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

func (a RouteAuthenticator) GetExtendedCookieDuration() time.Duration {
	return a.extendedCookieDuration
}

// ProtectedRoute only lets requests with a valid session of an active user
// through. The session and identity are stored in the request locals, the
// session is also bound to the request context.
func (a *RouteAuthenticator) ProtectedRoute(errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	if errorHandler == nil {
		errorHandler = a.ErrorHandler
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if _, err := a.CurrentSession(c); err != nil {
				return errorHandler(c, err)
			}
			return next(c)
		}
	}
}

// CurrentSession resolves the session cookie, it fails when the cookie is
// missing, invalid, expired, or belongs to a user that is no longer active
func (a *RouteAuthenticator) CurrentSession(c router.Context) (Session, error) {
	if session, ok := c.Locals(a.cfg.GetContextKey()).(Session); ok && session != nil {
		return session, nil
	}

	raw := c.Cookies(a.cfg.GetContextKey())
	if raw == "" {
		return nil, ErrUnableToFindSession
	}

	session, err := a.auth.SessionFromToken(raw)
	if err != nil {
		return nil, err
	}

	identity, err := a.auth.IdentityFromSession(c.Context(), session)
	if err != nil {
		return nil, err
	}

	c.Locals(a.cfg.GetContextKey(), session)
	c.Locals(CurrentUserKey, identity)
	c.SetContext(WithSessionContext(c.Context(), session))

	return session, nil
}

func (a *RouteAuthenticator) Login(c router.Context, payload LoginPayload) error {
	duration := a.cookieDuration
	if payload.GetExtendedSession() {
		duration = a.extendedCookieDuration
	}

	token, err := a.auth.LoginWithTTL(c.Context(), payload.GetIdentifier(), payload.GetPassword(), duration)
	if err != nil {
		a.Logger.Warn("Login error", "error", err)
		return err
	}

	a.setCookieToken(c, token, duration)
	return nil
}

// Logout clears the session cookie whether or not a session exists
func (a *RouteAuthenticator) Logout(c router.Context) {
	session, _ := a.CurrentSession(c)
	a.auth.Logout(c.Context(), session)
	a.cookieDel(c, a.cfg.GetContextKey())
	c.Locals(a.cfg.GetContextKey(), nil)
	c.Locals(CurrentUserKey, nil)
}

// GetRedirect returns the route stored by SetRedirect, or def. Only local
// paths are honored.
func (a *RouteAuthenticator) GetRedirect(c router.Context, def string) string {
	rejectedRoute := a.cfg.GetRejectedRouteKey()
	r := c.Cookies(rejectedRoute)
	if r == "" {
		return def
	}
	a.cookieDel(c, rejectedRoute)

	if !isLocalPath(r) {
		return def
	}
	return r
}

func (a *RouteAuthenticator) SetRedirect(c router.Context) {
	rejectedRoute := a.cfg.GetRejectedRouteKey()

	a.Logger.Debug("Setting redirect cookie", "key", rejectedRoute, "path", c.OriginalURL())

	c.Cookie(&router.Cookie{
		Name:     rejectedRoute,
		Value:    c.OriginalURL(),
		Path:     "/",
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   a.SecureCookies,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.GetContextKey(),
		Value:    val,
		Path:     "/",
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   a.SecureCookies,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.SecureCookies,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info(
		"Authentication error, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
	)

	if c.Cookies(a.cfg.GetContextKey()) != "" {
		a.cookieDel(c, a.cfg.GetContextKey())
	}

	a.SetRedirect(c)

	statusCode := http.StatusSeeOther
	if c.Method() == string(router.GET) {
		statusCode = http.StatusFound
	}
	return c.Redirect(a.LoginRoute, statusCode)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Middleware error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz, errors.CategoryNotFound:
		return a.AuthErrorHandler(c, richErr)
	default:
		code := richErr.Code
		if code < 400 {
			code = http.StatusInternalServerError
		}
		return c.Status(code).Render("errors/500", router.ViewContext{
			"message": richErr.Message,
		})
	}
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, `\`)
}
