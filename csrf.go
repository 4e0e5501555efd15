package accounts

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

const (
	// CSRFContextKey holds the request token in fiber locals
	CSRFContextKey = "csrf_token"
	// CSRFFormField is the hidden form field carrying the token
	CSRFFormField = "_token"
	// CSRFHeaderName is checked when the form field is missing
	CSRFHeaderName = "X-CSRF-Token"
)

// CSRFCookieName is the double submit cookie
var CSRFCookieName = "accounts_csrf"

var ErrCSRFTokenMissing = goerrors.New("CSRF token missing", goerrors.CategoryAuthz).
	WithTextCode("CSRF_TOKEN_MISSING").
	WithCode(goerrors.CodeForbidden)

type CSRFConfig struct {
	Secure     bool
	Expiration time.Duration
	ErrorView  string
	Logger     Logger
}

// NewCSRFMiddleware protects every unsafe request of the account forms.
// Safe requests get a token, exposed to templates through CSRFToken.
// It runs on the fiber app, ahead of the router.
func NewCSRFMiddleware(cfg CSRFConfig) fiber.Handler {
	if cfg.Expiration <= 0 {
		cfg.Expiration = time.Hour
	}

	if cfg.ErrorView == "" {
		cfg.ErrorView = "errors/500"
	}

	if cfg.Logger == nil {
		cfg.Logger = defLogger{}
	}

	return csrf.New(csrf.Config{
		CookieName:     CSRFCookieName,
		CookiePath:     "/",
		CookieSameSite: fiber.CookieSameSiteLaxMode,
		CookieHTTPOnly: true,
		CookieSecure:   cfg.Secure,
		Expiration:     cfg.Expiration,
		ContextKey:     CSRFContextKey,
		Extractor: func(c *fiber.Ctx) (string, error) {
			if token := c.FormValue(CSRFFormField); token != "" {
				return token, nil
			}
			if token := c.Get(CSRFHeaderName); token != "" {
				return token, nil
			}
			return "", ErrCSRFTokenMissing
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			cfg.Logger.Warn("csrf check failed", "path", c.OriginalURL(), "error", err)
			return c.Status(fiber.StatusForbidden).Render(cfg.ErrorView, fiber.Map{
				"message": "The form has expired, please reload the page and try again.",
			})
		},
	})
}

// CSRFToken returns the token issued for this request, if any
func CSRFToken(ctx router.Context) string {
	token, _ := ctx.Locals(CSRFContextKey).(string)
	return token
}
