package accounts_test

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://example.test"

type webFixture struct {
	app    *fiber.App
	repo   accounts.RepositoryManager
	mailer *capturingMailer
	sink   *capturingSink
	jar    map[string]string
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()

	repo, _ := newTestRepo(t)
	mailer := &capturingMailer{}
	sink := &capturingSink{}
	cfg := testAuthConfig()

	issuer := accounts.NewVerificationTokenIssuer(cfg.SigningKey, cfg.VerificationTTL)

	register, err := accounts.NewRegisterUserHandler(repo, issuer, mailer, testBaseURL,
		accounts.WithRegisterLogger(nopLogger{}),
		accounts.WithRegisterActivitySink(sink),
	)
	require.NoError(t, err)

	verify := accounts.NewVerifyAccountHandler(repo, issuer,
		accounts.WithVerifyLogger(nopLogger{}),
		accounts.WithVerifyActivitySink(sink),
	)

	provider := accounts.NewUserProvider(repo.Users()).WithLogger(nopLogger{})
	auther := accounts.NewAuthenticator(provider, cfg).
		WithLogger(nopLogger{}).
		WithActivitySink(sink)

	httpAuth, err := accounts.NewHTTPAuthenticator(auther, cfg)
	require.NoError(t, err)
	httpAuth.Logger = nopLogger{}
	httpAuth.SecureCookies = false

	profile := accounts.NewUpdateProfileHandler(repo,
		accounts.WithProfileLogger(nopLogger{}),
		accounts.WithProfileActivitySink(sink),
	)

	views, err := fs.Sub(accounts.GetViewsFS(), "views")
	require.NoError(t, err)

	var app *fiber.App
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		app = router.DefaultFiberOptions(fiber.New(fiber.Config{
			PassLocalsToViews:     true,
			Views:                 django.NewFileSystem(http.FS(views), ".html"),
			DisableStartupMessage: true,
		}))
		app.Use(accounts.NewCSRFMiddleware(accounts.CSRFConfig{Logger: nopLogger{}}))
		return app
	})
	srv.Router().Use(mflash.New(mflash.ConfigDefault))

	accounts.RegisterAuthRoutes(srv.Router().Group("/"),
		accounts.WithControllerLogger(nopLogger{}),
		accounts.WithControllerRepository(repo),
		accounts.WithControllerAuthenticator(httpAuth),
		accounts.WithRegisterUserHandler(register),
		accounts.WithVerifyAccountHandler(verify),
		accounts.WithUpdateProfileHandler(profile),
	)

	return &webFixture{
		app:    app,
		repo:   repo,
		mailer: mailer,
		sink:   sink,
		jar:    map[string]string{},
	}
}

// do sends a request carrying the jar cookies and stores the ones set in
// the response. Redirects are not followed.
func (f *webFixture) do(t *testing.T, method, target string, form url.Values) (*http.Response, string) {
	t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	}
	for name, value := range f.jar {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	res, err := f.app.Test(req, -1)
	require.NoError(t, err)

	for _, c := range res.Cookies() {
		if c.Value == "" || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(f.jar, c.Name)
			continue
		}
		f.jar[c.Name] = c.Value
	}

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()

	return res, string(raw)
}

func (f *webFixture) get(t *testing.T, target string) (*http.Response, string) {
	return f.do(t, http.MethodGet, target, nil)
}

// post submits form with the csrf token a browser would have rendered
func (f *webFixture) post(t *testing.T, target string, form url.Values) (*http.Response, string) {
	t.Helper()

	if _, ok := f.jar[accounts.CSRFCookieName]; !ok {
		f.get(t, "/register/")
	}

	withToken := url.Values{}
	for k, v := range form {
		withToken[k] = v
	}
	withToken.Set(accounts.CSRFFormField, f.jar[accounts.CSRFCookieName])

	return f.do(t, http.MethodPost, target, withToken)
}

func (f *webFixture) register(t *testing.T, email, password string) *http.Response {
	t.Helper()
	res, _ := f.post(t, "/register/", url.Values{
		"email":            {email},
		"password":         {password},
		"confirm_password": {password},
	})
	return res
}

func (f *webFixture) login(t *testing.T, email, password string) *http.Response {
	t.Helper()
	res, _ := f.post(t, "/", url.Values{
		"email":    {email},
		"password": {password},
	})
	return res
}

// lastLinkPath returns the path of the last mailed verification link
func (f *webFixture) lastLinkPath(t *testing.T) string {
	t.Helper()

	sent := f.mailer.Sent()
	require.NotEmpty(t, sent)

	body := sent[len(sent)-1].Body
	start := strings.Index(body, testBaseURL+accounts.DefaultVerificationPath)
	require.GreaterOrEqual(t, start, 0, body)

	rest := body[start+len(testBaseURL):]
	end := strings.IndexAny(rest, "\"<")
	require.Greater(t, end, 0)

	return rest[:end]
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	f := newWebFixture(t)

	res, body := f.get(t, "/register/")
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Create an account")

	res = f.register(t, "web@example.com", "password123")
	require.Equal(t, fiber.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/home/", res.Header.Get("Location"))

	_, body = f.get(t, "/home/")
	assert.Contains(t, body, "Registration successful. Please check your email for verification.")

	_, body = f.get(t, "/home/")
	assert.NotContains(t, body, "Registration successful", "notices are shown once")

	link := f.lastLinkPath(t)

	t.Run("login before verifying fails", func(t *testing.T) {
		res := f.login(t, "web@example.com", "password123")
		require.Equal(t, fiber.StatusOK, res.StatusCode)
		assert.NotContains(t, f.jar, "jwt")
	})

	t.Run("link verifies once", func(t *testing.T) {
		res, body := f.get(t, link)
		require.Equal(t, fiber.StatusOK, res.StatusCode)
		assert.Contains(t, body, "Your email has been verified")

		res, body = f.get(t, link)
		require.Equal(t, fiber.StatusOK, res.StatusCode)
		assert.Contains(t, body, "We could not verify your email")
	})

	t.Run("login", func(t *testing.T) {
		res := f.login(t, "web@example.com", "password123")
		require.Equal(t, fiber.StatusSeeOther, res.StatusCode)
		assert.Equal(t, "/home/", res.Header.Get("Location"))
		assert.Contains(t, f.jar, "jwt")

		_, body := f.get(t, "/home/")
		assert.Contains(t, body, "Welcome web@example.com")
		assert.Contains(t, body, "You are logged in")
	})

	t.Run("login page redirects signed in users", func(t *testing.T) {
		res, _ := f.get(t, "/")
		require.Equal(t, fiber.StatusSeeOther, res.StatusCode)
		assert.Equal(t, "/home/", res.Header.Get("Location"))

		_, body := f.get(t, "/home/")
		assert.Contains(t, body, "You are logged in already")
	})

	t.Run("profile", func(t *testing.T) {
		res, body := f.get(t, "/profile/")
		require.Equal(t, fiber.StatusOK, res.StatusCode)
		assert.Contains(t, body, "web@example.com")

		res, _ = f.post(t, "/profile/", url.Values{
			"first_name":   {"Web"},
			"last_name":    {"User"},
			"username":     {"webuser"},
			"phone_number": {"+1 650 253 0000"},
		})
		require.Equal(t, fiber.StatusSeeOther, res.StatusCode)
		assert.Equal(t, "/profile/", res.Header.Get("Location"))

		_, body = f.get(t, "/profile/")
		assert.Contains(t, body, "Your profile has been updated")
		assert.Contains(t, body, `value="webuser"`)
		assert.Contains(t, body, `value="+16502530000"`)

		res, body = f.post(t, "/profile/", url.Values{"phone_number": {"12"}})
		require.Equal(t, fiber.StatusOK, res.StatusCode)
		assert.Contains(t, body, "Enter a valid phone number")
	})

	t.Run("logout", func(t *testing.T) {
		res, _ := f.get(t, "/logout/")
		require.Equal(t, fiber.StatusSeeOther, res.StatusCode)
		assert.NotContains(t, f.jar, "jwt")

		res, _ = f.get(t, "/profile/")
		require.Equal(t, fiber.StatusFound, res.StatusCode)
		assert.Equal(t, "/", res.Header.Get("Location"))
	})

	types := f.sink.Types()
	assert.Contains(t, types, accounts.ActivityEventRegistered)
	assert.Contains(t, types, accounts.ActivityEventVerified)
	assert.Contains(t, types, accounts.ActivityEventVerificationFailed)
	assert.Contains(t, types, accounts.ActivityEventLoginFailure)
	assert.Contains(t, types, accounts.ActivityEventLoginSuccess)
	assert.Contains(t, types, accounts.ActivityEventProfileUpdated)
	assert.Contains(t, types, accounts.ActivityEventLogout)
}

func TestLoginFailuresShowOneMessage(t *testing.T) {
	f := newWebFixture(t)

	require.Equal(t, fiber.StatusSeeOther, f.register(t, "pending@example.com", "password123").StatusCode)

	attempts := map[string]url.Values{
		"unknown":  {"email": {"nobody@example.com"}, "password": {"password123"}},
		"wrong":    {"email": {"pending@example.com"}, "password": {"wrong-password"}},
		"inactive": {"email": {"pending@example.com"}, "password": {"password123"}},
	}

	for name, form := range attempts {
		t.Run(name, func(t *testing.T) {
			res, body := f.post(t, "/", form)
			require.Equal(t, fiber.StatusOK, res.StatusCode)
			assert.Contains(t, body, "Invalid email or password. Create an account if you do not have one.")
		})
	}

	t.Run("invalid form", func(t *testing.T) {
		res, body := f.post(t, "/", url.Values{"email": {"not-an-email"}})
		require.Equal(t, fiber.StatusOK, res.StatusCode)
		assert.Contains(t, body, `class="error"`)
	})
}

func TestRegistrationFormErrors(t *testing.T) {
	t.Run("passwords must match", func(t *testing.T) {
		f := newWebFixture(t)

		res, body := f.post(t, "/register/", url.Values{
			"email":            {"match@example.com"},
			"password":         {"password123"},
			"confirm_password": {"password124"},
		})
		require.Equal(t, fiber.StatusOK, res.StatusCode)
		assert.Contains(t, body, "values must match")
		assert.Contains(t, body, `value="match@example.com"`)
		assert.Empty(t, f.mailer.Sent())
	})

	t.Run("duplicate email", func(t *testing.T) {
		f := newWebFixture(t)
		require.Equal(t, fiber.StatusSeeOther, f.register(t, "dup@example.com", "password123").StatusCode)

		res, body := f.post(t, "/register/", url.Values{
			"email":            {"dup@example.com"},
			"password":         {"password123"},
			"confirm_password": {"password123"},
		})
		require.Equal(t, fiber.StatusOK, res.StatusCode)
		assert.Contains(t, body, "An account with this email or username already exists")
		assert.Len(t, f.mailer.Sent(), 1)
	})

	t.Run("email dispatch failure", func(t *testing.T) {
		f := newWebFixture(t)
		f.mailer.err = errors.New("smtp down")

		res, body := f.post(t, "/register/", url.Values{
			"email":            {"nomail@example.com"},
			"password":         {"password123"},
			"confirm_password": {"password123"},
		})
		require.Equal(t, fiber.StatusOK, res.StatusCode)
		assert.Contains(t, body, "Failed to send confirmation email. Please try again later.")

		count, err := f.repo.Users().Count(t.Context())
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestProtectedRouteRedirectsBackAfterLogin(t *testing.T) {
	f := newWebFixture(t)

	require.Equal(t, fiber.StatusSeeOther, f.register(t, "back@example.com", "password123").StatusCode)
	res, _ := f.get(t, f.lastLinkPath(t))
	require.Equal(t, fiber.StatusOK, res.StatusCode)

	res, _ = f.get(t, "/profile/")
	require.Equal(t, fiber.StatusFound, res.StatusCode)
	assert.Equal(t, "/profile/", f.jar["rejected_route"])

	res = f.login(t, "back@example.com", "password123")
	require.Equal(t, fiber.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/profile/", res.Header.Get("Location"))
}

func TestVerificationLinkGarbage(t *testing.T) {
	f := newWebFixture(t)

	res, body := f.get(t, accounts.DefaultVerificationPath+"/not-base64/whatever/")
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	assert.Contains(t, body, "We could not verify your email")
}

func TestFormsRequireCSRFToken(t *testing.T) {
	f := newWebFixture(t)

	_, body := f.get(t, "/register/")
	token := f.jar[accounts.CSRFCookieName]
	require.NotEmpty(t, token)
	assert.Contains(t, body, `name="_token" value="`+token+`"`)

	res, _ := f.do(t, http.MethodPost, "/register/", url.Values{
		"email":            {"forged@example.com"},
		"password":         {"password123"},
		"confirm_password": {"password123"},
	})
	assert.Equal(t, fiber.StatusForbidden, res.StatusCode)

	res, _ = f.do(t, http.MethodPost, "/register/", url.Values{
		"email":                {"forged@example.com"},
		"password":             {"password123"},
		"confirm_password":     {"password123"},
		accounts.CSRFFormField: {"not-the-token"},
	})
	assert.Equal(t, fiber.StatusForbidden, res.StatusCode)
	assert.Empty(t, f.mailer.Sent())
}

func TestLoginDoesNotAcceptUsernames(t *testing.T) {
	f := newWebFixture(t)

	require.Equal(t, fiber.StatusSeeOther, f.register(t, "owner@example.com", "password123").StatusCode)
	res, _ := f.get(t, f.lastLinkPath(t))
	require.Equal(t, fiber.StatusOK, res.StatusCode)

	require.Equal(t, fiber.StatusSeeOther, f.login(t, "owner@example.com", "password123").StatusCode)

	res, _ = f.post(t, "/profile/", url.Values{"username": {"someone.else@example.org"}})
	require.Equal(t, fiber.StatusSeeOther, res.StatusCode)

	res, _ = f.get(t, "/logout/")
	require.Equal(t, fiber.StatusSeeOther, res.StatusCode)
	require.NotContains(t, f.jar, "jwt")

	res, body := f.post(t, "/", url.Values{
		"email":    {"someone.else@example.org"},
		"password": {"password123"},
	})
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Invalid email or password. Create an account if you do not have one.")
	assert.NotContains(t, f.jar, "jwt")

	require.Equal(t, fiber.StatusSeeOther, f.login(t, "owner@example.com", "password123").StatusCode)
}

func TestProfileUpdateReachesActivitySink(t *testing.T) {
	f := newWebFixture(t)

	require.Equal(t, fiber.StatusSeeOther, f.register(t, "sink@example.com", "password123").StatusCode)
	res, _ := f.get(t, f.lastLinkPath(t))
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	require.Equal(t, fiber.StatusSeeOther, f.login(t, "sink@example.com", "password123").StatusCode)

	assert.NotContains(t, f.sink.Types(), accounts.ActivityEventProfileUpdated)

	res, _ = f.post(t, "/profile/", url.Values{"first_name": {"Sink"}})
	require.Equal(t, fiber.StatusSeeOther, res.StatusCode)

	assert.Contains(t, f.sink.Types(), accounts.ActivityEventProfileUpdated)
}

func TestNoticesCarryTheirLevel(t *testing.T) {
	f := newWebFixture(t)

	require.Equal(t, fiber.StatusSeeOther, f.register(t, "level@example.com", "password123").StatusCode)

	_, body := f.get(t, "/home/")
	assert.Contains(t, body, `class="notice notice-success"`)

	res, body := f.post(t, "/", url.Values{
		"email":    {"level@example.com"},
		"password": {"password123"},
	})
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	assert.Contains(t, body, `class="notice notice-warning"`)

	_, body = f.get(t, "/home/")
	assert.NotContains(t, body, "Invalid email or password", "same request notices are not carried over")
}
