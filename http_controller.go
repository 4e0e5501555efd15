package accounts

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const (
	msgAlreadyLoggedIn      = "You are logged in already"
	msgLoggedIn             = "You are logged in"
	msgInvalidLogin         = "Invalid email or password. Create an account if you do not have one."
	msgRegistrationAccepted = "Registration successful. Please check your email for verification."
	msgDispatchFailed       = "Failed to send confirmation email. Please try again later."
	msgProfileUpdated       = "Your profile has been updated"
	msgIdentityTaken        = "An account with this email or username already exists"
	msgUsernameTaken        = "This username is already taken"
)

type AuthControllerRoutes struct {
	Login    string
	Logout   string
	Register string
	Verify   string
	Profile  string
	Home     string
}

type AuthControllerViews struct {
	Login               string
	Register            string
	Home                string
	Profile             string
	VerificationSuccess string
	VerificationFailed  string
	Error               string
}

type AuthController struct {
	Debug        bool
	UseHashid    bool
	Logger       Logger
	Repo         RepositoryManager
	Routes       *AuthControllerRoutes
	Views        *AuthControllerViews
	Auther       HTTPAuthenticator
	Registration *RegisterUserHandler
	Verification *VerifyAccountHandler
	Profile      *UpdateProfileHandler
	ErrorHandler func(router.Context, error) error
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerRepository(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithControllerAuthenticator(auther HTTPAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithRegisterUserHandler(h *RegisterUserHandler) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Registration = h
		return c
	}
}

func WithVerifyAccountHandler(h *VerifyAccountHandler) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Verification = h
		return c
	}
}

func WithUpdateProfileHandler(h *UpdateProfileHandler) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Profile = h
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func WithControllerHashid(useHashid bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.UseHashid = useHashid
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Login:    "/",
			Logout:   "/logout/",
			Register: "/register/",
			Verify:   DefaultVerificationPath,
			Profile:  "/profile/",
			Home:     "/home/",
		},
		Views: &AuthControllerViews{
			Login:               "login",
			Register:            "register",
			Home:                "home",
			Profile:             "profile",
			VerificationSuccess: "verification_success",
			VerificationFailed:  "verification_failed",
			Error:               "errors/500",
		},
	}
	c.ErrorHandler = c.defaultErrHandler

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in auth controller...")
	}

	if c.Registration == nil || c.Verification == nil {
		panic("Missing verification workflow handlers in auth controller...")
	}

	if c.Profile == nil {
		c.Profile = NewUpdateProfileHandler(c.Repo, WithProfileLogger(c.Logger))
	}

	return c
}

// RegisterAuthRoutes builds an AuthController and mounts every account
// route on app
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	app.Get(controller.Routes.Login, controller.LoginShow).SetName("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).SetName("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).SetName("sign-out.get")

	app.Get(controller.Routes.Register, controller.RegistrationShow).SetName("register.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate).SetName("register.post")

	verify := "/" + strings.Trim(controller.Routes.Verify, "/") + "/:uid/:token/"
	app.Get(verify, controller.VerifyEmail).SetName("verify-email.get")

	app.Get(controller.Routes.Home, controller.Home).SetName("home.get")

	protected := controller.Auther.ProtectedRoute(nil)
	app.Get(controller.Routes.Profile, controller.ProfileShow, protected).SetName("profile.get")
	app.Post(controller.Routes.Profile, controller.ProfileUpdate, protected).SetName("profile.post")

	return controller
}

func (a *AuthController) LoginShow(c router.Context) error {
	if a.alreadyAuthenticated(c) {
		return a.redirectAuthenticated(c)
	}

	return a.render(c, http.StatusOK, a.Views.Login, router.ViewContext{
		"errors": map[string]string{},
		"record": LoginRequest{},
	})
}

func (a *AuthController) LoginPost(c router.Context) error {
	if a.alreadyAuthenticated(c) {
		return a.redirectAuthenticated(c)
	}

	payload := new(LoginRequest)
	errors := map[string]string{}

	if err := c.Bind(payload); err != nil {
		a.Logger.Error("login parse payload: ", "error", err)
		errors["form"] = "Failed to parse form"
		return a.render(c, http.StatusBadRequest, a.Views.Login, router.ViewContext{
			"errors": errors,
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		return a.render(c, http.StatusOK, a.Views.Login, router.ViewContext{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	a.dump("AUTH LOGIN", LoginRequest{Email: payload.Email, RememberMe: payload.RememberMe})

	if err := a.Auther.Login(c, payload); err != nil {
		if !IsAuthFailure(err) && !goerrors.IsNotFound(err) {
			return a.ErrorHandler(c, err)
		}

		return a.render(c, http.StatusOK, a.Views.Login, router.ViewContext{
			"errors": errors,
			"record": LoginRequest{Email: payload.Email},
		}, Notice{Level: NoticeWarning, Message: msgInvalidLogin})
	}

	redirect := a.Auther.GetRedirect(c, a.Routes.Home)
	return flashNotice(c, NoticeSuccess, msgLoggedIn).Redirect(redirect, http.StatusSeeOther)
}

func (a *AuthController) LogOut(c router.Context) error {
	a.Auther.Logout(c)
	return c.Redirect(a.Routes.Login, http.StatusSeeOther)
}

func (a *AuthController) RegistrationShow(c router.Context) error {
	return a.render(c, http.StatusOK, a.Views.Register, router.ViewContext{
		"errors": map[string]string{},
		"record": RegistrationCreatePayload{},
	})
}

func (a *AuthController) RegistrationCreate(c router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := c.Bind(payload); err != nil {
		a.Logger.Error("register user parse payload: ", "error", err)
		return a.render(c, http.StatusBadRequest, a.Views.Register, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		})
	}

	record := RegistrationCreatePayload{
		Email:     payload.Email,
		Username:  payload.Username,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
	}

	if err := payload.Validate(); err != nil {
		return a.render(c, http.StatusOK, a.Views.Register, router.ViewContext{
			"record":     record,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	var res *RegistrationResponse
	msg := payload.Message(a.UseHashid)
	msg.OnResponse = func(r *RegistrationResponse) {
		res = r
	}

	if err := a.Registration.Execute(c.Context(), msg); err != nil {
		switch {
		case IsConflict(err):
			return a.render(c, http.StatusOK, a.Views.Register, router.ViewContext{
				"record": record,
				"validation": map[string]string{
					"email": msgIdentityTaken,
				},
			})
		case IsEmailDispatch(err):
			a.Logger.Error("register user email dispatch: ", "error", err)
			return a.render(c, http.StatusOK, a.Views.Register, router.ViewContext{
				"record": record,
				"errors": map[string]string{},
			}, Notice{Level: NoticeError, Message: msgDispatchFailed})
		case hasCategory(err, goerrors.CategoryValidation):
			return a.render(c, http.StatusOK, a.Views.Register, router.ViewContext{
				"record":     record,
				"validation": FormatValidationErrorToMap(err),
			})
		default:
			return a.ErrorHandler(c, err)
		}
	}

	a.dump("REGISTRATION", res)

	return flashNotice(c, NoticeSuccess, msgRegistrationAccepted).Redirect(a.Routes.Home, http.StatusSeeOther)
}

// VerifyEmail redeems a verification link, it always renders a page
func (a *AuthController) VerifyEmail(c router.Context) error {
	var res *VerifyAccountResponse

	err := a.Verification.Execute(c.Context(), VerifyAccountMessage{
		EncodedUserID: c.Param("uid"),
		Token:         c.Param("token"),
		OnResponse: func(r *VerifyAccountResponse) {
			res = r
		},
	})
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	if res != nil && res.Verified() {
		return a.render(c, http.StatusOK, a.Views.VerificationSuccess, router.ViewContext{})
	}

	return a.render(c, http.StatusOK, a.Views.VerificationFailed, router.ViewContext{})
}

func (a *AuthController) Home(c router.Context) error {
	// optional session, populates current_user when present
	a.Auther.CurrentSession(c)
	return a.render(c, http.StatusOK, a.Views.Home, router.ViewContext{})
}

func (a *AuthController) ProfileShow(c router.Context) error {
	user, err := a.sessionUser(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return a.render(c, http.StatusOK, a.Views.Profile, router.ViewContext{
		"errors":   map[string]string{},
		"record":   user,
		"username": user.GetUsername(),
	})
}

// ProfileUpdate runs behind ProtectedRoute, the profile command reads the
// session bound to the request context.
func (a *AuthController) ProfileUpdate(c router.Context) error {
	if _, err := a.Auther.CurrentSession(c); err != nil {
		return a.ErrorHandler(c, err)
	}

	payload := new(ProfilePayload)
	if err := c.Bind(payload); err != nil {
		a.Logger.Error("profile parse payload: ", "error", err)
		return a.renderProfileForm(c, http.StatusBadRequest, payload, map[string]string{}, map[string]string{
			"form": "Failed to parse form",
		})
	}

	if err := payload.Validate(); err != nil {
		return a.renderProfileForm(c, http.StatusOK, payload, FormatValidationErrorToMap(err), nil)
	}

	a.dump("PROFILE UPDATE", payload)

	err := a.Profile.Execute(c.Context(), UpdateProfileMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Username:  payload.Username,
		Phone:     payload.Phone,
	})
	if err != nil {
		switch {
		case IsConflict(err):
			return a.renderProfileForm(c, http.StatusOK, payload, map[string]string{"username": msgUsernameTaken}, nil)
		case hasTextCode(err, TextCodeInvalidProfile):
			validation := FormatValidationErrorToMap(err)
			if _, ok := validation["form"]; ok {
				validation = map[string]string{"phone_number": "Enter a valid phone number"}
			}
			return a.renderProfileForm(c, http.StatusOK, payload, validation, nil)
		default:
			return a.ErrorHandler(c, err)
		}
	}

	return flashNotice(c, NoticeSuccess, msgProfileUpdated).Redirect(a.Routes.Profile, http.StatusSeeOther)
}

func (a *AuthController) renderProfileForm(c router.Context, status int, payload *ProfilePayload, validation, errors map[string]string) error {
	user, err := a.sessionUser(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	record := *user
	record.FirstName = payload.FirstName
	record.LastName = payload.LastName
	record.Phone = payload.Phone

	return a.render(c, status, a.Views.Profile, router.ViewContext{
		"record":     record,
		"username":   payload.Username,
		"validation": validation,
		"errors":     errors,
	})
}

func (a *AuthController) sessionUser(c router.Context) (*User, error) {
	session, err := a.Auther.CurrentSession(c)
	if err != nil {
		return nil, err
	}
	return a.Repo.Users().GetByID(c.Context(), session.GetUserID())
}

func (a *AuthController) alreadyAuthenticated(c router.Context) bool {
	_, err := a.Auther.CurrentSession(c)
	return err == nil
}

func (a *AuthController) redirectAuthenticated(c router.Context) error {
	a.Logger.Info("login attempt with an active session", "text_code", TextCodeAlreadyAuthenticated)
	return flashNotice(c, NoticeWarning, msgAlreadyLoggedIn).Redirect(a.Routes.Home, http.StatusSeeOther)
}

// render adds the shared page data, notices holds messages for this
// response only
func (a *AuthController) render(c router.Context, status int, view string, data router.ViewContext, notices ...Notice) error {
	if data == nil {
		data = router.ViewContext{}
	}

	data["routes"] = a.Routes
	data["notices"] = append(carriedNotices(c), notices...)
	data["csrf_field"] = CSRFFormField
	data["csrf_token"] = CSRFToken(c)

	if identity, ok := c.Locals(CurrentUserKey).(Identity); ok && identity != nil {
		data[CurrentUserKey] = router.ViewContext{
			"ID":       identity.ID(),
			"Email":    identity.Email(),
			"Username": identity.Username(),
		}
	}

	return c.Status(status).Render(view, data)
}

func (a *AuthController) dump(title string, v any) {
	if !a.Debug {
		return
	}
	a.Logger.Debug("======= "+title+" ======", "payload", print.MaybePrettyJSON(v))
}

func (a *AuthController) defaultErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	a.Logger.Error("request failed", "path", c.OriginalURL(), "error", err)

	status := richErr.Code
	if status < 400 {
		status = http.StatusInternalServerError
	}

	return c.Status(status).Render(a.Views.Error, router.ViewContext{
		"message": richErr.Message,
	})
}
