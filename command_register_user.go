package accounts

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultVerificationPath is the route prefix of verification links
const DefaultVerificationPath = "/verify-email"

type RegisterUserMessage struct {
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	UseHashid  bool   `json:"-"`
	OnResponse func(*RegistrationResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Password, validation.Required),
	)
}

// RegistrationResponse reports where the new account ended up
type RegistrationResponse struct {
	State  VerificationState `json:"state"`
	UserID string            `json:"user_id"`
	Email  string            `json:"email"`
	Link   string            `json:"-"`
}

// RegisterUserHandler creates an inactive account and mails its verification
// link. If the email cannot be sent the account is removed and the
// transaction rolled back, so a failed registration leaves nothing behind.
type RegisterUserHandler struct {
	repo     RepositoryManager
	issuer   TokenIssuer
	mailer   Mailer
	email    *VerificationEmail
	baseURL  string
	path     string
	logger   Logger
	activity ActivitySink
}

// RegisterUserOption customizes the handler
type RegisterUserOption func(*RegisterUserHandler)

func WithRegisterLogger(logger Logger) RegisterUserOption {
	return func(h *RegisterUserHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithRegisterActivitySink(sink ActivitySink) RegisterUserOption {
	return func(h *RegisterUserHandler) {
		h.activity = normalizeActivitySink(sink)
	}
}

// WithVerificationPath overrides the route prefix used to build links
func WithVerificationPath(path string) RegisterUserOption {
	return func(h *RegisterUserHandler) {
		if path != "" {
			h.path = path
		}
	}
}

func WithVerificationEmail(email *VerificationEmail) RegisterUserOption {
	return func(h *RegisterUserHandler) {
		if email != nil {
			h.email = email
		}
	}
}

// NewRegisterUserHandler wires the registration workflow. baseURL is the
// absolute origin verification links point to.
func NewRegisterUserHandler(repo RepositoryManager, issuer TokenIssuer, mailer Mailer, baseURL string, opts ...RegisterUserOption) (*RegisterUserHandler, error) {
	h := &RegisterUserHandler{
		repo:     repo,
		issuer:   issuer,
		mailer:   mailer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		path:     DefaultVerificationPath,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if h.email == nil {
		email, err := NewVerificationEmail()
		if err != nil {
			return nil, err
		}
		h.email = email
	}

	if h.repo == nil || h.issuer == nil || h.mailer == nil {
		return nil, goerrors.New("registration requires a repository, token issuer and mailer", goerrors.CategoryInternal)
	}

	return h, nil
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration")
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Email:        event.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(event.FirstName),
		LastName:     strings.TrimSpace(event.LastName),
	}
	user.SetUsername(event.Username)

	if event.UseHashid {
		if id, err := hashid.NewUUID(normalizeEmail(event.Email)); err == nil {
			user.ID = id
		}
	}

	state := StatePendingCreation
	var link string

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := h.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			return err
		}
		user = created
		state = h.advance(state, StateInactive)

		token, err := h.issuer.Issue(user)
		if err != nil {
			return h.compensate(ctx, tx, user, err)
		}

		link = VerificationLink(h.baseURL, h.path, user.ID, token)

		msg, err := h.email.Render(user, link, h.tokenTTL())
		if err != nil {
			return h.compensate(ctx, tx, user, err)
		}

		if err := h.mailer.Send(ctx, msg); err != nil {
			return h.compensate(ctx, tx, user, err)
		}

		state = h.advance(state, StateEmailSent)
		return nil
	})

	if err != nil {
		state = h.advance(state, StateCreationFailed)
		h.logger.Error("register user failed", "email", user.Email, "state", state, "error", err)

		reason := "internal"
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) && richErr.TextCode != "" {
			reason = richErr.TextCode
		}

		recordActivity(ctx, h.activity, h.logger, ActivityEvent{
			EventType: ActivityEventRegistrationFailed,
			FromState: StatePendingCreation,
			ToState:   StateCreationFailed,
			Reason:    reason,
			Metadata:  map[string]any{"email": user.Email},
		})

		if richErr != nil {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventRegistered,
		UserID:    user.ID.String(),
		FromState: StatePendingCreation,
		ToState:   state,
		Metadata:  map[string]any{"email": user.Email},
	})

	if event.OnResponse != nil {
		event.OnResponse(&RegistrationResponse{
			State:  state,
			UserID: user.ID.String(),
			Email:  user.Email,
			Link:   link,
		})
	}

	return nil
}

// compensate removes the row created in this transaction, the returned
// error makes RunInTx roll back as well
func (h *RegisterUserHandler) compensate(ctx context.Context, tx bun.IDB, user *User, cause error) error {
	if err := h.repo.Users().DeleteTx(ctx, tx, user); err != nil {
		h.logger.Error("failed to remove unverified user", "user_id", user.ID.String(), "error", err)
	}

	return dispatchError(cause, map[string]any{
		"email":   user.Email,
		"user_id": user.ID.String(),
	})
}

func (h *RegisterUserHandler) advance(from, to VerificationState) VerificationState {
	next, err := Transition(from, to)
	if err != nil {
		h.logger.Error("verification state", "error", err)
	}
	return next
}

func (h *RegisterUserHandler) tokenTTL() time.Duration {
	if t, ok := h.issuer.(interface{ TTL() time.Duration }); ok {
		return t.TTL()
	}
	return DefaultVerificationTokenTTL
}

// VerificationLink builds the absolute link mailed to the user
func VerificationLink(baseURL, path string, id uuid.UUID, token string) string {
	if path == "" {
		path = DefaultVerificationPath
	}
	path = "/" + strings.Trim(path, "/")

	return strings.TrimRight(baseURL, "/") + path + "/" + EncodeUserID(id) + "/" + token + "/"
}

// EncodeUserID encodes the id for use in a URL path segment
func EncodeUserID(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id.String()))
}

// DecodeUserID reverses EncodeUserID, padded input is accepted too
func DecodeUserID(encoded string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(encoded), "="))
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(string(raw))
}
