package accounts

import (
	"context"
	"html"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// DefaultPhoneRegion is used for numbers given without a country prefix
var DefaultPhoneRegion = "US"

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// UpdateProfileMessage has no id field on purpose: the target account is
// always the one bound to Session, or to the session in the context when
// Session is nil.
type UpdateProfileMessage struct {
	Session    Session
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Username   string `json:"username"`
	Phone      string `json:"phone_number"`
	OnResponse func(*User)
}

func (e UpdateProfileMessage) Type() string { return "user.profile.update" }

func (e UpdateProfileMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.FirstName, validation.Length(0, 150)),
		validation.Field(&e.LastName, validation.Length(0, 150)),
		validation.Field(&e.Username, validation.Length(0, 150), validation.Match(usernamePattern)),
		validation.Field(&e.Phone, validation.Length(0, 32)),
	)
}

type UpdateProfileHandler struct {
	repo     RepositoryManager
	policy   *bluemonday.Policy
	logger   Logger
	activity ActivitySink
}

type UpdateProfileOption func(*UpdateProfileHandler)

func WithProfileLogger(logger Logger) UpdateProfileOption {
	return func(h *UpdateProfileHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithProfileActivitySink(sink ActivitySink) UpdateProfileOption {
	return func(h *UpdateProfileHandler) {
		h.activity = normalizeActivitySink(sink)
	}
}

func NewUpdateProfileHandler(repo RepositoryManager, opts ...UpdateProfileOption) *UpdateProfileHandler {
	h := &UpdateProfileHandler{
		repo:     repo,
		policy:   bluemonday.StrictPolicy(),
		logger:   defLogger{},
		activity: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h
}

func (h *UpdateProfileHandler) Execute(ctx context.Context, event UpdateProfileMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during profile update",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateProfileHandler) execute(ctx context.Context, event UpdateProfileMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if event.Session == nil {
		session, ok := SessionFromContext(ctx)
		if !ok {
			return ErrUnableToFindSession
		}
		event.Session = session
	}

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid profile").
			WithTextCode(TextCodeInvalidProfile).
			WithCode(goerrors.CodeBadRequest)
	}

	id, err := event.Session.GetUserUUID()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryAuth, "session does not identify a user").
			WithTextCode(TextCodeSessionDecodeError).
			WithCode(goerrors.CodeUnauthorized)
	}

	phone, err := NormalizePhone(event.Phone, DefaultPhoneRegion)
	if err != nil {
		return err
	}

	fields := ProfileFields{
		FirstName: h.sanitize(event.FirstName),
		LastName:  h.sanitize(event.LastName),
		Username:  h.sanitize(event.Username),
		Phone:     phone,
	}

	var user *User
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = h.repo.Users().UpdateProfileTx(ctx, tx, id, fields)
		return err
	})

	if err != nil {
		h.logger.Error("update profile failed", "user_id", id.String(), "error", err)
		recordActivity(ctx, h.activity, h.logger, ActivityEvent{
			EventType: ActivityEventProfileUpdateFailure,
			UserID:    id.String(),
			Reason:    err.Error(),
		})

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "profile update transaction failed")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		UserID:    user.ID.String(),
	})

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

func (h *UpdateProfileHandler) sanitize(s string) string {
	// markup is stripped, entities are decoded since templates escape on output
	return strings.TrimSpace(html.UnescapeString(h.policy.Sanitize(strings.TrimSpace(s))))
}

// NormalizePhone validates a phone number and returns it in E.164 format.
// An empty input is valid and clears the number.
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", goerrors.New("phone number is not valid", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidProfile).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"phone_number": raw})
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}
