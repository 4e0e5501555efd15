package accounts

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// LoginRequest payload
type LoginRequest struct {
	Email      string `form:"email" json:"email"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

var _ LoginPayload = LoginRequest{}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return strings.TrimSpace(r.Email)
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetExtendedSession reports whether the caller asked to be remembered
func (r LoginRequest) GetExtendedSession() bool {
	return r.RememberMe
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// RegistrationCreatePayload is the form payload
type RegistrationCreatePayload struct {
	Email           string `form:"email" json:"email"`
	Username        string `form:"username" json:"username"`
	FirstName       string `form:"first_name" json:"first_name"`
	LastName        string `form:"last_name" json:"last_name"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Username, validation.Length(0, 150), validation.Match(usernamePattern)),
		validation.Field(&r.FirstName, validation.Length(0, 150)),
		validation.Field(&r.LastName, validation.Length(0, 150)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (r RegistrationCreatePayload) Message(useHashid bool) RegisterUserMessage {
	return RegisterUserMessage{
		Email:     r.Email,
		Username:  r.Username,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Password:  r.Password,
		UseHashid: useHashid,
	}
}

// ProfilePayload is the profile form, the account is taken from the session
type ProfilePayload struct {
	FirstName string `form:"first_name" json:"first_name"`
	LastName  string `form:"last_name" json:"last_name"`
	Username  string `form:"username" json:"username"`
	Phone     string `form:"phone_number" json:"phone_number"`
}

func (r ProfilePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(0, 150)),
		validation.Field(&r.LastName, validation.Length(0, 150)),
		validation.Field(&r.Username, validation.Length(0, 150), validation.Match(usernamePattern)),
		validation.Field(&r.Phone, validation.Length(0, 32)),
	)
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo errors into field -> message
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}
