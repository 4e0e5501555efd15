package accounts

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeConflict             = "ACCOUNT_CONFLICT"
	TextCodeEmailDispatch        = "EMAIL_DISPATCH_FAILED"
	TextCodeInvalidCreds         = "INVALID_CREDENTIALS"
	TextCodeInactiveAccount      = "ACCOUNT_INACTIVE"
	TextCodeAlreadyAuthenticated = "ALREADY_AUTHENTICATED"
	TextCodeVerificationFailed   = "VERIFICATION_FAILED"
	TextCodeInvalidTransition    = "INVALID_VERIFICATION_TRANSITION"
	TextCodeEmptyPassword        = "EMPTY_PASSWORD"
	TextCodeSessionNotFound      = "SESSION_NOT_FOUND"
	TextCodeSessionDecodeError   = "SESSION_DECODE_ERROR"
	TextCodeClaimsMappingError   = "SESSION_CLAIMS_MAPPING_ERROR"
	TextCodeDataParseError       = "SESSION_DATA_PARSE_ERROR"
	TextCodeInvalidProfile       = "INVALID_PROFILE"
)

// ErrConflict is returned when the email or username is already registered
var ErrConflict = goerrors.New("an account with this email or username already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeConflict).
	WithCode(goerrors.CodeConflict)

// ErrEmailDispatch is returned when the verification email could not be sent
var ErrEmailDispatch = goerrors.New("failed to send confirmation email, please try again later", goerrors.CategoryOperation).
	WithTextCode(TextCodeEmailDispatch).
	WithCode(goerrors.CodeInternal)

// ErrMismatchedHashAndPassword is the generic authentication failure
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrInactiveAccount is returned when the credentials match an unverified account
var ErrInactiveAccount = goerrors.New("the account has not been verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeInactiveAccount).
	WithCode(goerrors.CodeUnauthorized)

// ErrAlreadyAuthenticated is returned when a signed in caller tries to log in again
var ErrAlreadyAuthenticated = goerrors.New("you are logged in already", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyAuthenticated).
	WithCode(goerrors.CodeConflict)

// ErrVerificationFailed covers bad, expired and reused tokens as well as malformed ids
var ErrVerificationFailed = goerrors.New("account verification failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeVerificationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned for a verification state change that is not allowed
var ErrInvalidTransition = goerrors.New("invalid verification state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUnableToFindSession is the error when our request has no cookie
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToDecodeSession unable to decode JWT from session cookie
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionDecodeError).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToMapClaims unable to get claims from token
var ErrUnableToMapClaims = goerrors.New("unable to map claims", goerrors.CategoryAuth).
	WithTextCode(TextCodeClaimsMappingError).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToParseData parse error
var ErrUnableToParseData = goerrors.New("unable to parse data", goerrors.CategoryBadInput).
	WithTextCode(TextCodeDataParseError).
	WithCode(goerrors.CodeBadRequest)

// IsConflict reports whether err carries the conflict text code
func IsConflict(err error) bool {
	return hasTextCode(err, TextCodeConflict)
}

// IsEmailDispatch reports whether err is a verification email dispatch failure
func IsEmailDispatch(err error) bool {
	return hasTextCode(err, TextCodeEmailDispatch)
}

// IsAuthFailure reports whether err is a credentials or inactive account failure
func IsAuthFailure(err error) bool {
	return hasTextCode(err, TextCodeInvalidCreds) || hasTextCode(err, TextCodeInactiveAccount)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

func hasCategory(err error, category goerrors.Category) bool {
	var richErr *goerrors.Error
	if err != nil && goerrors.As(err, &richErr) {
		return richErr.Category == category
	}
	return false
}

func conflictError(cause error, metadata map[string]any) error {
	if cause == nil {
		return goerrors.New(ErrConflict.Message, ErrConflict.Category).
			WithTextCode(ErrConflict.TextCode).
			WithCode(goerrors.CodeConflict).
			WithMetadata(metadata)
	}
	return goerrors.Wrap(cause, ErrConflict.Category, ErrConflict.Message).
		WithTextCode(ErrConflict.TextCode).
		WithCode(goerrors.CodeConflict).
		WithMetadata(metadata)
}

func dispatchError(cause error, metadata map[string]any) error {
	return goerrors.Wrap(cause, ErrEmailDispatch.Category, ErrEmailDispatch.Message).
		WithTextCode(ErrEmailDispatch.TextCode).
		WithCode(goerrors.CodeInternal).
		WithMetadata(metadata)
}
