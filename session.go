package accounts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

type SessionObject struct {
	UserID         string         `json:"user_id,omitempty"`
	Audience       []string       `json:"audience,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

func (s *SessionObject) GetAudience() []string {
	return s.Audience
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"user=%s aud=%v iss=%s iat=%s",
		s.UserID,
		s.Audience,
		s.Issuer,
		issuedAt,
	)
}

func sessionFromClaims(claims *JWTClaims) (*SessionObject, error) {
	if claims == nil || claims.UserID() == "" {
		return nil, ErrUnableToParseData
	}

	var audience []string
	for _, aud := range claims.RegisteredClaims.Audience {
		audience = append(audience, aud)
	}

	issuedAt := claims.IssuedAtTime()
	expiresAt := claims.Expires()

	data := map[string]any{}
	if claims.Email != "" {
		data["email"] = claims.Email
	}

	return &SessionObject{
		UserID:         claims.UserID(),
		Audience:       audience,
		Issuer:         claims.RegisteredClaims.Issuer,
		IssuedAt:       &issuedAt,
		ExpirationDate: &expiresAt,
		Data:           data,
	}, nil
}
