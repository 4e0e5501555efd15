package accounts

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHashCost is the bcrypt cost used by HashPassword
var PasswordHashCost = 12

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), PasswordHashCost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// dummyPasswordHash is compared against when no user matches, so lookups
// for unknown accounts cost about as much as a wrong password
func dummyPasswordHash() string {
	dummyHashOnce.Do(func() {
		h, _ := bcrypt.GenerateFromPassword([]byte("unknown-account"), PasswordHashCost)
		dummyHash = string(h)
	})
	return dummyHash
}
