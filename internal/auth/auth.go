package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Checker verifies a login.
type Checker interface {
	Check(ctx context.Context, email, password string) error
}

// StaticChecker accepts exactly one configured account.
type StaticChecker struct {
	email        string
	passwordHash []byte
}

func NewStaticChecker(email, passwordHash string) *StaticChecker {
	return &StaticChecker{
		email:        strings.ToLower(strings.TrimSpace(email)),
		passwordHash: []byte(passwordHash),
	}
}

func (c *StaticChecker) Check(_ context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(c.email)) == 1
	// Always run bcrypt so a wrong email costs as much as a wrong password.
	pwErr := bcrypt.CompareHashAndPassword(c.passwordHash, []byte(password))
	if !emailOK || pwErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword returns the bcrypt hash to configure as AUTH_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
