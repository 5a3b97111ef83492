package auth

import (
	"context"
	"errors"
	"fmt"

	authn "github.com/NordCoder/Studymate/internal/auth"
	"github.com/NordCoder/Studymate/internal/domain"
)

// Failures returned by Manager. Callers match them with errors.Is; nothing
// else escapes the Manager.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrStoreUnavailable   = errors.New("session store unavailable")
	ErrNotFound           = errors.New("not found")
	ErrEmailExists        = errors.New("email already registered")
	ErrWeakPassword       = fmt.Errorf("password must be %d to %d bytes", authn.MinPasswordLen, authn.MaxPasswordLen)
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInternal           = errors.New("internal error")
)

var taxonomy = []error{
	ErrInvalidCredentials, ErrTokenInvalid, ErrTokenExpired, ErrStoreUnavailable,
	ErrNotFound, ErrEmailExists, ErrWeakPassword, ErrInvalidEmail, ErrInternal,
}

// classify turns any error into one of the package sentinels. The raw cause is
// dropped; callers log it before it is lost.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, s := range taxonomy {
		if errors.Is(err, s) {
			return fmt.Errorf("%s: %w", op, s)
		}
	}
	switch {
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrStoreUnavailable)
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, ErrInternal)
}

func tokenErr(err error) error {
	if errors.Is(err, authn.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}
