package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotHuman is returned when the actor is an automation account.
var ErrNotHuman = errors.New("actor is not a human account")

// UserTypeSource reports the account type of a login ("User", "Bot", ...).
type UserTypeSource interface {
	UserType(ctx context.Context, login string) (string, error)
}

// IsBotLogin reports whether login has the app bot suffix.
func IsBotLogin(login string) bool {
	return strings.HasSuffix(login, "[bot]")
}

// EnsureHumanActor rejects bot logins without a lookup, and anything whose
// account type is not "User".
func EnsureHumanActor(ctx context.Context, src UserTypeSource, login string) error {
	if IsBotLogin(login) {
		return fmt.Errorf("%w: %s", ErrNotHuman, login)
	}
	typ, err := src.UserType(ctx, login)
	if err != nil {
		return fmt.Errorf("look up account type of %s: %w", login, err)
	}
	if typ != "User" {
		return fmt.Errorf("%w: %s is a %s", ErrNotHuman, login, typ)
	}
	return nil
}
