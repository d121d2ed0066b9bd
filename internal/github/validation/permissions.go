// Package validation holds the actor gates of the trigger pipeline.
package validation

import (
	"context"
	"errors"
	"fmt"
)

// ErrPermissionDenied is returned when the actor cannot write to the repository.
var ErrPermissionDenied = errors.New("actor lacks write permission")

// PermissionSource reports a user's collaborator permission level.
type PermissionSource interface {
	PermissionLevel(ctx context.Context, user string) (string, error)
}

// HasWrite reports whether level grants push access.
func HasWrite(level string) bool {
	switch level {
	case "admin", "maintain", "write":
		return true
	}
	return false
}

// EnsureWritePermission fails closed: a lookup error is a denial too, with
// the lookup error kept in the chain.
func EnsureWritePermission(ctx context.Context, src PermissionSource, user string) error {
	level, err := src.PermissionLevel(ctx, user)
	if err != nil {
		return fmt.Errorf("%w: could not verify %s: %w", ErrPermissionDenied, user, err)
	}
	if !HasWrite(level) {
		return fmt.Errorf("%w: %s has %q", ErrPermissionDenied, user, level)
	}
	return nil
}
