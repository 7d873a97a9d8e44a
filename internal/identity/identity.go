package identity

import (
	"context"
	"fmt"

	"github.com/staffroom/staffroom/internal/types"
)

// Verifier resolves a bearer token to the identity it was issued for.
// Verification may block on network I/O; callers pass a context.
type Verifier interface {
	Verify(ctx context.Context, token string) (types.Identity, error)
}

// AuthError indicates the token was rejected. On the relay it is
// terminal for the connection; on the REST path the caller may refresh
// the token once and retry.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
