package fetcher

import (
	"errors"
	"fmt"
)

// Attempt failures. All but ErrPolicyBlocked are retried.
var (
	ErrPolicyBlocked      = errors.New("blocked by robots policy")
	ErrChallengeTimeout   = errors.New("challenge did not clear in time")
	ErrContentTooShort    = errors.New("page content too short")
	ErrUnexpectedRedirect = errors.New("redirected off the expected host")
	ErrFetchExhausted     = errors.New("fetch attempts exhausted")
)

// ExhaustedError is returned after the last retry fails. It matches both
// ErrFetchExhausted and the cause of the final attempt.
type ExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s: %d attempts exhausted: %v", e.URL, e.Attempts, e.Last)
}

// Unwrap exposes the sentinel and the last cause to errors.Is / errors.As.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrFetchExhausted, e.Last}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrPolicyBlocked):
		return "blocked"
	case errors.Is(err, ErrChallengeTimeout):
		return "challenge_timeout"
	case errors.Is(err, ErrContentTooShort):
		return "too_short"
	case errors.Is(err, ErrUnexpectedRedirect):
		return "redirect"
	default:
		return "render_error"
	}
}
