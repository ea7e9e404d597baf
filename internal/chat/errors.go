package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrForbidden means the bot lacks the permission for the call. Terminal.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means the channel, message, member or role no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks transient platform failures (5xx, timeouts).
	ErrUnavailable = errors.New("chat platform unavailable")
)

// RateLimitedError is returned when the platform asks the caller to wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// IsForbidden reports whether err is a permission loss.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsNotFound reports whether err means the target is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the call may succeed if repeated.
func IsRetryable(err error) bool {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	return errors.Is(err, ErrUnavailable)
}
