package request

import (
	"errors"
	"fmt"
)

// GenericFailureMessage is shown when a failure carries no message of its own.
const GenericFailureMessage = "Something went wrong. Please try again."

var (
	// ErrCancelled means the caller's token fired. Callers treat it as a no-op.
	ErrCancelled = errors.New("request: cancelled")

	// ErrDuplicateSuppressed means an identical call was already in flight
	// and started within the duplicate threshold. Callers ignore it.
	ErrDuplicateSuppressed = errors.New("request: duplicate suppressed")
)

// Outcome is implemented by payloads that carry a success discriminator.
// Payloads that do not implement it are successful whenever the operation
// returns without error.
type Outcome interface {
	Succeeded() bool
	FailureMessage() string
}

// BusinessFailure is a well-formed negative response. It is never retried.
type BusinessFailure struct {
	Key     CallKey
	Message string
}

func (e *BusinessFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request: %s: unsuccessful response", e.Key)
	}
	return fmt.Sprintf("request: %s: %s", e.Key, e.Message)
}

// TerminalFailure wraps the last transport error once retries are exhausted.
type TerminalFailure struct {
	Key      CallKey
	Attempts int
	Err      error
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("request: %s failed after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *TerminalFailure) Unwrap() error { return e.Err }

// IsSilent reports whether err must not be shown to the user.
func IsSilent(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrDuplicateSuppressed)
}

// UserMessage returns the banner text for a user-facing failure: the
// payload's message when there is one, else GenericFailureMessage. Silent
// outcomes and nil yield "".
func UserMessage(err error) string {
	if err == nil || IsSilent(err) {
		return ""
	}
	var bf *BusinessFailure
	if errors.As(err, &bf) && bf.Message != "" {
		return bf.Message
	}
	return GenericFailureMessage
}
