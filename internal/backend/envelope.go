package backend

import "fmt"

// Envelope is the booking backend's response wrapper. It is decoded once
// here so the rest of the code never inspects raw JSON shapes.
type Envelope[T any] struct {
	// Success is nil when the backend omitted the discriminator; such
	// responses count as successful.
	Success *bool  `json:"success,omitempty"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

// Succeeded implements request.Outcome.
func (e Envelope[T]) Succeeded() bool { return e.Success == nil || *e.Success }

// FailureMessage implements request.Outcome.
func (e Envelope[T]) FailureMessage() string { return e.Message }

// StatusError is a transport-level HTTP failure (5xx, 429, or an
// undecodable 2xx body). The request manager retries it.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: unexpected status %s", e.Status)
}

func failed[T any](msg string) Envelope[T] {
	f := false
	return Envelope[T]{Success: &f, Message: msg}
}
