package domain

import "errors"

var (
	// ErrUnroutable means the broker confirmed the publish could not be routed to a queue.
	ErrUnroutable = errors.New("message unroutable")
	// ErrPublishRejected means the broker refused the message.
	ErrPublishRejected = errors.New("publish rejected by broker")

	ErrMalformedMessage = errors.New("malformed message")
	ErrResultNotFound   = errors.New("result not found")
)

// IsPublishRejection reports whether err is a confirmed refusal by the broker rather than a
// connection-level failure.
func IsPublishRejection(err error) bool {
	return errors.Is(err, ErrUnroutable) || errors.Is(err, ErrPublishRejected)
}
