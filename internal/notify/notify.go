package notify

import (
	"context"
	"errors"

	"github.com/presencepro/platform/internal/models"
)

// Message is a rendered notification ready for an outbound channel provider.
type Message struct {
	Channel   models.Channel
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers a rendered message through one channel provider. Send
// returns the provider's message id on success.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
}

// permanentError marks a delivery failure that retrying cannot fix (bad
// recipient, rejected payload). The worker fails the task immediately instead
// of scheduling a retry.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err as a non-retryable delivery failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
