package domain

// SendError wraps a send-capability failure and classifies it.
// Transient failures are retried with backoff; permanent failures
// abandon the email immediately.
type SendError struct {
	Err       error
	Permanent bool
}

func (e *SendError) Error() string {
	return e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the dispatcher should retry this failure.
func (e *SendError) IsRetryable() bool {
	return !e.Permanent
}

// NewTransientSendError creates a retryable send error.
func NewTransientSendError(err error) *SendError {
	return &SendError{Err: err}
}

// NewPermanentSendError creates a non-retryable send error.
func NewPermanentSendError(err error) *SendError {
	return &SendError{Err: err, Permanent: true}
}
