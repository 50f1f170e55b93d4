package campaign

import (
	"errors"
	"fmt"
)

// Planning and validation errors.
var (
	ErrInvalidAddress = errors.New("invalid email address")
	ErrSuppressed     = errors.New("address is suppressed")
	ErrInvalidWindow  = errors.New("window end must be after window start")
	ErrNoRecipients   = errors.New("campaign has no valid recipients")
)

// Store errors.
var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrEntryNotFound    = errors.New("queue entry not found")
)

// Dispatch errors.
var (
	ErrRetryExhausted    = errors.New("retry limit exhausted")
	ErrInvalidTransition = errors.New("invalid campaign status transition")
)

// MissingPlaceholderError reports a template placeholder with no value
// in the recipient's personalization data.
type MissingPlaceholderError struct {
	Placeholder string
}

func (e *MissingPlaceholderError) Error() string {
	return fmt.Sprintf("missing value for placeholder {%s}", e.Placeholder)
}

// IsRetryable marks rendering failures as permanent: retrying cannot
// supply the absent data.
func (e *MissingPlaceholderError) IsRetryable() bool {
	return false
}
