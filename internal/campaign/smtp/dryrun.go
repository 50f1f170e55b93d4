package smtp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// DryRunSender logs sends instead of delivering them. Used when SMTP
// is disabled, so scheduling and dispatch can be exercised without a
// mail relay.
type DryRunSender struct{}

// NewDryRunSender creates a sender that only logs.
func NewDryRunSender() *DryRunSender {
	slog.Warn("smtp disabled: emails will be logged, not delivered")
	return &DryRunSender{}
}

// Send logs the message and reports success.
func (s *DryRunSender) Send(ctx context.Context, to, subject, body string) (string, error) {
	messageID := fmt.Sprintf("<%s@dry-run>", uuid.NewString())
	slog.InfoContext(ctx, "dry-run send",
		"to", to,
		"subject", subject,
		"bytes", len(body),
		"message_id", messageID,
	)
	return messageID, nil
}
