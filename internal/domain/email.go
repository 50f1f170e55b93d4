package domain

import (
	"encoding/json"
	"time"
)

// EmailStatus represents the state of a scheduled email.
type EmailStatus string

// Email statuses.
const (
	EmailStatusQueued    EmailStatus = "queued"
	EmailStatusSending   EmailStatus = "sending"
	EmailStatusSent      EmailStatus = "sent"
	EmailStatusFailed    EmailStatus = "failed"
	EmailStatusRetrying  EmailStatus = "retrying"
	EmailStatusAbandoned EmailStatus = "abandoned"
)

// IsTerminal reports whether the email needs no further attempts.
func (s EmailStatus) IsTerminal() bool {
	return s == EmailStatusSent || s == EmailStatusAbandoned
}

// ScheduledEmail is the unit of work handled by the dispatcher: one
// recipient of one campaign with a concrete send time. Created by the
// planner, mutated only by the dispatcher.
type ScheduledEmail struct {
	ID            string
	CampaignID    string
	Recipient     Recipient
	ContentRef    string // rendered-content reference, produced externally
	ScheduledTime time.Time
	Status        EmailStatus
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// scheduledEmailWire is the persisted/transmitted shape of a queue entry.
type scheduledEmailWire struct {
	CampaignID       string            `json:"campaign_id"`
	RecipientAddress string            `json:"recipient_address"`
	RecipientData    map[string]string `json:"recipient_data,omitempty"`
	ScheduledTime    int64             `json:"scheduled_time"`
	Status           EmailStatus       `json:"status"`
	RetryCount       int               `json:"retry_count"`
}

// MarshalJSON encodes the entry in the wire shape, with scheduled_time
// as epoch seconds.
func (e ScheduledEmail) MarshalJSON() ([]byte, error) {
	return json.Marshal(scheduledEmailWire{
		CampaignID:       e.CampaignID,
		RecipientAddress: e.Recipient.Address,
		RecipientData:    e.Recipient.Data,
		ScheduledTime:    e.ScheduledTime.Unix(),
		Status:           e.Status,
		RetryCount:       e.RetryCount,
	})
}

// UnmarshalJSON decodes the wire shape.
func (e *ScheduledEmail) UnmarshalJSON(data []byte) error {
	var w scheduledEmailWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.CampaignID = w.CampaignID
	e.Recipient = Recipient{Address: w.RecipientAddress, Data: w.RecipientData}
	e.ScheduledTime = time.Unix(w.ScheduledTime, 0).UTC()
	e.Status = w.Status
	e.RetryCount = w.RetryCount
	return nil
}
