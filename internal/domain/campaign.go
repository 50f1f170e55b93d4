// Package domain contains types shared across modules.
package domain

import "time"

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

// Campaign statuses.
const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// IsTerminal reports whether the campaign has finished, successfully or not.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// RetryPolicy controls how failed sends are retried.
type RetryPolicy struct {
	MaxRetries  int           `json:"max_retries"`
	BackoffBase time.Duration `json:"backoff_base"`
}

// Campaign represents one batch email-sending operation with its own
// rate and window policy. Once activated it is owned exclusively by the
// scheduling subsystem.
type Campaign struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Subject     string         `json:"subject"`
	Template    string         `json:"template"`
	Status      CampaignStatus `json:"status"`
	RateLimit   int            `json:"rate_limit"` // sends per hour
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Retry       RetryPolicy    `json:"retry"`
	Scheduled   int            `json:"scheduled"`
	Successful  int            `json:"successful"`
	Failed      int            `json:"failed"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
