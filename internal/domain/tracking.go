package domain

import "time"

// TrackingStatus represents the final delivery outcome of one email.
type TrackingStatus string

// Tracking statuses.
const (
	TrackingStatusSent      TrackingStatus = "sent"
	TrackingStatusDelivered TrackingStatus = "delivered"
	TrackingStatusFailed    TrackingStatus = "failed"
	TrackingStatusBounced   TrackingStatus = "bounced"
)

// TrackingRecord records the per-recipient delivery outcome. Written by
// the dispatcher, read by analytics. Writes are upserts keyed on
// MessageID so that duplicate send attempts stay idempotent.
type TrackingRecord struct {
	MessageID        string         `json:"message_id"`
	CampaignID       string         `json:"campaign_id"`
	RecipientAddress string         `json:"recipient_address"`
	Status           TrackingStatus `json:"status"`
	SentAt           *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	FailedAt         *time.Time     `json:"failed_at,omitempty"`
	BouncedAt        *time.Time     `json:"bounced_at,omitempty"`
	Error            string         `json:"error,omitempty"`
}
