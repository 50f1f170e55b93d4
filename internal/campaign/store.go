// Package campaign implements the email-campaign dispatch engine:
// recipient validation, send-time planning, the durable dispatch queue,
// rate limiting and the dispatcher control loop.
package campaign

import (
	"context"
	"time"

	"github.com/blastline/dispatch/internal/domain"
)

// Store provides persistence for campaigns and tracking records.
// Implementations must offer read-after-write consistency per document.
type Store interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListActiveCampaigns(ctx context.Context) ([]*domain.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error
	SetCampaignError(ctx context.Context, id string, message string) error
	// IncrementCounters adds the deltas to the campaign's successful and
	// failed counters atomically.
	IncrementCounters(ctx context.Context, id string, successful, failed int) error

	UpsertTracking(ctx context.Context, rec *domain.TrackingRecord) error
	GetTracking(ctx context.Context, campaignID string) ([]domain.TrackingRecord, error)
}

// Queue is the durable time-ordered queue of pending sends, keyed by
// campaign. Entries returned by Due are leased: invisible to other
// workers until removed, rescheduled, or their lease expires.
type Queue interface {
	Enqueue(ctx context.Context, entry *domain.ScheduledEmail) error
	EnqueueBatch(ctx context.Context, entries []*domain.ScheduledEmail) error

	// Due returns up to limit entries with scheduled_time <= now in
	// ascending time order, marking each one sending with a lease. An
	// entry is visible to at most one caller at a time.
	Due(ctx context.Context, campaignID string, now time.Time, limit int) ([]*domain.ScheduledEmail, error)

	// Remove deletes a terminal entry. Removing an absent entry is a
	// no-op, not an error.
	Remove(ctx context.Context, campaignID, entryID string) error

	// Reschedule moves an entry to a new time with a new status,
	// preserving its retry count, and releases its lease.
	Reschedule(ctx context.Context, campaignID, entryID string, newTime time.Time, status domain.EmailStatus, retryCount int) error

	// Release returns a leased entry to queued without changing its
	// scheduled time. Used when the rate limiter refuses a send.
	Release(ctx context.Context, campaignID, entryID string) error

	// ReleaseExpiredLeases requeues entries whose lease is older than
	// cutoff, making work from crashed workers visible again.
	ReleaseExpiredLeases(ctx context.Context, cutoff time.Time) (int64, error)

	// Pending reports how many entries of the campaign are not yet
	// terminal. Zero means the campaign can complete.
	Pending(ctx context.Context, campaignID string) (int, error)

	Stats(ctx context.Context) (*QueueStats, error)
}

// QueueStats summarizes queue depth by status.
type QueueStats struct {
	Queued  int64
	Sending int64
	Sent    int64
	Failed  int64
}

// SuppressionStore answers whether an address must never receive mail.
type SuppressionStore interface {
	IsSuppressed(ctx context.Context, address string) (bool, error)
}

// EngagementStore looks up historical engagement for an address.
type EngagementStore interface {
	// HistoryFor returns the recipient's timezone and preferred send
	// hours. Either may be empty when no history exists.
	HistoryFor(ctx context.Context, address string) (timezone string, preferredHours []int, err error)
}

// Sender is the external send capability.
type Sender interface {
	// Send delivers one email and returns the provider message ID.
	// Failures should be a *domain.SendError so the dispatcher can tell
	// transient from permanent; unclassified errors are treated as
	// transient.
	Send(ctx context.Context, to, subject, body string) (messageID string, err error)
}
