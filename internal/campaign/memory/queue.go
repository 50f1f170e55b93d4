package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blastline/dispatch/internal/campaign"
	"github.com/blastline/dispatch/internal/domain"
)

type queueEntry struct {
	email    domain.ScheduledEmail
	seq      int64 // insertion order, breaks timestamp ties
	leasedAt time.Time
}

// Queue implements campaign.Queue in memory. Entries are leased by Due
// (status sending) and stay invisible until removed, rescheduled,
// released, or their lease expires.
type Queue struct {
	mu      sync.Mutex
	entries map[string]map[string]*queueEntry // campaignID -> entryID
	nextSeq int64
}

// NewQueue creates an empty in-memory queue.
func NewQueue() *Queue {
	return &Queue{entries: make(map[string]map[string]*queueEntry)}
}

// Enqueue inserts one entry.
func (q *Queue) Enqueue(_ context.Context, entry *domain.ScheduledEmail) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.insert(entry)
	return nil
}

// EnqueueBatch inserts entries preserving their order for timestamp
// tie-breaking.
func (q *Queue) EnqueueBatch(_ context.Context, entries []*domain.ScheduledEmail) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		q.insert(e)
	}
	return nil
}

func (q *Queue) insert(entry *domain.ScheduledEmail) {
	byID, ok := q.entries[entry.CampaignID]
	if !ok {
		byID = make(map[string]*queueEntry)
		q.entries[entry.CampaignID] = byID
	}
	q.nextSeq++
	byID[entry.ID] = &queueEntry{email: *entry, seq: q.nextSeq}
}

// Due returns up to limit queued entries with scheduled_time <= now in
// ascending time order (stable by insertion), leasing each one.
func (q *Queue) Due(_ context.Context, campaignID string, now time.Time, limit int) ([]*domain.ScheduledEmail, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	candidates := make([]*queueEntry, 0)
	for _, e := range q.entries[campaignID] {
		if e.email.Status == domain.EmailStatusQueued && !e.email.ScheduledTime.After(now) {
			candidates = append(candidates, e)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := candidates[i].email.ScheduledTime, candidates[j].email.ScheduledTime
		if ti.Equal(tj) {
			return candidates[i].seq < candidates[j].seq
		}
		return ti.Before(tj)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	due := make([]*domain.ScheduledEmail, 0, len(candidates))
	for _, e := range candidates {
		e.email.Status = domain.EmailStatusSending
		e.leasedAt = now
		cp := e.email
		due = append(due, &cp)
	}
	return due, nil
}

// Remove deletes an entry. Absent entries are a no-op.
func (q *Queue) Remove(_ context.Context, campaignID, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if byID, ok := q.entries[campaignID]; ok {
		delete(byID, entryID)
	}
	return nil
}

// Reschedule updates scheduled time and status, preserving the given
// retry count, and drops the lease.
func (q *Queue) Reschedule(_ context.Context, campaignID, entryID string, newTime time.Time, status domain.EmailStatus, retryCount int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[campaignID][entryID]
	if !ok {
		return nil
	}
	e.email.ScheduledTime = newTime
	e.email.Status = status
	e.email.RetryCount = retryCount
	e.email.UpdatedAt = time.Now()
	e.leasedAt = time.Time{}
	return nil
}

// Release returns a leased entry to queued without moving it.
func (q *Queue) Release(_ context.Context, campaignID, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[campaignID][entryID]
	if !ok {
		return nil
	}
	if e.email.Status == domain.EmailStatusSending {
		e.email.Status = domain.EmailStatusQueued
		e.leasedAt = time.Time{}
	}
	return nil
}

// ReleaseExpiredLeases requeues sending entries leased before cutoff.
func (q *Queue) ReleaseExpiredLeases(_ context.Context, cutoff time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var released int64
	for _, byID := range q.entries {
		for _, e := range byID {
			if e.email.Status == domain.EmailStatusSending && !e.leasedAt.IsZero() && e.leasedAt.Before(cutoff) {
				e.email.Status = domain.EmailStatusQueued
				e.leasedAt = time.Time{}
				released++
			}
		}
	}
	return released, nil
}

// Pending counts the campaign's non-terminal entries.
func (q *Queue) Pending(_ context.Context, campaignID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := 0
	for _, e := range q.entries[campaignID] {
		if !e.email.Status.IsTerminal() {
			pending++
		}
	}
	return pending, nil
}

// Stats summarizes queue depth by status across campaigns.
func (q *Queue) Stats(_ context.Context) (*campaign.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &campaign.QueueStats{}
	for _, byID := range q.entries {
		for _, e := range byID {
			switch e.email.Status {
			case domain.EmailStatusQueued, domain.EmailStatusRetrying:
				stats.Queued++
			case domain.EmailStatusSending:
				stats.Sending++
			case domain.EmailStatusSent:
				stats.Sent++
			case domain.EmailStatusFailed, domain.EmailStatusAbandoned:
				stats.Failed++
			}
		}
	}
	return stats, nil
}
