package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blastline/dispatch/internal/campaign"
	"github.com/blastline/dispatch/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queue implements campaign.Queue using PostgreSQL. Leasing uses
// FOR UPDATE SKIP LOCKED so concurrent workers never see the same
// entry, and a leased_at column lets the janitor requeue work from
// crashed workers.
type Queue struct {
	db *pgxpool.Pool
}

// NewQueue creates a PostgreSQL dispatch queue.
func NewQueue(db *pgxpool.Pool) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts one entry.
func (q *Queue) Enqueue(ctx context.Context, entry *domain.ScheduledEmail) error {
	return q.EnqueueBatch(ctx, []*domain.ScheduledEmail{entry})
}

// EnqueueBatch inserts entries in one transaction. Insertion order is
// preserved by the seq column and breaks scheduled_time ties.
func (q *Queue) EnqueueBatch(ctx context.Context, entries []*domain.ScheduledEmail) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := q.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		INSERT INTO queue_entries (id, campaign_id, recipient, content_ref,
			scheduled_time, status, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, e := range entries {
		recipient, err := json.Marshal(e.Recipient)
		if err != nil {
			return fmt.Errorf("marshal recipient: %w", err)
		}
		if _, err := tx.Exec(ctx, query,
			e.ID,
			e.CampaignID,
			recipient,
			e.ContentRef,
			e.ScheduledTime,
			e.Status,
			e.RetryCount,
		); err != nil {
			return fmt.Errorf("insert queue entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Due leases up to limit due entries in ascending scheduled_time order.
// SKIP LOCKED keeps concurrent callers from leasing the same rows.
func (q *Queue) Due(ctx context.Context, campaignID string, now time.Time, limit int) ([]*domain.ScheduledEmail, error) {
	query := `
		WITH leased AS (
			UPDATE queue_entries
			SET status = $4, leased_at = $2, updated_at = NOW()
			WHERE id IN (
				SELECT id FROM queue_entries
				WHERE campaign_id = $1 AND status = $5 AND scheduled_time <= $2
				ORDER BY scheduled_time, seq
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, campaign_id, recipient, content_ref, scheduled_time,
				status, retry_count, seq, created_at, updated_at
		)
		SELECT id, campaign_id, recipient, content_ref, scheduled_time,
			status, retry_count, created_at, updated_at
		FROM leased
		ORDER BY scheduled_time, seq
	`
	rows, err := q.db.Query(ctx, query, campaignID, now, limit,
		domain.EmailStatusSending, domain.EmailStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("lease due entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.ScheduledEmail, 0)
	for rows.Next() {
		var e domain.ScheduledEmail
		var recipient []byte
		err := rows.Scan(
			&e.ID,
			&e.CampaignID,
			&recipient,
			&e.ContentRef,
			&e.ScheduledTime,
			&e.Status,
			&e.RetryCount,
			&e.CreatedAt,
			&e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		if err := json.Unmarshal(recipient, &e.Recipient); err != nil {
			return nil, fmt.Errorf("unmarshal recipient: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lease due entries: %w", err)
	}
	return entries, nil
}

// Remove deletes an entry. Removing an absent entry is a no-op.
func (q *Queue) Remove(ctx context.Context, campaignID, entryID string) error {
	query := `DELETE FROM queue_entries WHERE campaign_id = $1 AND id = $2`
	if _, err := q.db.Exec(ctx, query, campaignID, entryID); err != nil {
		return fmt.Errorf("remove queue entry: %w", err)
	}
	return nil
}

// Reschedule updates scheduled time, status and retry count, dropping
// the lease.
func (q *Queue) Reschedule(ctx context.Context, campaignID, entryID string, newTime time.Time, status domain.EmailStatus, retryCount int) error {
	query := `
		UPDATE queue_entries
		SET scheduled_time = $3, status = $4, retry_count = $5,
			leased_at = NULL, updated_at = NOW()
		WHERE campaign_id = $1 AND id = $2
	`
	if _, err := q.db.Exec(ctx, query, campaignID, entryID, newTime, status, retryCount); err != nil {
		return fmt.Errorf("reschedule queue entry: %w", err)
	}
	return nil
}

// Release returns a leased entry to queued without moving it.
func (q *Queue) Release(ctx context.Context, campaignID, entryID string) error {
	query := `
		UPDATE queue_entries
		SET status = $3, leased_at = NULL, updated_at = NOW()
		WHERE campaign_id = $1 AND id = $2 AND status = $4
	`
	if _, err := q.db.Exec(ctx, query, campaignID, entryID,
		domain.EmailStatusQueued, domain.EmailStatusSending); err != nil {
		return fmt.Errorf("release queue entry: %w", err)
	}
	return nil
}

// ReleaseExpiredLeases requeues sending entries leased before cutoff.
func (q *Queue) ReleaseExpiredLeases(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE queue_entries
		SET status = $2, leased_at = NULL, updated_at = NOW()
		WHERE status = $3 AND leased_at IS NOT NULL AND leased_at < $1
	`
	result, err := q.db.Exec(ctx, query, cutoff,
		domain.EmailStatusQueued, domain.EmailStatusSending)
	if err != nil {
		return 0, fmt.Errorf("release expired leases: %w", err)
	}
	return result.RowsAffected(), nil
}

// Pending counts the campaign's non-terminal entries.
func (q *Queue) Pending(ctx context.Context, campaignID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM queue_entries
		WHERE campaign_id = $1 AND status NOT IN ($2, $3)
	`
	var pending int
	err := q.db.QueryRow(ctx, query, campaignID,
		domain.EmailStatusSent, domain.EmailStatusAbandoned).Scan(&pending)
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return pending, nil
}

// Stats summarizes queue depth by status.
func (q *Queue) Stats(ctx context.Context) (*campaign.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM queue_entries GROUP BY status`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &campaign.QueueStats{}
	for rows.Next() {
		var status domain.EmailStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch status {
		case domain.EmailStatusQueued, domain.EmailStatusRetrying:
			stats.Queued += count
		case domain.EmailStatusSending:
			stats.Sending += count
		case domain.EmailStatusSent:
			stats.Sent += count
		case domain.EmailStatusFailed, domain.EmailStatusAbandoned:
			stats.Failed += count
		}
	}
	return stats, rows.Err()
}
