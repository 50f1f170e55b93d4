// Package postgres provides PostgreSQL implementations of the campaign
// store and dispatch queue.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blastline/dispatch/internal/campaign"
	"github.com/blastline/dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements campaign.Store using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a PostgreSQL campaign store.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateCampaign inserts a campaign record.
func (r *Repository) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	query := `
		INSERT INTO campaigns (id, name, subject, template, status, rate_limit,
			window_start, window_end, max_retries, backoff_base_ms, scheduled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		c.ID,
		c.Name,
		c.Subject,
		c.Template,
		c.Status,
		c.RateLimit,
		c.WindowStart,
		c.WindowEnd,
		c.Retry.MaxRetries,
		c.Retry.BackoffBase.Milliseconds(),
		c.Scheduled,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

const campaignColumns = `
	id, name, subject, template, status, rate_limit, window_start, window_end,
	max_retries, backoff_base_ms, scheduled, successful, failed,
	COALESCE(last_error, ''), created_at, updated_at
`

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	var backoffMS int64
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Subject,
		&c.Template,
		&c.Status,
		&c.RateLimit,
		&c.WindowStart,
		&c.WindowEnd,
		&c.Retry.MaxRetries,
		&backoffMS,
		&c.Scheduled,
		&c.Successful,
		&c.Failed,
		&c.LastError,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Retry.BackoffBase = time.Duration(backoffMS) * time.Millisecond
	return &c, nil
}

// GetCampaign retrieves a campaign by ID.
func (r *Repository) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, campaign.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListActiveCampaigns returns all campaigns in active status.
func (r *Repository) ListActiveCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, domain.CampaignStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := make([]*domain.Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// UpdateCampaignStatus sets the campaign status.
func (r *Repository) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	query := `UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return campaign.ErrCampaignNotFound
	}
	return nil
}

// SetCampaignError records the first fatal error message; later writes
// keep the original.
func (r *Repository) SetCampaignError(ctx context.Context, id string, message string) error {
	query := `
		UPDATE campaigns
		SET last_error = COALESCE(last_error, $2), updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, message)
	if err != nil {
		return fmt.Errorf("set campaign error: %w", err)
	}
	if result.RowsAffected() == 0 {
		return campaign.ErrCampaignNotFound
	}
	return nil
}

// IncrementCounters adds deltas to the successful and failed counters
// atomically.
func (r *Repository) IncrementCounters(ctx context.Context, id string, successful, failed int) error {
	query := `
		UPDATE campaigns
		SET successful = successful + $2, failed = failed + $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, successful, failed)
	if err != nil {
		return fmt.Errorf("increment counters: %w", err)
	}
	if result.RowsAffected() == 0 {
		return campaign.ErrCampaignNotFound
	}
	return nil
}

// UpsertTracking writes a tracking record keyed on message ID, so
// duplicate send attempts land on the same row.
func (r *Repository) UpsertTracking(ctx context.Context, rec *domain.TrackingRecord) error {
	query := `
		INSERT INTO tracking_records (message_id, campaign_id, recipient_address,
			status, sent_at, delivered_at, failed_at, bounced_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id) DO UPDATE SET
			status = EXCLUDED.status,
			sent_at = COALESCE(tracking_records.sent_at, EXCLUDED.sent_at),
			delivered_at = COALESCE(EXCLUDED.delivered_at, tracking_records.delivered_at),
			failed_at = COALESCE(EXCLUDED.failed_at, tracking_records.failed_at),
			bounced_at = COALESCE(EXCLUDED.bounced_at, tracking_records.bounced_at),
			error = EXCLUDED.error
	`
	_, err := r.db.Exec(ctx, query,
		rec.MessageID,
		rec.CampaignID,
		rec.RecipientAddress,
		rec.Status,
		rec.SentAt,
		rec.DeliveredAt,
		rec.FailedAt,
		rec.BouncedAt,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("upsert tracking record: %w", err)
	}
	return nil
}

// GetTracking returns all tracking records of a campaign.
func (r *Repository) GetTracking(ctx context.Context, campaignID string) ([]domain.TrackingRecord, error) {
	query := `
		SELECT message_id, campaign_id, recipient_address, status,
			sent_at, delivered_at, failed_at, bounced_at, COALESCE(error, '')
		FROM tracking_records
		WHERE campaign_id = $1
		ORDER BY COALESCE(sent_at, failed_at)
	`
	rows, err := r.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get tracking records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.TrackingRecord, 0)
	for rows.Next() {
		var rec domain.TrackingRecord
		err := rows.Scan(
			&rec.MessageID,
			&rec.CampaignID,
			&rec.RecipientAddress,
			&rec.Status,
			&rec.SentAt,
			&rec.DeliveredAt,
			&rec.FailedAt,
			&rec.BouncedAt,
			&rec.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tracking record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
