package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blastline/dispatch/internal/domain"
	"github.com/google/uuid"
)

// ScheduleInput contains everything needed to schedule a campaign.
type ScheduleInput struct {
	Name        string
	Subject     string
	Template    string
	Recipients  []RawRecipient
	RateLimit   int // sends per hour
	WindowStart time.Time
	WindowEnd   time.Time
	MaxRetries  int
	BackoffBase time.Duration
}

// ScheduleResult summarizes a scheduled campaign.
type ScheduleResult struct {
	CampaignID     string           `json:"campaign_id"`
	ScheduledCount int              `json:"scheduled_count"`
	FirstSend      time.Time        `json:"first_send"`
	LastSend       time.Time        `json:"last_send"`
	Report         ValidationReport `json:"report"`
}

// Service orchestrates campaign scheduling: validation, planning and
// durable enqueueing.
type Service struct {
	store     Store
	queue     Queue
	validator *Validator
	planner   *Planner
	renderer  *Renderer
	now       func() time.Time
}

// NewService creates a campaign service.
func NewService(store Store, queue Queue, validator *Validator, planner *Planner, renderer *Renderer) *Service {
	return &Service{
		store:     store,
		queue:     queue,
		validator: validator,
		planner:   planner,
		renderer:  renderer,
		now:       time.Now,
	}
}

// Schedule validates recipients, plans send times and persists the
// campaign with its queue entries, activating it immediately.
//
// Recipients whose personalization data does not cover the template's
// placeholders are rejected up front rather than failing at dispatch.
func (s *Service) Schedule(ctx context.Context, input ScheduleInput) (*ScheduleResult, error) {
	recipients, report, err := s.validator.Validate(ctx, input.Recipients)
	if err != nil {
		return nil, fmt.Errorf("validate recipients: %w", err)
	}

	// Check personalization data against the template's declared
	// placeholders before anything is queued.
	covered := make([]domain.Recipient, 0, len(recipients))
	for _, r := range recipients {
		if err := s.renderer.ValidateData(input.Template, r.Data); err != nil {
			slog.Info("recipient rejected", "address", r.Address, "reason", err.Error())
			report.Invalid = append(report.Invalid, r.Address)
			continue
		}
		if err := s.renderer.ValidateData(input.Subject, r.Data); err != nil {
			slog.Info("recipient rejected", "address", r.Address, "reason", err.Error())
			report.Invalid = append(report.Invalid, r.Address)
			continue
		}
		covered = append(covered, r)
	}

	if len(covered) == 0 {
		return nil, fmt.Errorf("%w: %d invalid, %d suppressed",
			ErrNoRecipients, len(report.Invalid), len(report.Suppressed))
	}

	plan, err := s.planner.Plan(covered, input.WindowStart, input.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("plan send times: %w", err)
	}

	now := s.now()
	c := &domain.Campaign{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Subject:     input.Subject,
		Template:    input.Template,
		Status:      domain.CampaignStatusActive,
		RateLimit:   input.RateLimit,
		WindowStart: input.WindowStart,
		WindowEnd:   input.WindowEnd,
		Retry: domain.RetryPolicy{
			MaxRetries:  input.MaxRetries,
			BackoffBase: input.BackoffBase,
		},
		Scheduled: len(plan),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	entries := s.planner.Entries(c.ID, plan, now)
	if err := s.queue.EnqueueBatch(ctx, entries); err != nil {
		return nil, fmt.Errorf("enqueue entries: %w", err)
	}

	first, last := plan[0].ScheduledTime, plan[0].ScheduledTime
	for _, ps := range plan[1:] {
		if ps.ScheduledTime.Before(first) {
			first = ps.ScheduledTime
		}
		if ps.ScheduledTime.After(last) {
			last = ps.ScheduledTime
		}
	}

	slog.Info("campaign scheduled",
		"campaign_id", c.ID,
		"scheduled", len(entries),
		"invalid", len(report.Invalid),
		"suppressed", len(report.Suppressed),
		"first_send", first,
		"last_send", last,
	)

	return &ScheduleResult{
		CampaignID:     c.ID,
		ScheduledCount: len(entries),
		FirstSend:      first,
		LastSend:       last,
		Report:         report,
	}, nil
}

// Get returns a campaign by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

// Pause stops new send acquisitions for the campaign. In-flight
// attempts finish; due entries stay queued.
func (s *Service) Pause(ctx context.Context, id string) error {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignStatusActive {
		return fmt.Errorf("%w: cannot pause campaign in status %q", ErrInvalidTransition, c.Status)
	}
	return s.store.UpdateCampaignStatus(ctx, id, domain.CampaignStatusPaused)
}

// Resume reactivates a paused campaign.
func (s *Service) Resume(ctx context.Context, id string) error {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignStatusPaused {
		return fmt.Errorf("%w: cannot resume campaign in status %q", ErrInvalidTransition, c.Status)
	}
	return s.store.UpdateCampaignStatus(ctx, id, domain.CampaignStatusActive)
}

// Tracking returns per-recipient delivery outcomes for a campaign.
func (s *Service) Tracking(ctx context.Context, id string) ([]domain.TrackingRecord, error) {
	if _, err := s.store.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetTracking(ctx, id)
}
