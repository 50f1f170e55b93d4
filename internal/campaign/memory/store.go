// Package memory provides in-memory implementations of the campaign
// store and dispatch queue, for tests and single-node runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/blastline/dispatch/internal/campaign"
	"github.com/blastline/dispatch/internal/domain"
)

// Store implements campaign.Store in memory.
type Store struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	tracking  map[string]map[string]*domain.TrackingRecord // campaignID -> messageID -> record
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		campaigns: make(map[string]*domain.Campaign),
		tracking:  make(map[string]map[string]*domain.TrackingRecord),
	}
}

// CreateCampaign stores a copy of the campaign.
func (s *Store) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

// GetCampaign returns a copy of the campaign.
func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, campaign.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

// ListActiveCampaigns returns copies of all active campaigns.
func (s *Store) ListActiveCampaigns(_ context.Context) ([]*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]*domain.Campaign, 0)
	for _, c := range s.campaigns {
		if c.Status == domain.CampaignStatusActive {
			cp := *c
			active = append(active, &cp)
		}
	}
	return active, nil
}

// UpdateCampaignStatus sets the campaign status.
func (s *Store) UpdateCampaignStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrCampaignNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

// SetCampaignError records the first fatal error; later calls keep the
// original message.
func (s *Store) SetCampaignError(_ context.Context, id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrCampaignNotFound
	}
	if c.LastError == "" {
		c.LastError = message
	}
	c.UpdatedAt = time.Now()
	return nil
}

// IncrementCounters adds the deltas atomically.
func (s *Store) IncrementCounters(_ context.Context, id string, successful, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrCampaignNotFound
	}
	c.Successful += successful
	c.Failed += failed
	c.UpdatedAt = time.Now()
	return nil
}

// UpsertTracking writes the record keyed on message ID; writing the
// same message twice overwrites, keeping duplicate sends idempotent.
func (s *Store) UpsertTracking(_ context.Context, rec *domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byMessage, ok := s.tracking[rec.CampaignID]
	if !ok {
		byMessage = make(map[string]*domain.TrackingRecord)
		s.tracking[rec.CampaignID] = byMessage
	}
	cp := *rec
	byMessage[rec.MessageID] = &cp
	return nil
}

// GetTracking returns all tracking records of a campaign.
func (s *Store) GetTracking(_ context.Context, campaignID string) ([]domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]domain.TrackingRecord, 0, len(s.tracking[campaignID]))
	for _, rec := range s.tracking[campaignID] {
		records = append(records, *rec)
	}
	return records, nil
}
