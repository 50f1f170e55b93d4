package memory

import (
	"context"
	"strings"
	"sync"
)

type history struct {
	timezone       string
	preferredHours []int
}

// SuppressionList implements campaign.SuppressionStore and
// campaign.EngagementStore backed by in-process maps.
type SuppressionList struct {
	mu         sync.RWMutex
	suppressed map[string]struct{}
	histories  map[string]history
}

// NewSuppressionList creates an empty suppression/history store.
func NewSuppressionList() *SuppressionList {
	return &SuppressionList{
		suppressed: make(map[string]struct{}),
		histories:  make(map[string]history),
	}
}

// Suppress adds an address to the blocklist.
func (s *SuppressionList) Suppress(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed[strings.ToLower(address)] = struct{}{}
}

// IsSuppressed reports whether the address must never receive mail.
func (s *SuppressionList) IsSuppressed(_ context.Context, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.suppressed[strings.ToLower(address)]
	return ok, nil
}

// SetHistory records engagement history for an address.
func (s *SuppressionList) SetHistory(address, timezone string, preferredHours []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[strings.ToLower(address)] = history{timezone: timezone, preferredHours: preferredHours}
}

// HistoryFor returns the recorded timezone and preferred hours, both
// empty when the address has no history.
func (s *SuppressionList) HistoryFor(_ context.Context, address string) (string, []int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.histories[strings.ToLower(address)]
	return h.timezone, h.preferredHours, nil
}
