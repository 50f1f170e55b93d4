package campaign

import (
	"context"
	"sync"
	"time"

	"github.com/blastline/dispatch/internal/domain"
)

// mockStore is an in-test Store with programmable failures.
type mockStore struct {
	mu sync.Mutex

	campaigns     map[string]*domain.Campaign
	tracking      map[string]*domain.TrackingRecord
	statusUpdates []domain.CampaignStatus
	lastError     string
	successful    int
	failed        int

	getErr    error
	listErr   error
	createErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		campaigns: make(map[string]*domain.Campaign),
		tracking:  make(map[string]*domain.TrackingRecord),
	}
}

func (m *mockStore) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.campaigns[c.ID] = c
	return nil
}

func (m *mockStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *mockStore) ListActiveCampaigns(_ context.Context) ([]*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	active := make([]*domain.Campaign, 0)
	for _, c := range m.campaigns {
		if c.Status == domain.CampaignStatusActive {
			copied := *c
			active = append(active, &copied)
		}
	}
	return active, nil
}

func (m *mockStore) UpdateCampaignStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	c.Status = status
	m.statusUpdates = append(m.statusUpdates, status)
	return nil
}

func (m *mockStore) SetCampaignError(_ context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return ErrCampaignNotFound
	}
	if m.lastError == "" {
		m.lastError = message
	}
	return nil
}

func (m *mockStore) IncrementCounters(_ context.Context, id string, successful, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return ErrCampaignNotFound
	}
	m.successful += successful
	m.failed += failed
	return nil
}

func (m *mockStore) UpsertTracking(_ context.Context, rec *domain.TrackingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rec
	m.tracking[rec.MessageID] = &copied
	return nil
}

func (m *mockStore) GetTracking(_ context.Context, campaignID string) ([]domain.TrackingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]domain.TrackingRecord, 0)
	for _, rec := range m.tracking {
		if rec.CampaignID == campaignID {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func (m *mockStore) trackingFor(messageID string) *domain.TrackingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracking[messageID]
}

func (m *mockStore) counters() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successful, m.failed
}

type rescheduleCall struct {
	entryID    string
	newTime    time.Time
	status     domain.EmailStatus
	retryCount int
}

// mockQueue is an in-test Queue that hands out a fixed due batch.
type mockQueue struct {
	mu sync.Mutex

	due         []*domain.ScheduledEmail
	enqueued    []*domain.ScheduledEmail
	removed     []string
	released    []string
	rescheduled []rescheduleCall
	pending     int

	dueErr     error
	enqueueErr error
}

func newMockQueue() *mockQueue {
	return &mockQueue{}
}

func (m *mockQueue) Enqueue(ctx context.Context, entry *domain.ScheduledEmail) error {
	return m.EnqueueBatch(ctx, []*domain.ScheduledEmail{entry})
}

func (m *mockQueue) EnqueueBatch(_ context.Context, entries []*domain.ScheduledEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, entries...)
	return nil
}

// Due returns the programmed batch once, like a lease would.
func (m *mockQueue) Due(_ context.Context, _ string, _ time.Time, limit int) ([]*domain.ScheduledEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	if len(m.due) == 0 {
		return nil, nil
	}
	n := min(limit, len(m.due))
	batch := m.due[:n]
	m.due = m.due[n:]
	return batch, nil
}

func (m *mockQueue) Remove(_ context.Context, _, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, entryID)
	m.pending--
	return nil
}

func (m *mockQueue) Reschedule(_ context.Context, _, entryID string, newTime time.Time, status domain.EmailStatus, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rescheduled = append(m.rescheduled, rescheduleCall{
		entryID:    entryID,
		newTime:    newTime,
		status:     status,
		retryCount: retryCount,
	})
	if status == domain.EmailStatusAbandoned {
		m.pending--
	}
	return nil
}

func (m *mockQueue) Release(_ context.Context, _, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, entryID)
	return nil
}

func (m *mockQueue) ReleaseExpiredLeases(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *mockQueue) Pending(_ context.Context, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, nil
}

func (m *mockQueue) Stats(_ context.Context) (*QueueStats, error) {
	return &QueueStats{}, nil
}

func (m *mockQueue) removedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

func (m *mockQueue) releasedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.released...)
}

func (m *mockQueue) rescheduleCalls() []rescheduleCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rescheduleCall(nil), m.rescheduled...)
}

// mockSender records sends and answers with a programmable function.
type mockSender struct {
	mu     sync.Mutex
	sendFn func(to, subject, body string) (string, error)
	sent   []string
}

func (m *mockSender) Send(_ context.Context, to, subject, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	if m.sendFn != nil {
		return m.sendFn(to, subject, body)
	}
	return "msg-" + to, nil
}

func (m *mockSender) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// mockSuppression is an in-test suppression and engagement source.
type mockSuppression struct {
	suppressed map[string]bool
	history    map[string]engagementHistory
	err        error
}

type engagementHistory struct {
	timezone string
	hours    []int
}

func (m *mockSuppression) IsSuppressed(_ context.Context, address string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.suppressed[address], nil
}

func (m *mockSuppression) HistoryFor(_ context.Context, address string) (string, []int, error) {
	if m.err != nil {
		return "", nil, m.err
	}
	h := m.history[address]
	return h.timezone, h.hours, nil
}
