package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blastline/dispatch/internal/domain"
)

// DispatcherConfig contains dispatcher configuration.
type DispatcherConfig struct {
	// PollInterval is how often each campaign loop checks for due
	// entries, and doubles as the bounded wait after a rate refusal.
	PollInterval time.Duration
	// BatchSize caps how many due entries one iteration leases.
	BatchSize int
	// LeaseTimeout is how long a leased entry stays invisible before a
	// crashed worker's work is requeued.
	LeaseTimeout time.Duration
	// StoreFailureThreshold is how many consecutive store errors a
	// campaign loop tolerates before marking the campaign failed.
	StoreFailureThreshold int
	// StoreRetryBackoff is the base delay between supervisor retries
	// after a store error.
	StoreRetryBackoff time.Duration
}

// DefaultDispatcherConfig returns default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval:          time.Second,
		BatchSize:             100,
		LeaseTimeout:          5 * time.Minute,
		StoreFailureThreshold: 10,
		StoreRetryBackoff:     time.Second,
	}
}

// Dispatcher drains the queue under the rate limit: one worker loop per
// active campaign, plus a janitor that requeues expired leases. Send
// failures are local to one entry and never stop the loop.
type Dispatcher struct {
	config   DispatcherConfig
	store    Store
	queue    Queue
	limiter  *RateLimiter
	sender   Sender
	renderer *Renderer
	now      func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config DispatcherConfig, store Store, queue Queue, limiter *RateLimiter, sender Sender, renderer *Renderer) *Dispatcher {
	return &Dispatcher{
		config:   config,
		store:    store,
		queue:    queue,
		limiter:  limiter,
		sender:   sender,
		renderer: renderer,
		now:      time.Now,
		running:  make(map[string]context.CancelFunc),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the supervisor and janitor goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("starting dispatcher",
		"poll_interval", d.config.PollInterval,
		"batch_size", d.config.BatchSize,
		"lease_timeout", d.config.LeaseTimeout,
	)

	d.wg.Add(2)
	go d.supervise(ctx)
	go d.janitor(ctx)
}

// Stop signals all loops to exit and waits for in-flight attempts to
// finish.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	slog.Info("dispatcher stopped")
}

// supervise keeps one campaign loop running per active campaign,
// starting loops for newly activated campaigns and reaping finished
// ones. Store errors here are retried with backoff, not fatal.
func (d *Dispatcher) supervise(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			campaigns, err := d.store.ListActiveCampaigns(ctx)
			if err != nil {
				slog.Error("failed to list active campaigns", "error", err)
				if !sleepCtx(ctx, d.stopCh, d.config.StoreRetryBackoff) {
					return
				}
				continue
			}

			for _, c := range campaigns {
				d.ensureLoop(ctx, c.ID)
			}
		}
	}
}

// ensureLoop starts a campaign loop unless one is already running.
func (d *Dispatcher) ensureLoop(ctx context.Context, campaignID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.running[campaignID]; ok {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.running[campaignID] = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.running, campaignID)
			d.mu.Unlock()
			cancel()
		}()
		d.runCampaign(loopCtx, campaignID)
	}()
}

// runCampaign is the per-campaign control loop. It exits when the
// campaign leaves the active state or the dispatcher stops; due entries
// of a paused campaign stay queued.
func (d *Dispatcher) runCampaign(ctx context.Context, campaignID string) {
	slog.Info("campaign loop started", "campaign_id", campaignID)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	storeFailures := 0
	var firstStoreErr error

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
		}

		c, err := d.store.GetCampaign(ctx, campaignID)
		if err != nil {
			storeFailures++
			if firstStoreErr == nil {
				firstStoreErr = err
			}
			slog.Error("campaign fetch failed",
				"campaign_id", campaignID,
				"consecutive_failures", storeFailures,
				"error", err,
			)
			if storeFailures >= d.config.StoreFailureThreshold {
				d.failCampaign(ctx, campaignID, firstStoreErr)
				return
			}
			if !sleepCtx(ctx, d.stopCh, backoffDelay(d.config.StoreRetryBackoff, storeFailures)) {
				return
			}
			continue
		}
		storeFailures = 0
		firstStoreErr = nil

		if c.Status != domain.CampaignStatusActive {
			slog.Info("campaign no longer active, stopping loop",
				"campaign_id", campaignID,
				"status", c.Status,
			)
			return
		}

		if err := d.processDue(ctx, c); err != nil {
			slog.Error("dispatch iteration failed", "campaign_id", campaignID, "error", err)
			continue
		}

		done, err := d.maybeComplete(ctx, c)
		if err != nil {
			slog.Error("completion check failed", "campaign_id", campaignID, "error", err)
			continue
		}
		if done {
			return
		}
	}
}

// processDue leases due entries and attempts them in scheduled order.
// A rate refusal releases the entry and moves on; it never blocks the
// rest of the batch.
func (d *Dispatcher) processDue(ctx context.Context, c *domain.Campaign) error {
	entries, err := d.queue.Due(ctx, c.ID, d.now(), d.config.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch due entries: %w", err)
	}

	for i, entry := range entries {
		select {
		case <-ctx.Done():
			d.releaseBatch(c.ID, entries[i:])
			return nil
		case <-d.stopCh:
			d.releaseBatch(c.ID, entries[i:])
			return nil
		default:
		}

		// The campaign was active when the batch was leased; a pause
		// must take effect between entries, not at the next batch.
		if i > 0 {
			current, err := d.store.GetCampaign(ctx, c.ID)
			if err == nil && current.Status != domain.CampaignStatusActive {
				d.releaseBatch(c.ID, entries[i:])
				return nil
			}
		}

		if !d.limiter.TryAcquire(c.ID, c.RateLimit) {
			recordRateLimitRefusal()
			if err := d.queue.Release(ctx, c.ID, entry.ID); err != nil {
				slog.Error("failed to release refused entry",
					"campaign_id", c.ID,
					"entry_id", entry.ID,
					"error", err,
				)
			}
			continue
		}

		d.attempt(ctx, c, entry)
	}

	return nil
}

// releaseBatch requeues leased entries that will not be attempted. The
// loop context may already be cancelled when this runs, so it uses its
// own deadline.
func (d *Dispatcher) releaseBatch(campaignID string, entries []*domain.ScheduledEmail) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, entry := range entries {
		if err := d.queue.Release(ctx, campaignID, entry.ID); err != nil {
			slog.Error("failed to release leased entry",
				"campaign_id", campaignID,
				"entry_id", entry.ID,
				"error", err,
			)
		}
	}
}

// attempt performs one send attempt for one leased entry.
func (d *Dispatcher) attempt(ctx context.Context, c *domain.Campaign, entry *domain.ScheduledEmail) {
	start := d.now()

	body := entry.ContentRef
	var err error
	if body == "" {
		body, err = d.renderer.Render(c.Template, entry.Recipient.Data)
	}

	var messageID string
	var subject string
	if err == nil {
		subject, err = d.renderer.RenderSubject(c.Subject, entry.Recipient.Data)
	}
	if err == nil {
		messageID, err = d.sender.Send(ctx, entry.Recipient.Address, subject, body)
	}

	duration := d.now().Sub(start)

	if err != nil {
		d.handleFailure(ctx, c, entry, err, duration)
		return
	}

	sentAt := d.now()
	rec := &domain.TrackingRecord{
		MessageID:        messageID,
		CampaignID:       c.ID,
		RecipientAddress: entry.Recipient.Address,
		Status:           domain.TrackingStatusSent,
		SentAt:           &sentAt,
	}
	if err := d.store.UpsertTracking(ctx, rec); err != nil {
		slog.Error("failed to write tracking record",
			"campaign_id", c.ID,
			"message_id", messageID,
			"error", err,
		)
	}

	if err := d.queue.Remove(ctx, c.ID, entry.ID); err != nil {
		slog.Error("failed to remove sent entry",
			"campaign_id", c.ID,
			"entry_id", entry.ID,
			"error", err,
		)
	}

	if err := d.store.IncrementCounters(ctx, c.ID, 1, 0); err != nil {
		slog.Error("failed to increment counters", "campaign_id", c.ID, "error", err)
	}

	recordSendOutcome("sent", duration)
	slog.Debug("email sent",
		"campaign_id", c.ID,
		"message_id", messageID,
		"retry_count", entry.RetryCount,
		"duration", duration,
	)
}

// handleFailure classifies a failed attempt: transient errors are
// rescheduled with exponential backoff until the retry ceiling,
// permanent errors abandon the entry immediately.
func (d *Dispatcher) handleFailure(ctx context.Context, c *domain.Campaign, entry *domain.ScheduledEmail, sendErr error, duration time.Duration) {
	slog.Warn("send failed",
		"campaign_id", c.ID,
		"entry_id", entry.ID,
		"attempt", entry.RetryCount+1,
		"max_retries", c.Retry.MaxRetries,
		"error", sendErr,
	)

	if err := d.store.IncrementCounters(ctx, c.ID, 0, 1); err != nil {
		slog.Error("failed to increment counters", "campaign_id", c.ID, "error", err)
	}

	if isRetryable(sendErr) && entry.RetryCount < c.Retry.MaxRetries {
		delay := backoffDelay(c.Retry.BackoffBase, entry.RetryCount+1)
		nextTime := d.now().Add(delay)

		if err := d.queue.Reschedule(ctx, c.ID, entry.ID, nextTime, domain.EmailStatusQueued, entry.RetryCount+1); err != nil {
			slog.Error("failed to reschedule entry",
				"campaign_id", c.ID,
				"entry_id", entry.ID,
				"error", err,
			)
			return
		}

		recordSendOutcome("retry", duration)
		slog.Info("entry scheduled for retry",
			"campaign_id", c.ID,
			"entry_id", entry.ID,
			"retry_count", entry.RetryCount+1,
			"next_attempt", nextTime,
		)
		return
	}

	// Permanent failure or retries exhausted: abandon.
	reason := sendErr
	if isRetryable(sendErr) {
		reason = fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, entry.RetryCount+1, sendErr)
	}

	failedAt := d.now()
	rec := &domain.TrackingRecord{
		MessageID:        entry.ID,
		CampaignID:       c.ID,
		RecipientAddress: entry.Recipient.Address,
		Status:           domain.TrackingStatusFailed,
		FailedAt:         &failedAt,
		Error:            reason.Error(),
	}
	if err := d.store.UpsertTracking(ctx, rec); err != nil {
		slog.Error("failed to write tracking record",
			"campaign_id", c.ID,
			"entry_id", entry.ID,
			"error", err,
		)
	}

	if err := d.queue.Reschedule(ctx, c.ID, entry.ID, entry.ScheduledTime, domain.EmailStatusAbandoned, entry.RetryCount); err != nil {
		slog.Error("failed to abandon entry",
			"campaign_id", c.ID,
			"entry_id", entry.ID,
			"error", err,
		)
	}

	recordSendOutcome("abandoned", duration)
}

// maybeComplete marks the campaign completed once every entry is
// terminal.
func (d *Dispatcher) maybeComplete(ctx context.Context, c *domain.Campaign) (bool, error) {
	pending, err := d.queue.Pending(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("count pending: %w", err)
	}
	if pending > 0 {
		return false, nil
	}

	if err := d.store.UpdateCampaignStatus(ctx, c.ID, domain.CampaignStatusCompleted); err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}

	d.limiter.Forget(c.ID)
	recordCampaignFinished(string(domain.CampaignStatusCompleted))
	slog.Info("campaign completed",
		"campaign_id", c.ID,
		"successful", c.Successful,
		"failed", c.Failed,
	)
	return true, nil
}

// failCampaign marks the campaign failed, retaining the first fatal
// error message.
func (d *Dispatcher) failCampaign(ctx context.Context, campaignID string, cause error) {
	slog.Error("campaign failed", "campaign_id", campaignID, "error", cause)

	if err := d.store.SetCampaignError(ctx, campaignID, cause.Error()); err != nil {
		slog.Error("failed to record campaign error", "campaign_id", campaignID, "error", err)
	}
	if err := d.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignStatusFailed); err != nil {
		slog.Error("failed to mark campaign failed", "campaign_id", campaignID, "error", err)
	}

	d.limiter.Forget(campaignID)
	recordCampaignFinished(string(domain.CampaignStatusFailed))
}

// janitor periodically requeues entries whose lease expired, so work
// checked out by a crashed worker becomes visible again.
func (d *Dispatcher) janitor(ctx context.Context) {
	defer d.wg.Done()

	interval := d.config.LeaseTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			cutoff := d.now().Add(-d.config.LeaseTimeout)
			n, err := d.queue.ReleaseExpiredLeases(ctx, cutoff)
			if err != nil {
				slog.Error("lease recovery failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("requeued entries with expired leases", "count", n)
			}
		}
	}
}

// backoffDelay computes base * 2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// isRetryable reports whether an error should be retried. Errors that
// do not classify themselves default to retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}

// sleepCtx waits for d or until cancellation. Returns false when
// cancelled.
func sleepCtx(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	}
}
