package campaign

import (
	"fmt"
	"time"

	"github.com/blastline/dispatch/internal/domain"
	"github.com/google/uuid"
)

// PlannedSend is one recipient with its computed send time.
type PlannedSend struct {
	Recipient     domain.Recipient
	ScheduledTime time.Time
}

// Planner converts a recipient set plus a time window into concrete
// per-recipient send times.
//
// Recipients are spaced evenly across the window regardless of the
// campaign rate limit; the limiter caps bursts at dispatch time. The
// two controls are deliberately layered, not redundant.
type Planner struct{}

// NewPlanner creates a send-time planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan computes a send time for every recipient. Output order matches
// input order, so entries with identical timestamps keep their original
// relative position. An empty recipient list yields an empty plan.
func (p *Planner) Plan(recipients []domain.Recipient, start, end time.Time) ([]PlannedSend, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: start=%s end=%s", ErrInvalidWindow, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	plan := make([]PlannedSend, 0, len(recipients))
	if len(recipients) == 0 {
		return plan, nil
	}

	interval := end.Sub(start) / time.Duration(len(recipients))

	for i, r := range recipients {
		base := start.Add(time.Duration(i) * interval)
		plan = append(plan, PlannedSend{
			Recipient:     r,
			ScheduledTime: adjustForRecipient(base, r, start, end),
		})
	}

	return plan, nil
}

// Entries materializes the plan as queue entries for one campaign.
func (p *Planner) Entries(campaignID string, plan []PlannedSend, now time.Time) []*domain.ScheduledEmail {
	entries := make([]*domain.ScheduledEmail, 0, len(plan))
	for _, ps := range plan {
		entries = append(entries, &domain.ScheduledEmail{
			ID:            uuid.NewString(),
			CampaignID:    campaignID,
			Recipient:     ps.Recipient,
			ScheduledTime: ps.ScheduledTime,
			Status:        domain.EmailStatusQueued,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return entries
}

// adjustForRecipient converts the base time to the recipient's zone and
// shifts the hour-of-day to the nearest preferred engagement hour. The
// shift preserves the local calendar date; if the shifted time would
// leave [start, end] the shift is skipped and base is used unmodified.
func adjustForRecipient(base time.Time, r domain.Recipient, start, end time.Time) time.Time {
	loc, err := time.LoadLocation(r.Location())
	if err != nil {
		loc = time.UTC
	}
	local := base.In(loc)

	if len(r.PreferredHours) == 0 {
		return local
	}

	preferred := nearestHour(local.Hour(), r.PreferredHours)
	if preferred == local.Hour() {
		return local
	}

	shifted := time.Date(local.Year(), local.Month(), local.Day(),
		preferred, local.Minute(), local.Second(), local.Nanosecond(), loc)

	if shifted.Before(start) || shifted.After(end) {
		return local
	}

	return shifted
}

// nearestHour picks the preferred hour closest to current; ties go to
// the earlier hour.
func nearestHour(current int, preferred []int) int {
	best := preferred[0]
	bestDiff := absInt(best - current)

	for _, h := range preferred[1:] {
		diff := absInt(h - current)
		if diff < bestDiff || (diff == bestDiff && h < best) {
			best = h
			bestDiff = diff
		}
	}

	return best
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
