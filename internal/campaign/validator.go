package campaign

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/blastline/dispatch/internal/domain"
)

// RawRecipient is an unvalidated recipient as submitted by the caller.
type RawRecipient struct {
	Address  string            `json:"address"`
	Data     map[string]string `json:"data,omitempty"`
	Timezone string            `json:"timezone,omitempty"`
}

// ValidationReport lists the recipients dropped during validation.
type ValidationReport struct {
	Invalid    []string `json:"invalid"`
	Suppressed []string `json:"suppressed"`
}

// Validator checks address syntax, applies the suppression list and
// enriches recipients with engagement history.
type Validator struct {
	suppression SuppressionStore
	engagement  EngagementStore
}

// NewValidator creates a recipient validator. Both stores are optional;
// a nil suppression store suppresses nothing and a nil engagement store
// enriches nothing.
func NewValidator(suppression SuppressionStore, engagement EngagementStore) *Validator {
	return &Validator{suppression: suppression, engagement: engagement}
}

// Validate filters and enriches the raw list. Rejected entries are
// collected in the report rather than aborting the batch; enrichment
// failures on one recipient never drop the rest.
func (v *Validator) Validate(ctx context.Context, raw []RawRecipient) ([]domain.Recipient, ValidationReport, error) {
	valid := make([]domain.Recipient, 0, len(raw))
	report := ValidationReport{
		Invalid:    make([]string, 0),
		Suppressed: make([]string, 0),
	}

	for _, r := range raw {
		address, err := normalizeAddress(r.Address)
		if err != nil {
			slog.Info("recipient rejected", "address", r.Address, "reason", "invalid_address")
			report.Invalid = append(report.Invalid, r.Address)
			continue
		}

		if v.suppression != nil {
			suppressed, err := v.suppression.IsSuppressed(ctx, address)
			if err != nil {
				return nil, report, err
			}
			if suppressed {
				slog.Info("recipient rejected", "address", address, "reason", "suppressed")
				report.Suppressed = append(report.Suppressed, address)
				continue
			}
		}

		recipient := domain.Recipient{
			Address:  address,
			Data:     r.Data,
			Timezone: r.Timezone,
		}

		if v.engagement != nil {
			tz, hours, err := v.engagement.HistoryFor(ctx, address)
			if err != nil {
				slog.Warn("engagement lookup failed, continuing without history",
					"address", address,
					"error", err,
				)
			} else {
				if recipient.Timezone == "" {
					recipient.Timezone = tz
				}
				recipient.PreferredHours = hours
			}
		}

		valid = append(valid, recipient)
	}

	return valid, report, nil
}

// normalizeAddress validates the address syntactically and lowercases it.
// Display names ("Jo <jo@example.com>") are rejected: the queue stores
// bare addresses only.
func normalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", ErrInvalidAddress
	}

	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed {
		return "", ErrInvalidAddress
	}

	return strings.ToLower(parsed.Address), nil
}
