//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/blastline/dispatch/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// campaignResponse mirrors the API envelope for a single campaign.
type campaignResponse struct {
	Data struct {
		ID          string    `json:"id"`
		Name        string    `json:"name"`
		Status      string    `json:"status"`
		RateLimit   int       `json:"rate_limit"`
		WindowStart time.Time `json:"window_start"`
		WindowEnd   time.Time `json:"window_end"`
		Scheduled   int       `json:"scheduled"`
		Successful  int       `json:"successful"`
		Failed      int       `json:"failed"`
		LastError   string    `json:"last_error"`
	} `json:"data"`
}

type scheduleResponse struct {
	Data struct {
		CampaignID     string    `json:"campaign_id"`
		ScheduledCount int       `json:"scheduled_count"`
		FirstSend      time.Time `json:"first_send"`
		LastSend       time.Time `json:"last_send"`
		Report         struct {
			Invalid    []string `json:"invalid"`
			Suppressed []string `json:"suppressed"`
		} `json:"report"`
	} `json:"data"`
}

type recipientPayload struct {
	Address  string            `json:"address"`
	Data     map[string]string `json:"data,omitempty"`
	Timezone string            `json:"timezone,omitempty"`
}

// uniqueAddress returns a recipient address that no other test uses, so
// Mailpit searches stay unambiguous.
func uniqueAddress(prefix string) string {
	return fmt.Sprintf("%s-%s@example.com", prefix, uuid.NewString()[:8])
}

// campaignPayload builds a valid schedule request. The default subject
// and template personalize on {name}, so every recipient needs a name
// in its data or scheduling rejects it. Override fields on the
// returned map before POSTing.
func campaignPayload(name string, recipients []recipientPayload, start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"name":         name,
		"subject":      "Hello {name}",
		"template":     "Hi {name}, this is " + name + ".",
		"recipients":   recipients,
		"rate_limit":   3600,
		"window_start": start.Format(time.RFC3339),
		"window_end":   end.Format(time.RFC3339),
	}
}

// scheduleCampaign POSTs a campaign and returns the decoded result.
func scheduleCampaign(t *testing.T, payload map[string]interface{}) scheduleResponse {
	t.Helper()

	resp, err := testClient.POST("/api/v1/campaigns", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "schedule campaign")

	var result scheduleResponse
	testutil.DecodeJSON(t, resp, &result)
	require.NotEmpty(t, result.Data.CampaignID)
	return result
}

// getCampaign fetches a campaign by ID.
func getCampaign(t *testing.T, id string) campaignResponse {
	t.Helper()

	resp, err := testClient.GET("/api/v1/campaigns/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result campaignResponse
	testutil.DecodeJSON(t, resp, &result)
	return result
}
