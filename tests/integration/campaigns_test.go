//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/blastline/dispatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaigns_Schedule(t *testing.T) {
	// Window far in the future so nothing becomes due during the test.
	start := time.Now().Add(24 * time.Hour).UTC()
	end := start.Add(1 * time.Hour)

	recipients := []recipientPayload{
		{Address: uniqueAddress("ada"), Data: map[string]string{"name": "Ada"}},
		{Address: uniqueAddress("grace"), Data: map[string]string{"name": "Grace"}},
	}

	result := scheduleCampaign(t, campaignPayload("Schedule Test", recipients, start, end))

	assert.Equal(t, 2, result.Data.ScheduledCount)
	assert.Empty(t, result.Data.Report.Invalid)
	assert.Empty(t, result.Data.Report.Suppressed)
	assert.False(t, result.Data.FirstSend.Before(start))
	assert.False(t, result.Data.LastSend.After(end))

	campaign := getCampaign(t, result.Data.CampaignID)
	assert.Equal(t, "active", campaign.Data.Status)
	assert.Equal(t, 2, campaign.Data.Scheduled)
	assert.Equal(t, 3600, campaign.Data.RateLimit)
}

func TestCampaigns_ScheduleRejectsInvalidPayloads(t *testing.T) {
	start := time.Now().Add(24 * time.Hour).UTC()
	end := start.Add(1 * time.Hour)
	recipients := []recipientPayload{
		{Address: uniqueAddress("ok"), Data: map[string]string{"name": "Ok"}},
	}

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing name", func(p map[string]interface{}) { delete(p, "name") }},
		{"missing template", func(p map[string]interface{}) { delete(p, "template") }},
		{"no recipients", func(p map[string]interface{}) { p["recipients"] = []recipientPayload{} }},
		{"zero rate limit", func(p map[string]interface{}) { p["rate_limit"] = 0 }},
		{"window end before start", func(p map[string]interface{}) {
			p["window_start"] = end.Format(time.RFC3339)
			p["window_end"] = start.Format(time.RFC3339)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := campaignPayload("Invalid Payload Test", recipients, start, end)
			tt.mutate(payload)

			resp, err := testClient.POST("/api/v1/campaigns", payload)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCampaigns_ScheduleAllRecipientsInvalid(t *testing.T) {
	start := time.Now().Add(24 * time.Hour).UTC()
	end := start.Add(1 * time.Hour)

	payload := campaignPayload("No Valid Recipients", []recipientPayload{
		{Address: "not-an-address"},
		{Address: "also@@broken"},
	}, start, end)

	resp, err := testClient.POST("/api/v1/campaigns", payload)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCampaigns_GetNotFound(t *testing.T) {
	resp, err := testClient.GET("/api/v1/campaigns/00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCampaigns_PauseResume(t *testing.T) {
	start := time.Now().Add(24 * time.Hour).UTC()
	end := start.Add(1 * time.Hour)
	recipients := []recipientPayload{
		{Address: uniqueAddress("pause"), Data: map[string]string{"name": "Pat"}},
	}

	result := scheduleCampaign(t, campaignPayload("Pause Test", recipients, start, end))
	id := result.Data.CampaignID

	do := func(action string) *http.Response {
		resp, err := testClient.POST("/api/v1/campaigns/"+id+"/"+action, nil)
		require.NoError(t, err)
		return resp
	}

	resp := do("pause")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	assert.Equal(t, "paused", getCampaign(t, id).Data.Status)

	// Pausing a paused campaign conflicts.
	resp = do("pause")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = do("resume")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	assert.Equal(t, "active", getCampaign(t, id).Data.Status)

	resp = do("resume")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCampaigns_TrackingEmptyBeforeSends(t *testing.T) {
	start := time.Now().Add(24 * time.Hour).UTC()
	end := start.Add(1 * time.Hour)
	recipients := []recipientPayload{
		{Address: uniqueAddress("tracking"), Data: map[string]string{"name": "Tess"}},
	}

	result := scheduleCampaign(t, campaignPayload("Tracking Test", recipients, start, end))

	resp, err := testClient.GET("/api/v1/campaigns/" + result.Data.CampaignID + "/tracking")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tracking struct {
		Data []struct {
			MessageID string `json:"message_id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &tracking)
	assert.Empty(t, tracking.Data)
}
