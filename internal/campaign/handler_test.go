package campaign

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter(store *mockStore, queue *mockQueue) *chi.Mux {
	handler := NewHandler(testService(store, queue, nil))
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func scheduleBody(t *testing.T) []byte {
	t.Helper()
	start := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	body, err := json.Marshal(map[string]any{
		"name":     "launch",
		"subject":  "Hi {first_name|title}",
		"template": "Hello {first_name}",
		"recipients": []map[string]any{
			{"address": "a@example.com", "data": map[string]string{"first_name": "ada"}},
			{"address": "b@example.com", "data": map[string]string{"first_name": "bo"}},
		},
		"rate_limit":   60,
		"window_start": start.Format(time.RFC3339),
		"window_end":   start.Add(time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	return body
}

func TestHandler_Schedule(t *testing.T) {
	store := newMockStore()
	router := testRouter(store, newMockQueue())

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewReader(scheduleBody(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data ScheduleResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.CampaignID)
	assert.Equal(t, 2, resp.Data.ScheduledCount)

	// Omitted retry settings get defaults.
	c, err := store.GetCampaign(req.Context(), resp.Data.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Retry.MaxRetries)
	assert.Equal(t, 30*time.Second, c.Retry.BackoffBase)
}

func TestHandler_Schedule_ExplicitZeroRetries(t *testing.T) {
	store := newMockStore()
	router := testRouter(store, newMockQueue())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(scheduleBody(t), &payload))
	payload["max_retries"] = 0
	payload["backoff_seconds"] = 0
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data ScheduleResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// Explicit zeros are honored, not coerced to the defaults.
	c, err := store.GetCampaign(req.Context(), resp.Data.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Retry.MaxRetries)
	assert.Equal(t, time.Duration(0), c.Retry.BackoffBase)
}

func TestHandler_Schedule_BadRequests(t *testing.T) {
	router := testRouter(newMockStore(), newMockQueue())

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed json", "{not json", http.StatusBadRequest},
		{"missing required fields", `{"name":"x"}`, http.StatusBadRequest},
		{"zero rate limit", `{"name":"x","subject":"s","template":"t","recipients":[{"address":"a@example.com"}],"rate_limit":0,"window_start":"2026-06-15T09:00:00Z","window_end":"2026-06-15T10:00:00Z"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_Schedule_InvalidWindow(t *testing.T) {
	router := testRouter(newMockStore(), newMockQueue())

	start := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	body, err := json.Marshal(map[string]any{
		"name":     "launch",
		"subject":  "s",
		"template": "t",
		"recipients": []map[string]any{
			{"address": "a@example.com"},
		},
		"rate_limit":   60,
		"window_start": start.Format(time.RFC3339),
		"window_end":   start.Format(time.RFC3339),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Schedule_AllRecipientsRejected(t *testing.T) {
	router := testRouter(newMockStore(), newMockQueue())

	start := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	body, err := json.Marshal(map[string]any{
		"name":     "launch",
		"subject":  "s",
		"template": "t",
		"recipients": []map[string]any{
			{"address": "not-an-address"},
		},
		"rate_limit":   60,
		"window_start": start.Format(time.RFC3339),
		"window_end":   start.Add(time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandler_Get(t *testing.T) {
	store := newMockStore()
	router := testRouter(store, newMockQueue())

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewReader(scheduleBody(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data ScheduleResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	t.Run("existing campaign", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/campaigns/"+created.Data.CampaignID, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), created.Data.CampaignID)
	})

	t.Run("unknown campaign", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/campaigns/nope", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_PauseResume(t *testing.T) {
	store := newMockStore()
	router := testRouter(store, newMockQueue())

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewReader(scheduleBody(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data ScheduleResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Data.CampaignID

	do := func(action string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/campaigns/%s/%s", id, action), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("pause").Code)
	assert.Equal(t, http.StatusConflict, do("pause").Code, "double pause conflicts")
	assert.Equal(t, http.StatusOK, do("resume").Code)
	assert.Equal(t, http.StatusConflict, do("resume").Code, "double resume conflicts")
}

func TestHandler_Tracking(t *testing.T) {
	store := newMockStore()
	router := testRouter(store, newMockQueue())

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewReader(scheduleBody(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data ScheduleResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	treq := httptest.NewRequest(http.MethodGet, "/campaigns/"+created.Data.CampaignID+"/tracking", nil)
	trec := httptest.NewRecorder()
	router.ServeHTTP(trec, treq)

	require.Equal(t, http.StatusOK, trec.Code)

	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(trec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data, "no sends attempted yet")
}
