package campaign

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/blastline/dispatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrCampaignNotFound, Status: http.StatusNotFound, Message: "campaign not found"},
	{Error: ErrInvalidWindow, Status: http.StatusBadRequest},
	{Error: ErrNoRecipients, Status: http.StatusUnprocessableEntity},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
}

// Handler handles HTTP requests for the campaign module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a campaign handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers campaign routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", h.Schedule)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/pause", h.Pause)
		r.Post("/{id}/resume", h.Resume)
		r.Get("/{id}/tracking", h.Tracking)
	})
}

// ScheduleRequest represents request body for scheduling a campaign.
type ScheduleRequest struct {
	Name        string         `json:"name" validate:"required"`
	Subject     string         `json:"subject" validate:"required"`
	Template    string         `json:"template" validate:"required"`
	Recipients  []RawRecipient `json:"recipients" validate:"required,min=1"`
	RateLimit   int            `json:"rate_limit" validate:"required,min=1"` // sends per hour
	WindowStart time.Time      `json:"window_start" validate:"required"`
	WindowEnd   time.Time      `json:"window_end" validate:"required"`
	// Pointers so an explicit zero is distinguishable from an omitted
	// field; omitted fields get defaults.
	MaxRetries  *int `json:"max_retries" validate:"omitempty,min=0,max=10"`
	BackoffSecs *int `json:"backoff_seconds" validate:"omitempty,min=0"`
}

// Schedule handles POST /campaigns.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	backoff := 30 * time.Second
	if req.BackoffSecs != nil {
		backoff = time.Duration(*req.BackoffSecs) * time.Second
	}
	maxRetries := 3
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	result, err := h.service.Schedule(r.Context(), ScheduleInput{
		Name:        req.Name,
		Subject:     req.Subject,
		Template:    req.Template,
		Recipients:  req.Recipients,
		RateLimit:   req.RateLimit,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
		MaxRetries:  maxRetries,
		BackoffBase: backoff,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, result)
}

// Get handles GET /campaigns/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, c)
}

// Pause handles POST /campaigns/{id}/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Pause(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": "paused"})
}

// Resume handles POST /campaigns/{id}/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Resume(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": "active"})
}

// Tracking handles GET /campaigns/{id}/tracking.
func (h *Handler) Tracking(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Tracking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, records)
}
