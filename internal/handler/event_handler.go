package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"security-service/internal/model"
	"security-service/internal/service"
	"security-service/internal/util"
)

const defaultSearchLimit = 50

// EventHandler handles HTTP requests for the security event API. All
// routes require authentication.
type EventHandler struct {
	securityService *service.SecurityService
}

func NewEventHandler(securityService *service.SecurityService) *EventHandler {
	return &EventHandler{securityService: securityService}
}

func (h *EventHandler) RegisterRoutes(router chi.Router, authMW func(http.Handler) http.Handler) {
	router.Route("/events", func(r chi.Router) {
		r.Use(authMW)

		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/search", h.SearchEvents)
		r.Get("/{eventID}", h.GetEventByID)
		r.Get("/user/{userID}", h.GetEventsByUser)
		r.Get("/type/{eventType}", h.GetEventsByType)
	})
}

// CreateEvent records an externally reported security event. The event
// runs through the same ingest path as consumed auth events, so it is
// evaluated by the detector before being stored.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var event model.SecurityEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if !event.EventType.Known() {
		respondWithError(w, http.StatusBadRequest,
			errors.New("unknown event type"), "Invalid event type")
		return
	}
	if event.UserID == "" {
		respondWithError(w, http.StatusBadRequest,
			errors.New("user_id is required"), "Invalid event")
		return
	}

	err := h.securityService.Ingest(ctx, &event)
	var violation *service.BlockingViolation
	if errors.As(err, &violation) {
		// The event is recorded either way; the caller learns the
		// action it guards should be refused.
		respondWithJSON(w, http.StatusAccepted, successResponse(map[string]bool{
			"blocked": true,
		}, "Event recorded, action blocked"))
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to record event")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(map[string]bool{
		"blocked": false,
	}, "Event recorded"))
	util.Debug("Event recorded via HTTP",
		util.String("event_type", string(event.EventType)),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.securityService.FindAll(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to list events")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(events, "Events retrieved"))
}

func (h *EventHandler) GetEventByID(w http.ResponseWriter, r *http.Request) {
	eventIDStr := chi.URLParam(r, "eventID")
	if _, err := uuid.Parse(eventIDStr); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid event ID format")
		return
	}

	event, err := h.securityService.FindByID(r.Context(), eventIDStr)
	if err != nil {
		respondWithError(w, http.StatusNotFound, err, "Event not found")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(event, "Event retrieved"))
}

func (h *EventHandler) GetEventsByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondWithError(w, http.StatusBadRequest,
			errors.New("user ID is required"), "User ID is required")
		return
	}

	events, err := h.securityService.FindByUserID(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to get events")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(events, "Events retrieved"))
}

func (h *EventHandler) GetEventsByType(w http.ResponseWriter, r *http.Request) {
	eventType := model.EventType(chi.URLParam(r, "eventType"))

	events, err := h.securityService.FindByType(r.Context(), eventType)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Failed to get events")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(events, "Events retrieved"))
}

// SearchEvents queries the secondary search index.
func (h *EventHandler) SearchEvents(w http.ResponseWriter, r *http.Request) {
	query := util.SanitizeInput(r.URL.Query().Get("q"))
	if query == "" {
		respondWithError(w, http.StatusBadRequest,
			errors.New("query parameter q is required"), "Search query is required")
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	events, err := h.securityService.SearchEvents(r.Context(), query, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to search events")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(events, "Events retrieved"))
}
