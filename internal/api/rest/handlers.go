package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/evidentta/controlverify/internal/domain/control"
	healthsvc "github.com/evidentta/controlverify/internal/service/health"
	syncsvc "github.com/evidentta/controlverify/internal/service/sync"
	verificationsvc "github.com/evidentta/controlverify/internal/service/verification"
)

// headerActorID carries the already-authenticated actor identity resolved
// upstream of this service.
const headerActorID = "X-Actor-ID"

// Services holds the service layer the REST API fronts.
type Services struct {
	Health       *healthsvc.Service
	Manual       *verificationsvc.ManualService
	Orchestrator *syncsvc.Orchestrator
}

// Handler routes API requests to the service layer.
type Handler struct {
	services Services
	logger   *slog.Logger
}

func NewHandler(services Services, logger *slog.Logger) *Handler {
	return &Handler{services: services, logger: logger}
}

// RegisterRoutes mounts all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/controls/{id}/health", h.handleGetHealth)
	mux.HandleFunc("GET /api/v1/controls/{id}/verification-history", h.handleGetHistory)
	mux.HandleFunc("POST /api/v1/controls/{id}/verify", h.handleVerify)
	mux.HandleFunc("PATCH /api/v1/controls/{id}/implementation-status", h.handleSetImplementationStatus)
	mux.HandleFunc("POST /api/v1/controls/{id}/review", h.handleRecordReview)
	mux.HandleFunc("POST /api/v1/sync", h.handleSync)
}

func actorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := r.Header.Get(headerActorID)
	if actor == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ACTOR", "X-Actor-ID header is required")
		return "", false
	}
	return actor, true
}

func (h *Handler) controlID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CONTROL_ID", "control id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := h.controlID(w, r)
	if !ok {
		return
	}
	result, err := h.services.Health.GetHealth(r.Context(), id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.controlID(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		asOf, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_AS_OF", "as_of must be an RFC 3339 timestamp")
			return
		}
		entry, err := h.services.Health.GetVerificationStateAt(r.Context(), id, asOf)
		if err != nil {
			respondError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	entries, err := h.services.Health.GetVerificationHistory(r.Context(), id, limit)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := h.controlID(w, r)
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	result, err := h.services.Health.TriggerManualVerification(r.Context(), id, actor)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type implementationStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleSetImplementationStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.controlID(w, r)
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req implementationStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	c, err := h.services.Manual.SetImplementationStatus(r.Context(), id, control.ImplementationStatus(req.Status), actor)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleRecordReview(w http.ResponseWriter, r *http.Request) {
	id, ok := h.controlID(w, r)
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	c, err := h.services.Manual.RecordReview(r.Context(), id, actor)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type syncRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	IntegrationID  uuid.UUID `json:"integration_id"`
	Trigger        string    `json:"trigger,omitempty"`
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	if req.OrganizationID == uuid.Nil || req.IntegrationID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "MISSING_IDS", "organization_id and integration_id are required")
		return
	}
	trigger := syncsvc.TriggerManual
	if req.Trigger == string(syncsvc.TriggerScheduled) {
		trigger = syncsvc.TriggerScheduled
	}
	result, err := h.services.Orchestrator.Sync(r.Context(), req.OrganizationID, req.IntegrationID, trigger)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
