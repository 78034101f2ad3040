/*
handlers.go - HTTP API handlers for the reward engine

PURPOSE:
  Exposes the reward engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Events:
    GET    /api/events                      List events (?status, ?createdBy)
    POST   /api/events                      Create event
    GET    /api/events/{id}                 Get event
    PUT    /api/events/{id}                 Update event (partial)
    GET    /api/events/{id}/rewards         Rewards of an event
    GET    /api/events/{id}/check-condition/{userId}  Eligibility preview

  Rewards:
    GET    /api/rewards                     List rewards (?type, ?eventId)
    POST   /api/rewards                     Create reward
    GET    /api/rewards/{id}                Get reward
    GET    /api/rewards/event/{eventId}     Rewards of an event

  Reward requests:
    POST   /api/reward-requests             Submit a request (X-User-ID)
    GET    /api/reward-requests             List (?status, ?eventId, ?userId)
    GET    /api/reward-requests/my          Caller's requests
    GET    /api/reward-requests/{id}        Get request
    POST   /api/reward-requests/{id}/process  Approve or reject
    POST   /api/reward-requests/{id}/issue    Retry issuance
    GET    /api/reward-requests/{id}/audit    Audit trail

  Reward history:
    GET    /api/reward-history              List (?userId, ?eventId)
    GET    /api/reward-history/user/{userId}
    GET    /api/reward-history/user/{userId}/totals
    GET    /api/reward-history/event/{eventId}

IDENTITY:
  The gateway authenticates callers and forwards X-User-ID and X-User-Role.
  Handlers read them; they never verify them and never gate on role.

ERROR HANDLING:
  Engine error kinds map to HTTP status:
  - 400: ErrInvalidArgument, malformed body
  - 404: ErrNotFound
  - 409: ErrConflict
  - 422: ErrFailedPrecondition
  - 503: ErrTransient (Retry-After set)
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/reward-engine/engine"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Store  engine.Store
	Logger logrus.FieldLogger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over eng and the store it was built on.
func NewHandler(eng *engine.Engine, store engine.Store, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{Engine: eng, Store: store, Logger: logger}
}

// Health reports liveness and, when the store supports it, connectivity.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ListEvents returns events, optionally filtered.
// GET /api/events?status=ACTIVE&createdBy=...
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter engine.EventFilter
	if s := q.Get("status"); s != "" {
		status := engine.EventStatus(s)
		filter.Status = &status
	}
	createdBy, err := engine.ParseOptionalID("createdBy", q.Get("createdBy"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	filter.CreatedBy = createdBy

	events, err := h.Engine.Events.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(events, toEventDTO))
}

// CreateEvent creates a new event.
// POST /api/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = r.Header.Get(HeaderUserID)
	}

	event, err := h.Engine.Events.Create(r.Context(), engine.EventDefinition{
		Title:            req.Title,
		Description:      req.Description,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		Status:           engine.EventStatus(req.Status),
		ConditionType:    engine.ConditionType(req.ConditionType),
		ConditionValue:   req.ConditionValue,
		VerificationType: engine.VerificationType(req.VerificationType),
		CreatedBy:        req.CreatedBy,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(*event))
}

// GetEvent returns one event.
// GET /api/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.Engine.Events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*event))
}

// UpdateEvent applies a partial update.
// PUT /api/events/{id}
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req UpdateEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	event, err := h.Engine.Events.Update(r.Context(), chi.URLParam(r, "id"), req.toPatch())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*event))
}

// CheckCondition previews whether a user currently meets an event's
// condition. Closed events answer 422 as a submission would.
// GET /api/events/{id}/check-condition/{userId}
func (h *Handler) CheckCondition(w http.ResponseWriter, r *http.Request) {
	met, err := h.Engine.Requests.CheckCondition(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConditionCheckDTO{IsConditionMet: met})
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ListRewards returns rewards, optionally filtered.
// GET /api/rewards?type=POINT&eventId=...
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter engine.RewardFilter
	if t := q.Get("type"); t != "" {
		rewardType := engine.RewardType(t)
		filter.Type = &rewardType
	}
	eventID, err := engine.ParseOptionalID("eventId", q.Get("eventId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	filter.EventID = eventID

	rewards, err := h.Engine.Rewards.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(rewards, toRewardDTO))
}

// CreateReward attaches a reward to an event.
// POST /api/rewards
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var req CreateRewardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reward, err := h.Engine.Rewards.Create(r.Context(), req.EventID, engine.RewardType(req.Type), req.Name, req.Quantity)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardDTO(*reward))
}

// GetReward returns one reward.
// GET /api/rewards/{id}
func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	reward, err := h.Engine.Rewards.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(*reward))
}

// ListEventRewards returns the rewards of one event.
// GET /api/rewards/event/{eventId} and GET /api/events/{id}/rewards
func (h *Handler) ListEventRewards(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	if eventID == "" {
		eventID = chi.URLParam(r, "id")
	}
	rewards, err := h.Engine.Rewards.ListByEvent(r.Context(), eventID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(rewards, toRewardDTO))
}

// =============================================================================
// REWARD REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a reward request for the calling user. AUTO events
// answer with the COMPLETED request, MANUAL events with PENDING.
// POST /api/reward-requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRewardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "Missing "+HeaderUserID+" header", nil)
		return
	}

	created, err := h.Engine.Requests.Create(r.Context(), userID, req.EventID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardRequestDTO(*created))
}

// ListRequests returns requests, optionally filtered.
// GET /api/reward-requests?status=PENDING&eventId=...&userId=...
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter engine.RequestFilter
	if s := q.Get("status"); s != "" {
		status := engine.RequestStatus(s)
		filter.Status = &status
	}
	var err error
	if filter.EventID, err = engine.ParseOptionalID("eventId", q.Get("eventId")); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if filter.UserID, err = engine.ParseOptionalID("userId", q.Get("userId")); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	reqs, err := h.Engine.Requests.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(reqs, toRewardRequestDTO))
}

// ListMyRequests returns the calling user's requests.
// GET /api/reward-requests/my (X-User-ID, or ?userId)
func (h *Handler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	reqs, err := h.Engine.Requests.ListByUser(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(reqs, toRewardRequestDTO))
}

// GetRequest returns one request.
// GET /api/reward-requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardRequestDTO(*req))
}

// ProcessRequest approves or rejects a PENDING request. The processor is
// the caller in X-User-ID.
// POST /api/reward-requests/{id}/process
func (h *Handler) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	var body ProcessRewardRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := h.Engine.Requests.Process(r.Context(), chi.URLParam(r, "id"),
		engine.RequestStatus(body.Status), r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardRequestDTO(*req))
}

// IssueRequest re-runs issuance for an APPROVED request.
// POST /api/reward-requests/{id}/issue
func (h *Handler) IssueRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Requests.Issue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardRequestDTO(*req))
}

// GetRequestAudit returns the audit trail of a request.
// GET /api/reward-requests/{id}/audit
func (h *Handler) GetRequestAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Requests.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toAuditDTO))
}

// =============================================================================
// HISTORY HANDLERS
// =============================================================================

// ListHistory returns ledger entries, optionally filtered.
// GET /api/reward-history?userId=...&eventId=...
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter engine.HistoryFilter
	var err error
	if filter.UserID, err = engine.ParseOptionalID("userId", q.Get("userId")); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if filter.EventID, err = engine.ParseOptionalID("eventId", q.Get("eventId")); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	entries, err := h.Engine.Ledger.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toHistoryDTO))
}

// GET /api/reward-history/user/{userId}
func (h *Handler) ListUserHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Ledger.ListByUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toHistoryDTO))
}

// GET /api/reward-history/event/{eventId}
func (h *Handler) ListEventHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Ledger.ListByEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toHistoryDTO))
}

// GetUserTotals sums issued quantities per reward for a user.
// GET /api/reward-history/user/{userId}/totals
func (h *Handler) GetUserTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.Engine.Ledger.Totals(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]RewardTotalDTO, 0, len(totals))
	for rewardID, total := range totals {
		dtos = append(dtos, RewardTotalDTO{RewardID: rewardID.String(), Total: total})
	}
	sort.Slice(dtos, func(i, j int) bool { return dtos[i].RewardID < dtos[j].RewardID })
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps an engine error kind to its HTTP status.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := http.StatusText(status)
	var engErr *engine.Error
	if errors.As(err, &engErr) && engErr.Message != "" {
		message = engErr.Message
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		h.Logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
		}).Error("request failed")
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch engine.KindOf(err) {
	case engine.ErrInvalidArgument:
		return http.StatusBadRequest
	case engine.ErrNotFound:
		return http.StatusNotFound
	case engine.ErrConflict:
		return http.StatusConflict
	case engine.ErrFailedPrecondition:
		return http.StatusUnprocessableEntity
	case engine.ErrTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}
