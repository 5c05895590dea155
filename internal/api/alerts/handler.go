// Package alerts serves trigger intake and the alert lifecycle endpoints.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api/middleware"
	"github.com/good-yellow-bee/blazealert/internal/api/response"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

const (
	maxBodyBytes   = 1 << 20
	defaultPerPage = 50
	maxPerPage     = 500
)

// Engine is the part of the alert engine the handlers drive.
type Engine interface {
	TriggerAlert(ctx context.Context, req alerting.TriggerRequest) (alerting.TriggerResult, error)
	AcknowledgeAlert(ctx context.Context, id, user, notes string) (bool, error)
	ResolveAlert(ctx context.Context, id, user string, opts alerting.ResolveOptions) (bool, error)
	GetAlertMetrics(ctx context.Context, window time.Duration) (*alerting.AlertMetrics, error)
}

// Handler handles alert endpoints.
type Handler struct {
	engine Engine
	store  storage.Storage
	logger zerolog.Logger
}

// NewHandler creates an alert handler.
func NewHandler(engine Engine, store storage.Storage, logger zerolog.Logger) *Handler {
	return &Handler{engine: engine, store: store, logger: logger}
}

// TriggerRequest is the body of POST /alerts/trigger.
type TriggerRequest struct {
	RuleID   string          `json:"rule_id"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Severity string          `json:"severity,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Context  map[string]any  `json:"context,omitempty"`
}

// AcknowledgeRequest is the body of POST /alerts/{id}/acknowledge.
type AcknowledgeRequest struct {
	// User is ignored when the request carries a bearer token.
	User  string `json:"user,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// ResolveRequest is the body of POST /alerts/{id}/resolve.
type ResolveRequest struct {
	User          string `json:"user,omitempty"`
	Notes         string `json:"notes,omitempty"`
	FalsePositive bool   `json:"false_positive,omitempty"`
}

// TransitionResponse reports whether a lifecycle call changed the alert.
type TransitionResponse struct {
	Changed bool          `json:"changed"`
	Alert   *models.Alert `json:"alert"`
}

// Trigger accepts a trigger from a monitoring collaborator.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := response.Decode(w, r, &req, maxBodyBytes); err != nil {
		response.JSONError(w, err)
		return
	}
	req.RuleID = strings.TrimSpace(req.RuleID)
	if req.RuleID == "" {
		response.JSONError(w, response.NewValidationError("rule_id is required"))
		return
	}
	severity := models.Severity(req.Severity)
	if req.Severity != "" && !severity.Valid() {
		response.JSONError(w, response.NewValidationError("unknown severity "+strconv.Quote(req.Severity)))
		return
	}

	result, err := h.engine.TriggerAlert(r.Context(), alerting.TriggerRequest{
		RuleID:   req.RuleID,
		Payload:  req.Payload,
		Severity: severity,
		Title:    strings.TrimSpace(req.Title),
		Message:  req.Message,
		Context:  req.Context,
	})
	if err != nil {
		h.engineError(w, err, "trigger alert")
		return
	}
	if result.Outcome == alerting.OutcomeCreated {
		response.Created(w, result)
		return
	}
	response.OK(w, result)
}

// List returns alerts filtered by status, severity, rule and time.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := pagination(q.Get("page"), q.Get("per_page"))
	filter := storage.AlertFilter{
		Status:   models.AlertStatus(q.Get("status")),
		Severity: models.Severity(q.Get("severity")),
		RuleID:   q.Get("rule_id"),
		Limit:    perPage,
		Offset:   (page - 1) * perPage,
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		response.JSONError(w, response.NewValidationError("unknown severity "+strconv.Quote(q.Get("severity"))))
		return
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			response.JSONError(w, response.NewValidationError("since must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = since
	}

	alerts, total, err := h.store.Alerts().List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("list alerts failed")
		response.JSONError(w, response.ErrInternalServer)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	response.OK(w, response.NewPaginated(alerts, total, page, perPage))
}

// Get returns one alert.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.load(w, r)
	if !ok {
		return
	}
	response.OK(w, alert)
}

// Deliveries returns every delivery of one alert.
func (h *Handler) Deliveries(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.load(w, r)
	if !ok {
		return
	}
	deliveries, err := h.store.Deliveries().ListByAlert(r.Context(), alert.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("list deliveries failed")
		response.JSONError(w, response.ErrInternalServer)
		return
	}
	if deliveries == nil {
		deliveries = []*models.NotificationDelivery{}
	}
	response.OK(w, deliveries)
}

// Acknowledge acknowledges an alert as the calling user.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var req AcknowledgeRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	user, ok := actor(w, r, req.User)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	changed, err := h.engine.AcknowledgeAlert(r.Context(), id, user, req.Notes)
	if err != nil {
		h.engineError(w, err, "acknowledge alert")
		return
	}
	h.transition(w, r, id, changed)
}

// Resolve resolves an alert as the calling user.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	user, ok := actor(w, r, req.User)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	changed, err := h.engine.ResolveAlert(r.Context(), id, user, alerting.ResolveOptions{
		Notes:         req.Notes,
		FalsePositive: req.FalsePositive,
	})
	if err != nil {
		h.engineError(w, err, "resolve alert")
		return
	}
	h.transition(w, r, id, changed)
}

// Metrics returns alert and delivery statistics for the trailing
// window_hours (default 24).
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	hours := 24.0
	if s := r.URL.Query().Get("window_hours"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			response.JSONError(w, response.NewValidationError("window_hours must be a positive number"))
			return
		}
		hours = v
	}

	m, err := h.engine.GetAlertMetrics(r.Context(), time.Duration(hours*float64(time.Hour)))
	if err != nil {
		h.engineError(w, err, "alert metrics")
		return
	}
	response.OK(w, m)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*models.Alert, bool) {
	id := chi.URLParam(r, "id")
	alert, err := h.store.Alerts().GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("alert_id", id).Msg("get alert failed")
		response.JSONError(w, response.ErrInternalServer)
		return nil, false
	}
	if alert == nil {
		response.JSONError(w, response.NewNotFound("alert not found"))
		return nil, false
	}
	return alert, true
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, id string, changed bool) {
	alert, err := h.store.Alerts().GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("alert_id", id).Msg("reload alert failed")
		response.JSONError(w, response.ErrInternalServer)
		return
	}
	response.OK(w, TransitionResponse{Changed: changed, Alert: alert})
}

func (h *Handler) engineError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, alerting.ErrRuleNotFound):
		response.JSONError(w, response.NewNotFound(err.Error()))
	case errors.Is(err, alerting.ErrAlertNotFound):
		response.JSONError(w, response.NewNotFound(err.Error()))
	default:
		h.logger.Error().Err(err).Str("op", op).Msg("alert request failed")
		response.JSONError(w, response.ErrInternalServer)
	}
}

// actor picks the acting user: the token subject when authenticated,
// otherwise the user named in the body.
func actor(w http.ResponseWriter, r *http.Request, fromBody string) (string, bool) {
	if user := middleware.GetActor(r.Context()); user != "" {
		return user, true
	}
	if user := strings.TrimSpace(fromBody); user != "" {
		return user, true
	}
	response.JSONError(w, response.NewValidationError("user is required"))
	return "", false
}

// decodeOptional decodes a body that may be empty.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := response.Decode(w, r, v, maxBodyBytes); err != nil {
		response.JSONError(w, err)
		return false
	}
	return true
}

func pagination(pageStr, perPageStr string) (int, int) {
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(perPageStr)
	if err != nil || perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}
