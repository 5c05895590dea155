// Package notifications serves templates, recipient preferences and the
// delivery log.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api/response"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/internal/templates"
)

const (
	maxBodyBytes   = 1 << 20
	defaultPerPage = 50
	maxPerPage     = 500
)

// TemplateCreator stores validated templates.
type TemplateCreator interface {
	CreateTemplate(ctx context.Context, tmpl *models.NotificationTemplate) (string, error)
}

// Handler handles template, preference and delivery endpoints.
type Handler struct {
	engine TemplateCreator
	store  storage.Storage
	logger zerolog.Logger
	now    func() time.Time
}

// NewHandler creates a notifications handler.
func NewHandler(engine TemplateCreator, store storage.Storage, logger zerolog.Logger) *Handler {
	return &Handler{engine: engine, store: store, logger: logger, now: time.Now}
}

// TemplateRequest is the body of POST /templates.
type TemplateRequest struct {
	Name       string            `json:"name"`
	Channel    models.Channel    `json:"channel,omitempty"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	HTML       string            `json:"html,omitempty"`
	Variables  []string          `json:"variables,omitempty"`
	Defaults   map[string]string `json:"defaults,omitempty"`
	Locale     string            `json:"locale,omitempty"`
	TimeFormat string            `json:"time_format,omitempty"`
	Timezone   string            `json:"timezone,omitempty"`
}

// PreferenceRequest is the body of PUT /preferences/{recipient}.
type PreferenceRequest struct {
	Channels        map[models.Channel]models.ChannelPreference `json:"channels,omitempty"`
	QuietHours      *models.QuietHours                          `json:"quiet_hours,omitempty"`
	Categories      []string                                    `json:"categories,omitempty"`
	MaxPerHour      int                                         `json:"max_per_hour,omitempty"`
	EscalationOptIn bool                                        `json:"escalation_opt_in"`
}

// Validate checks channel names, severity floors, quiet hours and the cap.
func (p *PreferenceRequest) Validate() error {
	for ch, cp := range p.Channels {
		if !ch.Valid() {
			return fmt.Errorf("unknown channel %q", ch)
		}
		if cp.MinSeverity != "" && !cp.MinSeverity.Valid() {
			return fmt.Errorf("channel %s: unknown severity %q", ch, cp.MinSeverity)
		}
	}
	if p.QuietHours != nil {
		if err := p.QuietHours.Validate(); err != nil {
			return fmt.Errorf("quiet_hours: %w", err)
		}
	}
	if p.MaxPerHour < 0 {
		return errors.New("max_per_hour must not be negative")
	}
	return nil
}

// CreateTemplate validates and stores a template.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := response.Decode(w, r, &req, maxBodyBytes); err != nil {
		response.JSONError(w, err)
		return
	}

	tmpl := &models.NotificationTemplate{
		Name:       strings.TrimSpace(req.Name),
		Channel:    req.Channel,
		Subject:    req.Subject,
		Body:       req.Body,
		HTML:       req.HTML,
		Variables:  req.Variables,
		Defaults:   req.Defaults,
		Locale:     req.Locale,
		TimeFormat: req.TimeFormat,
		Timezone:   req.Timezone,
	}
	if _, err := h.engine.CreateTemplate(r.Context(), tmpl); err != nil {
		switch {
		case errors.Is(err, templates.ErrInvalidTemplate):
			response.JSONError(w, response.NewValidationError(err.Error()))
		case errors.Is(err, alerting.ErrTemplateExists):
			response.JSONError(w, response.NewConflict(err.Error()))
		default:
			h.logger.Error().Err(err).Msg("create template failed")
			response.JSONError(w, response.ErrInternalServer)
		}
		return
	}
	response.Created(w, tmpl)
}

// ListTemplates returns every template.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.Templates().List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list templates failed")
		response.JSONError(w, response.ErrInternalServer)
		return
	}
	if list == nil {
		list = []*models.NotificationTemplate{}
	}
	response.OK(w, list)
}

// GetTemplate returns one template.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.store.Templates().GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error().Err(err).Msg("get template failed")
		response.JSONError(w, response.ErrInternalServer)
		return
	}
	if tmpl == nil {
		response.JSONError(w, response.NewNotFound("template not found"))
		return
	}
	response.OK(w, tmpl)
}

// PutPreference replaces a recipient's preferences.
func (h *Handler) PutPreference(w http.ResponseWriter, r *http.Request) {
	recipient := strings.TrimSpace(chi.URLParam(r, "recipient"))
	if recipient == "" {
		response.JSONError(w, response.NewValidationError("recipient is required"))
		return
	}

	var req PreferenceRequest
	if err := response.Decode(w, r, &req, maxBodyBytes); err != nil {
		response.JSONError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.JSONError(w, response.NewValidationError(err.Error()))
		return
	}

	pref := &models.NotificationPreference{
		RecipientID:     recipient,
		Channels:        req.Channels,
		QuietHours:      req.QuietHours,
		Categories:      req.Categories,
		MaxPerHour:      req.MaxPerHour,
		EscalationOptIn: req.EscalationOptIn,
		UpdatedAt:       h.now().UTC(),
	}
	if err := h.store.Preferences().Upsert(r.Context(), pref); err != nil {
		h.logger.Error().Err(err).Str("recipient", recipient).Msg("save preferences failed")
		response.JSONError(w, response.ErrInternalServer)
		return
	}
	response.OK(w, pref)
}

// GetPreference returns a recipient's preferences.
func (h *Handler) GetPreference(w http.ResponseWriter, r *http.Request) {
	recipient := chi.URLParam(r, "recipient")
	pref, err := h.store.Preferences().Get(r.Context(), recipient)
	if err != nil {
		h.logger.Error().Err(err).Str("recipient", recipient).Msg("get preferences failed")
		response.JSONError(w, response.ErrInternalServer)
		return
	}
	if pref == nil {
		response.JSONError(w, response.NewNotFound("no preferences for recipient"))
		return
	}
	response.OK(w, pref)
}

// DeletePreference removes a recipient's preferences.
func (h *Handler) DeletePreference(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Preferences().Delete(r.Context(), chi.URLParam(r, "recipient")); err != nil {
		h.logger.Error().Err(err).Msg("delete preferences failed")
		response.JSONError(w, response.ErrInternalServer)
		return
	}
	response.NoContent(w)
}

// ListDeliveries returns deliveries filtered by alert, channel, recipient
// and status.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage < 1 {
		perPage = defaultPerPage
	}
	perPage = min(perPage, maxPerPage)

	filter := storage.DeliveryFilter{
		AlertID:   q.Get("alert_id"),
		Channel:   models.Channel(q.Get("channel")),
		Recipient: q.Get("recipient"),
		Status:    models.DeliveryStatus(q.Get("status")),
		Limit:     perPage,
		Offset:    (page - 1) * perPage,
	}
	if filter.Channel != "" && !filter.Channel.Valid() {
		response.JSONError(w, response.NewValidationError("unknown channel "+strconv.Quote(q.Get("channel"))))
		return
	}
	switch filter.Status {
	case "", models.DeliveryPending, models.DeliveryDelivered, models.DeliveryFailed:
	default:
		response.JSONError(w, response.NewValidationError("unknown delivery status "+strconv.Quote(q.Get("status"))))
		return
	}

	list, total, err := h.store.Deliveries().List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("list deliveries failed")
		response.JSONError(w, response.ErrInternalServer)
		return
	}
	if list == nil {
		list = []*models.NotificationDelivery{}
	}
	response.OK(w, response.NewPaginated(list, total, page, perPage))
}
