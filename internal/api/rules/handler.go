// Package rules serves alert rule management.
package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api/response"
	"github.com/good-yellow-bee/blazealert/internal/models"
)

const maxBodyBytes = 1 << 20

// Engine is the rule management surface of the alert engine.
type Engine interface {
	CreateRule(ctx context.Context, rule *models.AlertRule) (string, error)
	UpdateRule(ctx context.Context, rule *models.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (*models.AlertRule, error)
	ListRules(ctx context.Context) ([]*models.AlertRule, error)
}

// Handler handles rule endpoints.
type Handler struct {
	engine Engine
	logger zerolog.Logger
}

// NewHandler creates a rule handler.
func NewHandler(engine Engine, logger zerolog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// List returns all rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.engine.ListRules(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list rules failed")
		response.JSONError(w, response.ErrInternalServer)
		return
	}
	if rules == nil {
		rules = []*models.AlertRule{}
	}
	response.OK(w, rules)
}

// Get returns one rule.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.engine.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.engineError(w, err)
		return
	}
	response.OK(w, rule)
}

// Create validates a rule document and stores it.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	rule, apiErr := h.decodeRule(w, r)
	if apiErr != nil {
		response.JSONError(w, apiErr)
		return
	}
	if _, err := h.engine.CreateRule(r.Context(), rule); err != nil {
		h.engineError(w, err)
		return
	}
	h.logger.Info().Str("rule_id", rule.ID).Str("rule", rule.Name).Msg("rule created via api")
	response.Created(w, rule)
}

// Update replaces a rule's definition.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	rule, apiErr := h.decodeRule(w, r)
	if apiErr != nil {
		response.JSONError(w, apiErr)
		return
	}
	rule.ID = chi.URLParam(r, "id")
	if err := h.engine.UpdateRule(r.Context(), rule); err != nil {
		h.engineError(w, err)
		return
	}
	updated, err := h.engine.GetRule(r.Context(), rule.ID)
	if err != nil {
		h.engineError(w, err)
		return
	}
	response.OK(w, updated)
}

// Delete removes a rule.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.engineError(w, err)
		return
	}
	response.NoContent(w)
}

// decodeRule checks the body against the rule schema before converting it.
func (h *Handler) decodeRule(w http.ResponseWriter, r *http.Request) (*models.AlertRule, *response.Error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, response.NewBodyTooLarge(maxErr.Limit)
		}
		return nil, response.NewBadRequest("failed to read request body")
	}

	if err := ValidateDocument(bytes.NewReader(body)); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, response.NewValidationError(schemaMessage(verr))
		}
		return nil, response.NewBadRequest(err.Error())
	}

	var spec alerting.RuleSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		return nil, response.NewBadRequest("invalid rule document")
	}
	rule, err := spec.ToRule()
	if err != nil {
		return nil, response.NewValidationError(err.Error())
	}
	return rule, nil
}

func (h *Handler) engineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerting.ErrRuleNotFound):
		response.JSONError(w, response.NewNotFound(err.Error()))
	case errors.Is(err, alerting.ErrRuleExists):
		response.JSONError(w, response.NewConflict(err.Error()))
	case errors.Is(err, models.ErrInvalidRule):
		response.JSONError(w, response.NewValidationError(err.Error()))
	default:
		h.logger.Error().Err(err).Msg("rule request failed")
		response.JSONError(w, response.ErrInternalServer)
	}
}

// schemaMessage flattens a validation error to its deepest causes.
func schemaMessage(verr *jsonschema.ValidationError) string {
	var leaves []*jsonschema.ValidationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)

	msg := "rule does not match schema"
	for i, leaf := range leaves {
		if i == 3 {
			msg += "; ..."
			break
		}
		loc := "/" + joinLocation(leaf.InstanceLocation)
		msg += "; " + loc + ": " + leaf.ErrorKind.LocalizedString(printer)
	}
	return msg
}
