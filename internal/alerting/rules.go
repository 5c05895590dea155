package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/templates"
)

// ErrTemplateExists is returned when a template name is already taken.
var ErrTemplateExists = errors.New("notification template already exists")

// CreateRule validates and stores a new rule, returning its id.
func (e *Engine) CreateRule(ctx context.Context, rule *models.AlertRule) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}
	existing, err := e.store.Rules().GetByName(ctx, rule.Name)
	if err != nil {
		return "", fmt.Errorf("lookup rule: %w", err)
	}
	if existing != nil {
		return "", fmt.Errorf("%w: %s", ErrRuleExists, rule.Name)
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Aggregation == "" {
		rule.Aggregation = models.AggregationNone
	}
	if rule.Trigger.Type == "" {
		rule.Trigger.Type = models.TriggerManual
	}
	now := e.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := e.store.Rules().Create(ctx, rule); err != nil {
		return "", fmt.Errorf("create rule: %w", err)
	}
	e.refreshActiveRules(ctx)
	e.logger.Info().Str("rule_id", rule.ID).Str("rule", rule.Name).Msg("alert rule created")
	return rule.ID, nil
}

// UpdateRule replaces a rule's definition. Counters are left untouched.
func (e *Engine) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	unlock, err := e.locker.Lock(ctx, rule.ID)
	if err != nil {
		return fmt.Errorf("lock rule %s: %w", rule.ID, err)
	}
	defer unlock()

	existing, err := e.store.Rules().GetByID(ctx, rule.ID)
	if err != nil {
		return fmt.Errorf("get rule: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	if rule.Name != existing.Name {
		clash, err := e.store.Rules().GetByName(ctx, rule.Name)
		if err != nil {
			return fmt.Errorf("lookup rule: %w", err)
		}
		if clash != nil {
			return fmt.Errorf("%w: %s", ErrRuleExists, rule.Name)
		}
	}
	if rule.Aggregation == "" {
		rule.Aggregation = models.AggregationNone
	}
	if rule.Trigger.Type == "" {
		rule.Trigger.Type = models.TriggerManual
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = e.now().UTC()

	if err := e.store.Rules().Update(ctx, rule); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	e.refreshActiveRules(ctx)
	return nil
}

// DeleteRule removes a rule. Its alerts are kept.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if _, err := e.GetRule(ctx, id); err != nil {
		return err
	}
	if err := e.store.Rules().Delete(ctx, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	e.refreshActiveRules(ctx)
	return nil
}

// GetRule returns a rule by id.
func (e *Engine) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	rule, err := e.store.Rules().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	if rule == nil {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule, nil
}

// ListRules returns all rules.
func (e *Engine) ListRules(ctx context.Context) ([]*models.AlertRule, error) {
	return e.store.Rules().List(ctx)
}

func (e *Engine) refreshActiveRules(ctx context.Context) {
	n, err := e.store.Rules().CountActive(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to count active rules")
		return
	}
	metrics.ActiveRules.Set(float64(n))
}

// CreateTemplate validates and stores a notification template, returning
// its id.
func (e *Engine) CreateTemplate(ctx context.Context, tmpl *models.NotificationTemplate) (string, error) {
	if tmpl.Name == "" {
		return "", fmt.Errorf("%w: name is required", templates.ErrInvalidTemplate)
	}
	if tmpl.Channel != "" && !tmpl.Channel.Valid() {
		return "", fmt.Errorf("%w: unknown channel %q", templates.ErrInvalidTemplate, tmpl.Channel)
	}
	if err := templates.Validate(tmpl); err != nil {
		return "", err
	}
	existing, err := e.store.Templates().GetByName(ctx, tmpl.Name)
	if err != nil {
		return "", fmt.Errorf("lookup template: %w", err)
	}
	if existing != nil {
		return "", fmt.Errorf("%w: %s", ErrTemplateExists, tmpl.Name)
	}

	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}
	now := e.now().UTC()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	if err := e.store.Templates().Create(ctx, tmpl); err != nil {
		return "", fmt.Errorf("create template: %w", err)
	}
	return tmpl.ID, nil
}
