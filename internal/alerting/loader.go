package alerting

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// LoadRulesFromFile loads alert rules from a YAML file.
func LoadRulesFromFile(path string) ([]*models.AlertRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRules(f)
}

// LoadRules loads alert rules from a reader.
func LoadRules(r io.Reader) ([]*models.AlertRule, error) {
	var config RulesConfig
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return convertSpecs(config.Rules)
}

// LoadRulesFromBytes loads alert rules from YAML bytes.
func LoadRulesFromBytes(data []byte) ([]*models.AlertRule, error) {
	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return convertSpecs(config.Rules)
}

func convertSpecs(specs []*RuleSpec) ([]*models.AlertRule, error) {
	seen := make(map[string]bool, len(specs))
	rules := make([]*models.AlertRule, 0, len(specs))
	for i, spec := range specs {
		if spec == nil {
			return nil, fmt.Errorf("invalid rule at index %d: empty entry", i)
		}
		rule, err := spec.ToRule()
		if err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		if seen[rule.Name] {
			return nil, fmt.Errorf("invalid rule at index %d: duplicate name %q", i, rule.Name)
		}
		seen[rule.Name] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// SyncResult counts what SyncRules changed.
type SyncResult struct {
	Created int
	Updated int
}

// SyncRules upserts rules by name. Existing rules keep their id, counters
// and creation time.
func (e *Engine) SyncRules(ctx context.Context, rules []*models.AlertRule) (SyncResult, error) {
	var res SyncResult
	for _, rule := range rules {
		existing, err := e.store.Rules().GetByName(ctx, rule.Name)
		if err != nil {
			return res, fmt.Errorf("lookup rule %q: %w", rule.Name, err)
		}
		if existing == nil {
			if _, err := e.CreateRule(ctx, rule); err != nil {
				return res, err
			}
			res.Created++
			continue
		}

		rule.ID = existing.ID
		if err := e.UpdateRule(ctx, rule); err != nil {
			return res, err
		}
		res.Updated++
	}
	return res, nil
}
