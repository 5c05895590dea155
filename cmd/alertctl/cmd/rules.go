package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api/rules"
	"github.com/good-yellow-bee/blazealert/internal/models"
)

var importReplace bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Alert rule commands",
	Long:  `Manage alert rules on the server and validate rule files offline.`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []*models.AlertRule
		if err := newClient().Do(context.Background(), http.MethodGet, "/rules", nil, nil, &list); err != nil {
			return err
		}
		if printJSON(list) {
			return nil
		}
		if len(list) == 0 {
			fmt.Println("No rules found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-28s  %-9s  %-6s  %-30s  %s\n",
			"ID", "NAME", "SEVERITY", "ACTIVE", "CHANNELS", "TRIGGERS")
		fmt.Println(strings.Repeat("-", 125))
		for _, r := range list {
			channels := make([]string, len(r.Channels))
			for i, c := range r.Channels {
				channels[i] = string(c)
			}
			active := "no"
			if r.Active {
				active = "yes"
			}
			fmt.Printf("%-36s  %-28s  %-9s  %-6s  %-30s  %d\n",
				r.ID, truncate(r.Name, 28), r.Severity, active,
				truncate(strings.Join(channels, ","), 30), r.TriggerCount)
		}
		fmt.Printf("\nTotal: %d rule(s)\n", len(list))
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rule models.AlertRule
		if err := newClient().Do(context.Background(), http.MethodGet, "/rules/"+url.PathEscape(args[0]), nil, nil, &rule); err != nil {
			return err
		}
		if printJSON(rule) {
			return nil
		}

		fmt.Printf("\nRule %s\n", rule.ID)
		fmt.Printf("  Name:         %s\n", rule.Name)
		if rule.Description != "" {
			fmt.Printf("  Description:  %s\n", rule.Description)
		}
		fmt.Printf("  Trigger:      %s\n", rule.Trigger.Type)
		fmt.Printf("  Severity:     %s\n", rule.Severity)
		fmt.Printf("  Active:       %t\n", rule.Active)
		fmt.Printf("  Aggregation:  %s (%s)\n", rule.Aggregation, rule.AggregationWindow)
		if rule.RateLimitCount > 0 {
			fmt.Printf("  Rate limit:   %d per %s\n", rule.RateLimitCount, rule.RateLimitWindow)
		}
		fmt.Printf("  Triggers:     %d\n", rule.TriggerCount)
		fmt.Printf("  Acknowledged: %d\n", rule.AcknowledgedCount)
		fmt.Printf("  Resolved:     %d (false positive rate %.2f)\n", rule.ResolvedCount, rule.FalsePositiveRate)
		return nil
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Do(context.Background(), http.MethodDelete, "/rules/"+url.PathEscape(args[0]), nil, nil, nil); err != nil {
			return err
		}
		fmt.Printf("Rule %s deleted\n", args[0])
		return nil
	},
}

var rulesImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Create rules from a YAML file",
	Long: `Create every rule in a YAML rules file on the server.

With --replace, rules whose name already exists are updated in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := readRuleSpecs(args[0])
		if err != nil {
			return err
		}

		client := newClient()
		ctx := context.Background()

		var existing map[string]string
		created, updated := 0, 0
		for _, spec := range specs {
			var rule models.AlertRule
			err := client.Do(ctx, http.MethodPost, "/rules", nil, spec, &rule)
			if err == nil {
				created++
				if verbose {
					fmt.Printf("created %s (%s)\n", spec.Name, rule.ID)
				}
				continue
			}

			var apiErr *APIError
			if !importReplace || !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
				return fmt.Errorf("rule %q: %w", spec.Name, err)
			}
			if existing == nil {
				if existing, err = ruleIDsByName(ctx, client); err != nil {
					return err
				}
			}
			id, ok := existing[spec.Name]
			if !ok {
				return fmt.Errorf("rule %q: conflict but no rule with that name", spec.Name)
			}
			if err := client.Do(ctx, http.MethodPut, "/rules/"+url.PathEscape(id), nil, spec, &rule); err != nil {
				return fmt.Errorf("rule %q: %w", spec.Name, err)
			}
			updated++
			if verbose {
				fmt.Printf("updated %s (%s)\n", spec.Name, id)
			}
		}

		fmt.Printf("Imported %d rule(s): %d created, %d updated\n", created+updated, created, updated)
		return nil
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate a YAML rules file without contacting the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := readRuleSpecs(args[0])
		if err != nil {
			return err
		}
		for i, spec := range specs {
			doc, err := json.Marshal(spec)
			if err != nil {
				return fmt.Errorf("rule at index %d: %w", i, err)
			}
			if err := rules.ValidateDocument(bytes.NewReader(doc)); err != nil {
				return fmt.Errorf("rule %q: %w", spec.Name, err)
			}
		}
		if _, err := alerting.LoadRulesFromFile(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s: %d rule(s) OK\n", args[0], len(specs))
		return nil
	},
}

func readRuleSpecs(path string) ([]*alerting.RuleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var cfg alerting.RulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	for i, spec := range cfg.Rules {
		if spec == nil {
			return nil, fmt.Errorf("rule at index %d is empty", i)
		}
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("%s contains no rules", path)
	}
	return cfg.Rules, nil
}

func ruleIDsByName(ctx context.Context, client *Client) (map[string]string, error) {
	var list []*models.AlertRule
	if err := client.Do(ctx, http.MethodGet, "/rules", nil, nil, &list); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	ids := make(map[string]string, len(list))
	for _, r := range list {
		ids[r.Name] = r.ID
	}
	return ids, nil
}

func init() {
	rulesImportCmd.Flags().BoolVar(&importReplace, "replace", false, "update rules that already exist")

	rulesCmd.AddCommand(rulesListCmd, rulesShowCmd, rulesDeleteCmd, rulesImportCmd, rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}
