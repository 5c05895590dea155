package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

var (
	triggerRule     string
	triggerTitle    string
	triggerMessage  string
	triggerSeverity string
	triggerPayload  string
	triggerContext  []string

	listStatus   string
	listSeverity string
	listRule     string
	listSince    time.Duration
	listPage     int
	listPerPage  int

	actUser          string
	actNotes         string
	actFalsePositive bool
)

type triggerResult struct {
	AlertID string `json:"alert_id"`
	Outcome string `json:"outcome"`
	Dropped bool   `json:"dropped"`
}

type transitionResult struct {
	Changed bool          `json:"changed"`
	Alert   *models.Alert `json:"alert"`
}

type alertPage struct {
	Items      []*models.Alert `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PerPage    int             `json:"per_page"`
	TotalPages int             `json:"total_pages"`
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Send a trigger for a rule",
	Long: `Send a trigger for a rule. The server applies the rule's rate limit,
quiet hours and aggregation and reports the outcome.

Examples:
  alertctl trigger --rule 3f2a... --title "Disk full on db-1" --severity high
  alertctl trigger --rule 3f2a... --title "Latency" --payload '{"p99_ms": 870}' --context category=infra`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"rule_id": triggerRule,
			"title":   triggerTitle,
		}
		if triggerMessage != "" {
			body["message"] = triggerMessage
		}
		if triggerSeverity != "" {
			body["severity"] = triggerSeverity
		}
		if triggerPayload != "" {
			if !json.Valid([]byte(triggerPayload)) {
				return fmt.Errorf("--payload is not valid JSON")
			}
			body["payload"] = json.RawMessage(triggerPayload)
		}
		if len(triggerContext) > 0 {
			ctxValues, err := parseKeyValues(triggerContext)
			if err != nil {
				return err
			}
			body["context"] = ctxValues
		}

		var res triggerResult
		if err := newClient().Do(context.Background(), http.MethodPost, "/alerts/trigger", nil, body, &res); err != nil {
			return err
		}
		if printJSON(res) {
			return nil
		}
		fmt.Printf("Outcome: %s\n", res.Outcome)
		if res.AlertID != "" {
			fmt.Printf("Alert:   %s\n", res.AlertID)
		}
		if res.Dropped {
			fmt.Println("Warning: dispatch queue was full, the alert was marked failed")
		}
		return nil
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Alert commands",
	Long:  `List, inspect, acknowledge and resolve alerts.`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	Long: `List alerts, newest first.

Examples:
  alertctl alerts list --status acknowledged
  alertctl alerts list --severity critical --since 6h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if listStatus != "" {
			q.Set("status", listStatus)
		}
		if listSeverity != "" {
			q.Set("severity", listSeverity)
		}
		if listRule != "" {
			q.Set("rule_id", listRule)
		}
		if listSince > 0 {
			q.Set("since", time.Now().Add(-listSince).UTC().Format(time.RFC3339))
		}
		q.Set("page", strconv.Itoa(listPage))
		q.Set("per_page", strconv.Itoa(listPerPage))

		var page alertPage
		if err := newClient().Do(context.Background(), http.MethodGet, "/alerts", q, nil, &page); err != nil {
			return err
		}
		if printJSON(page) {
			return nil
		}
		if len(page.Items) == 0 {
			fmt.Println("No alerts found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-9s  %-12s  %-40s  %-5s  %s\n",
			"ID", "SEVERITY", "STATUS", "TITLE", "COUNT", "TRIGGERED")
		fmt.Println(strings.Repeat("-", 125))
		for _, a := range page.Items {
			fmt.Printf("%-36s  %-9s  %-12s  %-40s  %-5d  %s\n",
				a.ID,
				a.Severity,
				a.Status,
				truncate(a.Title, 40),
				a.AggregatedCount,
				a.TriggeredAt.Local().Format("2006-01-02 15:04"),
			)
		}
		fmt.Printf("\nPage %d of %d, %d alert(s)\n", page.Page, page.TotalPages, page.Total)
		return nil
	},
}

var alertsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show an alert and its deliveries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		ctx := context.Background()

		var alert models.Alert
		if err := client.Do(ctx, http.MethodGet, "/alerts/"+url.PathEscape(args[0]), nil, nil, &alert); err != nil {
			return err
		}
		var deliveries []*models.NotificationDelivery
		if err := client.Do(ctx, http.MethodGet, "/alerts/"+url.PathEscape(args[0])+"/deliveries", nil, nil, &deliveries); err != nil {
			return err
		}
		if printJSON(map[string]any{"alert": alert, "deliveries": deliveries}) {
			return nil
		}

		printAlert(&alert)
		if len(deliveries) == 0 {
			fmt.Println("\nNo deliveries.")
			return nil
		}
		fmt.Printf("\n%-14s  %-20s  %-9s  %-7s  %s\n", "CHANNEL", "RECIPIENT", "STATUS", "RETRIES", "ERROR")
		fmt.Println(strings.Repeat("-", 90))
		for _, d := range deliveries {
			fmt.Printf("%-14s  %-20s  %-9s  %d/%-5d  %s\n",
				d.Channel, truncate(d.Recipient, 20), d.Status, d.RetryCount, d.MaxRetries, truncate(d.Error, 40))
		}
		return nil
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack ID",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"notes": actNotes}
		if actUser != "" {
			body["user"] = actUser
		}
		return transition(args[0], "acknowledge", body)
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve ID",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"notes": actNotes, "false_positive": actFalsePositive}
		if actUser != "" {
			body["user"] = actUser
		}
		return transition(args[0], "resolve", body)
	},
}

func transition(id, action string, body map[string]any) error {
	var res transitionResult
	if err := newClient().Do(context.Background(), http.MethodPost, "/alerts/"+url.PathEscape(id)+"/"+action, nil, body, &res); err != nil {
		return err
	}
	if printJSON(res) {
		return nil
	}
	if !res.Changed {
		status := "unknown"
		if res.Alert != nil {
			status = string(res.Alert.Status)
		}
		fmt.Printf("Alert %s not changed (status %s)\n", id, status)
		return nil
	}
	fmt.Printf("Alert %s: %s\n", id, res.Alert.Status)
	return nil
}

func printAlert(a *models.Alert) {
	fmt.Printf("\nAlert %s\n", a.ID)
	fmt.Printf("  Rule:        %s\n", a.RuleID)
	fmt.Printf("  Title:       %s\n", a.Title)
	if a.Message != "" {
		fmt.Printf("  Message:     %s\n", a.Message)
	}
	fmt.Printf("  Severity:    %s\n", a.Severity)
	fmt.Printf("  Status:      %s\n", a.Status)
	fmt.Printf("  Triggered:   %s\n", a.TriggeredAt.Local().Format(time.RFC3339))
	fmt.Printf("  Aggregated:  %d\n", a.AggregatedCount)
	if a.AcknowledgedAt != nil {
		fmt.Printf("  Acked:       %s by %s\n", a.AcknowledgedAt.Local().Format(time.RFC3339), a.AcknowledgedBy)
	}
	if a.ResolvedAt != nil {
		fmt.Printf("  Resolved:    %s by %s\n", a.ResolvedAt.Local().Format(time.RFC3339), a.ResolvedBy)
	}
	if a.FalsePositive {
		fmt.Println("  False positive")
	}
	if a.EscalationLevel > 0 {
		fmt.Printf("  Escalation:  level %d\n", a.EscalationLevel)
	}
}

func parseKeyValues(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func init() {
	triggerCmd.Flags().StringVar(&triggerRule, "rule", "", "rule id (required)")
	triggerCmd.Flags().StringVar(&triggerTitle, "title", "", "alert title (defaults to the rule name)")
	triggerCmd.Flags().StringVar(&triggerMessage, "message", "", "alert message")
	triggerCmd.Flags().StringVar(&triggerSeverity, "severity", "", "override the rule severity")
	triggerCmd.Flags().StringVar(&triggerPayload, "payload", "", "raw JSON payload")
	triggerCmd.Flags().StringArrayVar(&triggerContext, "context", nil, "context key=value (repeatable)")
	_ = triggerCmd.MarkFlagRequired("rule")

	alertsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	alertsListCmd.Flags().StringVar(&listSeverity, "severity", "", "filter by severity")
	alertsListCmd.Flags().StringVar(&listRule, "rule", "", "filter by rule id")
	alertsListCmd.Flags().DurationVar(&listSince, "since", 0, "only alerts triggered within this duration")
	alertsListCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	alertsListCmd.Flags().IntVar(&listPerPage, "per-page", 50, "alerts per page")

	for _, c := range []*cobra.Command{alertsAckCmd, alertsResolveCmd} {
		c.Flags().StringVar(&actUser, "user", os.Getenv("USER"), "acting user (ignored when a token is used)")
		c.Flags().StringVar(&actNotes, "notes", "", "notes")
	}
	alertsResolveCmd.Flags().BoolVar(&actFalsePositive, "false-positive", false, "mark as a false positive")

	alertsCmd.AddCommand(alertsListCmd, alertsShowCmd, alertsAckCmd, alertsResolveCmd)
	rootCmd.AddCommand(triggerCmd, alertsCmd)
}
