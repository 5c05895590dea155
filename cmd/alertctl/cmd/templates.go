package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

var (
	tmplName     string
	tmplChannel  string
	tmplSubject  string
	tmplBody     string
	tmplBodyFile string
	tmplHTMLFile string
	tmplLocale   string
	tmplTimezone string
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Notification template commands",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []*models.NotificationTemplate
		if err := newClient().Do(context.Background(), http.MethodGet, "/templates", nil, nil, &list); err != nil {
			return err
		}
		if printJSON(list) {
			return nil
		}
		if len(list) == 0 {
			fmt.Println("No templates found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-28s  %-14s  %-8s  %s\n", "ID", "NAME", "CHANNEL", "USES", "SUBJECT")
		fmt.Println(strings.Repeat("-", 120))
		for _, t := range list {
			channel := string(t.Channel)
			if channel == "" {
				channel = "any"
			}
			fmt.Printf("%-36s  %-28s  %-14s  %-8d  %s\n",
				t.ID, truncate(t.Name, 28), channel, t.UsageCount, truncate(t.Subject, 30))
		}
		return nil
	},
}

var templatesShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var t models.NotificationTemplate
		if err := newClient().Do(context.Background(), http.MethodGet, "/templates/"+url.PathEscape(args[0]), nil, nil, &t); err != nil {
			return err
		}
		if printJSON(t) {
			return nil
		}
		fmt.Printf("\nTemplate %s (%s)\n", t.Name, t.ID)
		fmt.Printf("  Channel:  %s\n", t.Channel)
		fmt.Printf("  Subject:  %s\n", t.Subject)
		fmt.Printf("  Body:\n%s\n", t.Body)
		if t.HTML != "" {
			fmt.Printf("  HTML:     %d bytes\n", len(t.HTML))
		}
		if len(t.Variables) > 0 {
			fmt.Printf("  Vars:     %s\n", strings.Join(t.Variables, ", "))
		}
		return nil
	},
}

var templatesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a template",
	Long: `Create a notification template. Bodies use Go template syntax with
the alert available as .Alert, the rule as .Rule and template variables
as .Vars.

Examples:
  alertctl templates create --name default-direct_message --channel direct_message \
    --subject "[{{upper .Alert.Severity}}] {{.Alert.Title}}" --body-file body.txt --html-file body.html`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body := tmplBody
		if tmplBodyFile != "" {
			data, err := os.ReadFile(tmplBodyFile)
			if err != nil {
				return fmt.Errorf("read body file: %w", err)
			}
			body = string(data)
		}
		if body == "" {
			return fmt.Errorf("--body or --body-file is required")
		}

		req := map[string]any{
			"name":    tmplName,
			"subject": tmplSubject,
			"body":    body,
		}
		if tmplChannel != "" {
			if !models.Channel(tmplChannel).Valid() {
				return fmt.Errorf("unknown channel %q", tmplChannel)
			}
			req["channel"] = tmplChannel
		}
		if tmplHTMLFile != "" {
			data, err := os.ReadFile(tmplHTMLFile)
			if err != nil {
				return fmt.Errorf("read html file: %w", err)
			}
			req["html"] = string(data)
		}
		if tmplLocale != "" {
			req["locale"] = tmplLocale
		}
		if tmplTimezone != "" {
			req["timezone"] = tmplTimezone
		}

		var t models.NotificationTemplate
		if err := newClient().Do(context.Background(), http.MethodPost, "/templates", nil, req, &t); err != nil {
			return err
		}
		if printJSON(t) {
			return nil
		}
		fmt.Printf("Template %s created: %s\n", t.Name, t.ID)
		return nil
	},
}

func init() {
	templatesCreateCmd.Flags().StringVar(&tmplName, "name", "", "template name (required)")
	templatesCreateCmd.Flags().StringVar(&tmplChannel, "channel", "", "restrict to one channel")
	templatesCreateCmd.Flags().StringVar(&tmplSubject, "subject", "", "subject template")
	templatesCreateCmd.Flags().StringVar(&tmplBody, "body", "", "body template")
	templatesCreateCmd.Flags().StringVar(&tmplBodyFile, "body-file", "", "read the body template from a file")
	templatesCreateCmd.Flags().StringVar(&tmplHTMLFile, "html-file", "", "read the HTML template from a file")
	templatesCreateCmd.Flags().StringVar(&tmplLocale, "locale", "", "locale for number formatting")
	templatesCreateCmd.Flags().StringVar(&tmplTimezone, "timezone", "", "timezone for rendered times")
	_ = templatesCreateCmd.MarkFlagRequired("name")

	templatesCmd.AddCommand(templatesListCmd, templatesShowCmd, templatesCreateCmd)
	rootCmd.AddCommand(templatesCmd)
}
