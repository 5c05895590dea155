// Package cmd contains the CLI commands for alertctl.
package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Used for flags
	serverURL string
	token     string
	timeout   time.Duration
	verbose   bool
	output    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "alertctl",
	Short: "alertctl - BlazeAlert command line client",
	Long: `alertctl talks to a running BlazeAlert server over its HTTP API.

Examples:
  # Fire a trigger for a rule
  alertctl trigger --rule 3f2a... --title "Disk full on db-1"

  # List unresolved critical alerts
  alertctl alerts list --status sent --severity critical

  # Acknowledge and resolve
  alertctl alerts ack 9c1e... --notes "looking"
  alertctl alerts resolve 9c1e... --false-positive

  # Import rules from YAML
  alertctl rules import configs/rules.yaml

The server address and token default to $BLAZEALERT_SERVER and
$BLAZEALERT_TOKEN. Pass --token - to be prompted for the token.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if token != "-" {
			return nil
		}
		t, err := readToken()
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		token = t
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultServer := os.Getenv("BLAZEALERT_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "BlazeAlert server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("BLAZEALERT_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// readToken prompts for a token without echo when stdin is a terminal.
func readToken() (string, error) {
	fmt.Fprint(os.Stderr, "Token: ")

	fd := syscall.Stdin
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newClient() *Client {
	return NewClient(serverURL, token, timeout)
}

// printJSON writes v as indented JSON. Returns true when json output was
// requested and handled.
func printJSON(v any) bool {
	if output != "json" {
		return false
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return true
	}
	fmt.Println(string(data))
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 2 {
		return s[:n]
	}
	return s[:n-2] + ".."
}
