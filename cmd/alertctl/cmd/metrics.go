package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
)

var metricsWindow time.Duration

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show alert metrics for a trailing window",
	Long: `Show alert counts, response times and delivery success for alerts
triggered within the window.

Examples:
  alertctl metrics
  alertctl metrics --window 168h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if metricsWindow <= 0 {
			return fmt.Errorf("--window must be positive")
		}
		q := url.Values{}
		q.Set("window_hours", strconv.FormatFloat(metricsWindow.Hours(), 'f', -1, 64))

		var m alerting.AlertMetrics
		if err := newClient().Do(context.Background(), http.MethodGet, "/metrics/alerts", q, nil, &m); err != nil {
			return err
		}
		if printJSON(m) {
			return nil
		}

		fmt.Printf("\nAlerts in the last %s\n", metricsWindow)
		fmt.Printf("  Total:                %d\n", m.Total)
		fmt.Println("  By severity:")
		for _, k := range sortedKeys(m.BySeverity) {
			fmt.Printf("    %-18s  %d\n", k, m.BySeverity[k])
		}
		fmt.Println("  By status:")
		for _, k := range sortedKeys(m.ByStatus) {
			fmt.Printf("    %-18s  %d\n", k, m.ByStatus[k])
		}
		fmt.Printf("  Avg time to ack:      %s\n", seconds(m.AvgTimeToAcknowledge))
		fmt.Printf("  Avg time to resolve:  %s\n", seconds(m.AvgTimeToResolve))
		fmt.Printf("  Deliveries:           %d (%d delivered, %d failed, %d exhausted)\n",
			m.DeliveryTotal, m.DeliveryDelivered, m.DeliveryFailed, m.DeliveryExhausted)
		fmt.Printf("  Success rate:         %.1f%%\n", m.DeliverySuccessRate*100)
		fmt.Printf("  Active rules:         %d\n", m.ActiveRules)
		return nil
	},
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func seconds(s float64) string {
	if s <= 0 {
		return "-"
	}
	return (time.Duration(s * float64(time.Second))).Round(time.Second).String()
}

func init() {
	metricsCmd.Flags().DurationVar(&metricsWindow, "window", 24*time.Hour, "trailing window")
	rootCmd.AddCommand(metricsCmd)
}
