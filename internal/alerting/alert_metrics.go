package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// AlertMetrics aggregates alerts triggered within a window.
type AlertMetrics struct {
	WindowHours          float64                    `json:"window_hours"`
	Total                int                        `json:"total"`
	BySeverity           map[models.Severity]int    `json:"by_severity"`
	ByStatus             map[models.AlertStatus]int `json:"by_status"`
	AvgTimeToAcknowledge float64                    `json:"avg_time_to_acknowledge"`
	AvgTimeToResolve     float64                    `json:"avg_time_to_resolve"`
	DeliveryTotal        int64                      `json:"delivery_total"`
	DeliveryDelivered    int64                      `json:"delivery_delivered"`
	DeliveryFailed       int64                      `json:"delivery_failed"`
	DeliveryExhausted    int64                      `json:"delivery_exhausted"`
	DeliverySuccessRate  float64                    `json:"delivery_success_rate"`
	ActiveRules          int64                      `json:"active_rules"`
}

// GetAlertMetrics summarizes alerts triggered in the trailing window.
// Averages cover only alerts that reached the transition; the success rate
// is zero when there were no deliveries.
func (e *Engine) GetAlertMetrics(ctx context.Context, window time.Duration) (*AlertMetrics, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	since := e.now().UTC().Add(-window)

	alerts, err := e.store.Alerts().ListTriggeredSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	m := &AlertMetrics{
		WindowHours: window.Hours(),
		Total:       len(alerts),
		BySeverity:  make(map[models.Severity]int),
		ByStatus:    make(map[models.AlertStatus]int),
	}

	var ackSum, resolveSum float64
	var ackN, resolveN int
	for _, a := range alerts {
		m.BySeverity[a.Severity]++
		m.ByStatus[a.Status]++
		if a.TimeToAcknowledge != nil {
			ackSum += *a.TimeToAcknowledge
			ackN++
		}
		if a.TimeToResolve != nil {
			resolveSum += *a.TimeToResolve
			resolveN++
		}
	}
	if ackN > 0 {
		m.AvgTimeToAcknowledge = ackSum / float64(ackN)
	}
	if resolveN > 0 {
		m.AvgTimeToResolve = resolveSum / float64(resolveN)
	}

	stats, err := e.store.Deliveries().StatsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	m.DeliveryTotal = stats.Total
	m.DeliveryDelivered = stats.Delivered
	m.DeliveryFailed = stats.Failed
	m.DeliveryExhausted = stats.Exhausted
	if stats.Total > 0 {
		m.DeliverySuccessRate = float64(stats.Delivered) / float64(stats.Total)
	}

	if m.ActiveRules, err = e.store.Rules().CountActive(ctx); err != nil {
		return nil, fmt.Errorf("count active rules: %w", err)
	}
	return m, nil
}
