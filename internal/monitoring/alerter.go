package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertEnrichmentFailureRate AlertType = "enrichment_failure_rate"
	AlertDeliveryFailures      AlertType = "delivery_failures"
)

// minFinished is the sample size below which the failure rate is ignored.
const minFinished = 5

// Alert is one message posted to the webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter compares snapshots with the configured thresholds.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts snap triggers.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.EnrichmentsCompleted + snap.EnrichmentsFailed
	if finished >= minFinished && snap.EnrichmentFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEnrichmentFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Enrichment failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.EnrichmentFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.EnrichmentsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate":        snap.EnrichmentFailRate,
				"threshold":           a.cfg.FailureRateThreshold,
				"failed":              snap.EnrichmentsFailed,
				"finished":            finished,
				"signals_unavailable": snap.SignalsUnavailable,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxDeliveryFailures > 0 && snap.DeliveryFailures >= a.cfg.MaxDeliveryFailures {
		alerts = append(alerts, Alert{
			Type:     AlertDeliveryFailures,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d enrollment deliveries failed in last %dh (%d succeeded)",
				snap.DeliveryFailures, snap.LookbackHours, snap.Enrolled,
			),
			Details: map[string]any{
				"delivery_failures": snap.DeliveryFailures,
				"enrolled":          snap.Enrolled,
				"threshold":         a.cfg.MaxDeliveryFailures,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts alerts to the webhook and returns how many were
// delivered. Nothing is sent without a webhook URL.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return resilience.StatusError("monitoring: webhook", resp.StatusCode, "")
	}
	return nil
}
