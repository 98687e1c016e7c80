package alertsmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arkade-os/moneypot/internal/core/ports"
)

const (
	serviceName = "moneypot"

	maxRetries = 5
)

type Alert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

type service struct {
	baseUrl     string
	explorerUrl string
	httpClient  *http.Client
	baseDelay   time.Duration
}

// NewService returns an Alerts publisher posting to the AlertManager api at
// alertManagerURL. Transaction hashes are linked to explorerURL if not empty.
func NewService(alertManagerURL, explorerURL string) ports.Alerts {
	return &service{
		baseUrl:     alertManagerURL,
		explorerUrl: strings.TrimSuffix(explorerURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseDelay: 100 * time.Millisecond,
	}
}

func (s *service) Publish(ctx context.Context, topic ports.Topic, message any) error {
	labels := map[string]string{
		"alertname": string(topic),
		"service":   serviceName,
		"severity":  "info",
	}

	desc := ""
	annotations := map[string]string{}
	switch topic {
	case ports.SweepCompleted, ports.SweepFailed:
		m, ok := message.(ports.SweepAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		annotations["firing_title"] = "🧹 Sweep Completed"
		if topic == ports.SweepFailed || len(m.Failed) > 0 {
			annotations["firing_title"] = "⚠️ Sweep Failed"
			labels["severity"] = "warning"
		}
		desc = formatSweepAlert(s.explorerUrl, m)
		labels["run_id"] = m.RunId
	default:
		annotations["firing_title"] = fmt.Sprintf("🔔 %s", topic)
		desc = formatGenericAlert(map[string]any{"event": message})
	}

	annotations["description"] = desc
	alert := Alert{
		Labels:      labels,
		Annotations: annotations,
		StartsAt:    time.Now(),
	}

	if err := s.sendAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to send alert to AlertManager: %w", err)
	}

	return nil
}

func (s *service) sendAlert(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal([]Alert{alert})
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	backoff := func(attempt int) error {
		select {
		case <-time.After(s.baseDelay * time.Duration(1<<uint(attempt))):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for attempt := range maxRetries {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, s.baseUrl, bytes.NewReader(payload),
		)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if attempt < maxRetries-1 {
				if err := backoff(attempt); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("failed to send alert after %d attempts: %w", maxRetries, err)
		}
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		// Only server errors are worth another try.
		if resp.StatusCode >= 500 && attempt < maxRetries-1 {
			if err := backoff(attempt); err != nil {
				return err
			}
			continue
		}

		return fmt.Errorf(
			"failed to send alert to AlertManager with status %d after %d attempts",
			resp.StatusCode, attempt+1,
		)
	}

	return fmt.Errorf("failed to send alert after %d attempts", maxRetries)
}

func formatSweepAlert(explorerUrl string, data ports.SweepAlert) string {
	lines := make([]string, 0)
	lines = append(lines, fmt.Sprintf("*Run:* `%s`", data.RunId))
	if data.Error != "" {
		lines = append(lines, fmt.Sprintf("\n*Error:* %s", data.Error))
	}

	lines = append(lines, "\n*Breakdown:*")
	lines = append(lines, fmt.Sprintf("• Duration: %s", data.Duration))
	lines = append(lines, fmt.Sprintf("• Active pots checked: %d", data.Checked))
	lines = append(lines, fmt.Sprintf("• Still active: %d", data.StillActive))
	lines = append(lines, fmt.Sprintf("• Expired: %s", formatIds(data.Expired)))
	lines = append(lines, fmt.Sprintf("• Failed: %s", formatIds(data.Failed)))
	if len(data.Unconfirmed) > 0 {
		lines = append(lines, fmt.Sprintf("• Unconfirmed: %s", formatIds(data.Unconfirmed)))
	}
	lines = append(lines, fmt.Sprintf(
		"• Batches: %d submitted, %d failed", data.BatchesSubmitted, data.BatchesFailed,
	))

	if len(data.TxHashes) > 0 {
		lines = append(lines, "\n*Transactions:*")
		for _, hash := range data.TxHashes {
			if explorerUrl == "" {
				lines = append(lines, fmt.Sprintf("• `%s`", hash))
				continue
			}
			lines = append(lines, fmt.Sprintf("• %s/txn/%s", explorerUrl, hash))
		}
	}
	return strings.Join(lines, "\n")
}

func formatGenericAlert(data map[string]any) string {
	lines := make([]string, 0)
	for key, value := range data {
		lines = append(lines, fmt.Sprintf("• %s: %v", key, value))
	}
	return strings.Join(lines, "\n")
}

func formatIds(ids []uint64) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return strings.Join(parts, ", ")
}
