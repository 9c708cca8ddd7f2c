// Package alert implements the consecutive-failure webhook alert manager:
// a mutex-guarded streak counter that dispatches one webhook per failure
// streak crossing a threshold, re-arming only on the next success. Uses a
// bounded-timeout *http.Client with a JSON body and status-code check,
// generalized from a GET-verification call to a fire-and-forget POST
// notification.
package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event is the outcome reported to the alert manager for one ingest run.
type Event string

const (
	EventSuccess Event = "success"
	EventFailed  Event = "failed"
)

// LatestRun summarizes the run that produced an Event, echoed in the
// webhook body.
type LatestRun struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// Config configures a Manager.
type Config struct {
	Threshold      int
	WebhookURL     string
	WebhookHeaders map[string]string
	Client         *http.Client
}

// Manager tracks consecutive ingest failures and dispatches a webhook the
// first time the streak reaches Config.Threshold. Mutual exclusion is
// required because the same Manager is touched from multiple ingest
// goroutines.
type Manager struct {
	cfg Config

	mu               sync.Mutex
	consecutive      int
	alertedForStreak bool
}

// New builds a Manager. A nil Client gets a 10s-timeout default.
func New(cfg Config) *Manager {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Manager{cfg: cfg}
}

type webhookBody struct {
	Event               Event     `json:"event"`
	Timestamp           time.Time `json:"timestamp"`
	Threshold           int       `json:"threshold"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LatestRun           LatestRun `json:"latest_run"`
}

// Record applies one event's state transition:
//   - success: consecutive resets to 0, the streak is no longer alerted.
//   - failed, below threshold: consecutive increments, no dispatch.
//   - failed, reaching threshold for the first time this streak: consecutive
//     increments, a webhook is dispatched, the streak is marked alerted.
//   - failed, already alerted this streak: consecutive increments, no
//     re-dispatch until a success re-arms the manager.
func (m *Manager) Record(event Event, run LatestRun) {
	m.mu.Lock()
	var dispatch bool
	switch event {
	case EventSuccess:
		m.consecutive = 0
		m.alertedForStreak = false
	case EventFailed:
		m.consecutive++
		if m.consecutive == m.cfg.Threshold && !m.alertedForStreak {
			m.alertedForStreak = true
			dispatch = true
		}
	}
	body := webhookBody{
		Event:               event,
		Timestamp:           time.Now().UTC(),
		Threshold:           m.cfg.Threshold,
		ConsecutiveFailures: m.consecutive,
		LatestRun:           run,
	}
	m.mu.Unlock()

	if dispatch {
		m.dispatchWebhook(body)
	}
}

// dispatchWebhook POSTs the alert body. Failures are logged and do not
// reset alert state — a dropped webhook does not re-arm the streak; only
// an EventSuccess does.
func (m *Manager) dispatchWebhook(body webhookBody) {
	if m.cfg.WebhookURL == "" {
		return
	}
	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("failed to marshal alert webhook body", "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, m.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		slog.Error("failed to build alert webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range m.cfg.WebhookHeaders {
		req.Header.Set(k, v)
	}

	resp, err := m.cfg.Client.Do(req)
	if err != nil {
		slog.Error("alert webhook request failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Error("alert webhook returned non-2xx status", "status", fmt.Sprintf("%d", resp.StatusCode))
	}
}

// ConsecutiveFailures reports the current streak length.
func (m *Manager) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutive
}
