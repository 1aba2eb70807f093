// Package notify fans delivered and late-replayed alerts out to dashboards
// and webhook receivers. Notifications are:
//
//  1. Broadcast via the WebSocket callback to connected dashboards
//  2. Pushed to registered webhook endpoints (Slack, PagerDuty, SIEM)
//  3. Kept in a bounded in-memory history for the API's recent view
//
// Per-endpoint minimum severity keeps webhook volume sane during bursts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/pkg/models"
)

// Notification is the envelope sent to sinks.
type Notification struct {
	Kind       string                 `json:"kind"` // delivery | late_replay
	Alert      models.Alert           `json:"alert"`
	Decision   *models.DecisionRecord `json:"decision,omitempty"`
	LateReplay *models.LateReplay     `json:"late_replay,omitempty"`
	TS         time.Time              `json:"ts"`
}

// WebhookEndpoint is a registered webhook receiver.
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity string            `json:"min_severity"`
}

// Manager is the delivery half of the alert sink.
type Manager struct {
	mu         sync.RWMutex
	webhooks   []WebhookEndpoint
	recent     []Notification
	maxHistory int

	httpClient *http.Client
	broadcast  func(Notification)
	log        zerolog.Logger
}

// NewManager builds a notification manager. broadcast may be nil when no
// live stream is attached.
func NewManager(broadcast func(Notification), log zerolog.Logger) *Manager {
	return &Manager{
		maxHistory: 1000,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		broadcast:  broadcast,
		log:        log,
	}
}

// RegisterWebhook adds a webhook endpoint.
func (m *Manager) RegisterWebhook(name, url, minSeverity string, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, WebhookEndpoint{
		Name: name, URL: url, Enabled: true, Headers: headers, MinSeverity: minSeverity,
	})
	m.log.Info().Str("name", name).Str("min_severity", minSeverity).Msg("webhook registered")
}

// RemoveWebhook removes a webhook by name.
func (m *Manager) RemoveWebhook(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, wh := range m.webhooks {
		if wh.Name == name {
			m.webhooks = append(m.webhooks[:i], m.webhooks[i+1:]...)
			return
		}
	}
}

// Deliver implements the decision engine's sink.
func (m *Manager) Deliver(_ context.Context, a models.Alert, rec models.DecisionRecord) {
	m.emit(Notification{Kind: "delivery", Alert: a, Decision: &rec, TS: rec.CreatedAt})
}

// Replay implements the reconciler's sink.
func (m *Manager) Replay(_ context.Context, a models.Alert, lr models.LateReplay) {
	m.emit(Notification{Kind: "late_replay", Alert: a, LateReplay: &lr, TS: lr.LateTS})
}

func (m *Manager) emit(n Notification) {
	m.mu.Lock()
	m.recent = append(m.recent, n)
	if len(m.recent) > m.maxHistory {
		m.recent = m.recent[len(m.recent)-m.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(m.webhooks))
	copy(webhooks, m.webhooks)
	m.mu.Unlock()

	if m.broadcast != nil {
		m.broadcast(n)
	}

	for _, wh := range webhooks {
		if !wh.Enabled {
			continue
		}
		if !models.SeverityMeetsThreshold(n.Alert.Severity, wh.MinSeverity) {
			continue
		}
		go m.sendWebhook(wh, n)
	}
}

// Recent returns the most recent notifications, newest first.
func (m *Manager) Recent(limit int) []Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}
	out := make([]Notification, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.recent[len(m.recent)-1-i]
	}
	return out
}

func (m *Manager) sendWebhook(wh WebhookEndpoint, n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		m.log.Error().Err(err).Str("webhook", wh.Name).Msg("marshal notification")
		return
	}
	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		m.log.Error().Err(err).Str("webhook", wh.Name).Msg("build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.log.Warn().Err(err).Str("webhook", wh.Name).Msg("webhook send failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		m.log.Warn().Int("status", resp.StatusCode).Str("webhook", wh.Name).Msg("webhook rejected")
	}
}
