// Package notification delivers run summaries to chat rooms and webhooks.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/russross/blackfriday/v2"

	"github.com/tionis/tallercheck/internal/report"
	"github.com/tionis/tallercheck/internal/types"
)

// maxListedFailures bounds how many failing steps a summary names.
const maxListedFailures = 10

// BackendFactory creates notification backends based on configuration.
func BackendFactory(logger *slog.Logger, config types.NotifyConfig) (types.NotificationBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notification", "backend", config.Type)

	switch config.Type {
	case "matrix":
		return NewMatrixBackend(logger, config.Config)
	case "webhook":
		return NewWebhookBackend(logger, config.Config)
	default:
		return nil, fmt.Errorf("unsupported notification backend type: %s", config.Type)
	}
}

// Summary renders a finished run as a markdown message.
func Summary(r *report.Report) types.NotificationMessage {
	status := "PASS"
	if !r.OK() {
		status = "FAIL"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** against `%s`\n\n", status, r.Target)
	fmt.Fprintf(&sb, "passed %d, failed %d, skipped %d in %s\n", r.Passed, r.Failed, r.Skipped, r.Duration().Round(time.Millisecond))

	failures := r.Failures()
	if len(failures) > 0 {
		sb.WriteString("\n")
		for i, res := range failures {
			if i == maxListedFailures {
				fmt.Fprintf(&sb, "- ... and %d more\n", len(failures)-maxListedFailures)
				break
			}
			fmt.Fprintf(&sb, "- `%s`", res.Name())
			if res.Detail != "" {
				fmt.Fprintf(&sb, ": %s", res.Detail)
			}
			sb.WriteString("\n")
		}
	}

	return types.NotificationMessage{
		Type:    "markdown",
		Title:   fmt.Sprintf("tallercheck %s (run %s)", status, r.RunID),
		Content: sb.String(),
		Failed:  !r.OK(),
	}
}

// Notify sends the run summary unless the backend only wants failures and
// the run passed. Delivery problems are logged, never returned.
func Notify(logger *slog.Logger, backend types.NotificationBackend, onFailureOnly bool, r *report.Report) {
	if backend == nil {
		return
	}
	msg := Summary(r)
	if onFailureOnly && !msg.Failed {
		return
	}
	if err := backend.SendNotification(msg); err != nil {
		logger.Warn("notification failed", "run_id", r.RunID, "error", err)
		return
	}
	logger.Debug("notification sent", "run_id", r.RunID)
}

// MatrixBackend implements notification sending via Matrix.
type MatrixBackend struct {
	accessToken string
	user        string
	endpoint    string
	roomID      string // Default room ID for notifications
	client      *http.Client
	logger      *slog.Logger
}

// NewMatrixBackend creates a new Matrix notification backend.
func NewMatrixBackend(logger *slog.Logger, config map[string]interface{}) (*MatrixBackend, error) {
	accessToken, ok := config["access_token"].(string)
	if !ok || accessToken == "" {
		return nil, fmt.Errorf("access_token is required for Matrix backend")
	}

	user, ok := config["user"].(string)
	if !ok || user == "" {
		return nil, fmt.Errorf("user is required for Matrix backend")
	}

	endpoint, _ := config["endpoint"].(string)

	// @bot:matrix.org -> https://matrix.org
	if endpoint == "" && strings.HasPrefix(user, "@") {
		if _, server, found := strings.Cut(user, ":"); found && server != "" {
			endpoint = "https://" + server
		}
	}
	if endpoint == "" {
		endpoint = "https://matrix.org"
	}

	roomID, _ := config["room_id"].(string)

	return &MatrixBackend{
		accessToken: accessToken,
		user:        user,
		endpoint:    strings.TrimRight(endpoint, "/"),
		roomID:      roomID,
		logger:      logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// ValidateConfig validates the Matrix backend configuration.
func (m *MatrixBackend) ValidateConfig() error {
	if m.accessToken == "" {
		return fmt.Errorf("access_token is required")
	}
	if m.user == "" {
		return fmt.Errorf("user is required")
	}
	if m.roomID == "" {
		return fmt.Errorf("room_id is required")
	}
	return nil
}

// SendNotification sends a notification via Matrix.
func (m *MatrixBackend) SendNotification(msg types.NotificationMessage) error {
	body := msg.Content
	if msg.Title != "" {
		body = msg.Title + "\n" + msg.Content
	}

	matrixMsg := map[string]interface{}{
		"msgtype": "m.text",
		"body":    body,
	}

	switch msg.Type {
	case "markdown":
		formatted := markdownToHTML(msg.Content)
		if msg.Title != "" {
			formatted = fmt.Sprintf("<h3>%s</h3>\n%s", msg.Title, formatted)
		}
		matrixMsg["format"] = "org.matrix.custom.html"
		matrixMsg["formatted_body"] = formatted
	case "html":
		formatted := msg.Content
		if msg.Title != "" {
			formatted = fmt.Sprintf("<h3>%s</h3>\n%s", msg.Title, msg.Content)
		}
		matrixMsg["format"] = "org.matrix.custom.html"
		matrixMsg["formatted_body"] = formatted
	case "plain", "":
	default:
		return fmt.Errorf("unsupported message type: %s", msg.Type)
	}

	roomID := msg.Room
	if roomID == "" {
		roomID = m.roomID
	}
	if roomID == "" {
		return fmt.Errorf("no room ID specified in message or backend configuration")
	}

	return m.sendMatrixMessage(roomID, matrixMsg)
}

func (m *MatrixBackend) sendMatrixMessage(roomID string, message map[string]interface{}) error {
	target := fmt.Sprintf("%s/_matrix/client/r0/rooms/%s/send/m.room.message/%s",
		m.endpoint, url.PathEscape(roomID), uuid.NewString())

	m.logger.Debug("Sending Matrix message", "roomID", roomID, "matrixUser", m.user, "url", target)

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPut, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.accessToken)

	return send(m.client, m.logger, req)
}

// Close closes the Matrix backend and cleans up resources.
func (m *MatrixBackend) Close() error {
	return nil
}

// WebhookBackend posts the message as JSON to a URL.
type WebhookBackend struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// NewWebhookBackend creates a webhook backend. Config keys: url (required)
// and headers (optional map of extra request headers).
func NewWebhookBackend(logger *slog.Logger, config map[string]interface{}) (*WebhookBackend, error) {
	raw, _ := config["url"].(string)
	if raw == "" {
		return nil, fmt.Errorf("url is required for webhook backend")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("webhook url must be http(s), got %q", raw)
	}

	headers := map[string]string{}
	if h, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range h {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	return &WebhookBackend{
		url:     raw,
		headers: headers,
		logger:  logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// ValidateConfig validates the webhook configuration.
func (w *WebhookBackend) ValidateConfig() error {
	if w.url == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// SendNotification posts msg as JSON.
func (w *WebhookBackend) SendNotification(msg types.NotificationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	return send(w.client, w.logger, req)
}

// Close is a no-op.
func (w *WebhookBackend) Close() error {
	return nil
}

func send(client *http.Client, logger *slog.Logger, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	response, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	logger.Debug("notification response", "response", string(response), "code", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", req.URL.Host, resp.StatusCode)
	}
	return nil
}

func markdownToHTML(markdown string) string {
	return strings.TrimSpace(string(blackfriday.Run([]byte(markdown))))
}
