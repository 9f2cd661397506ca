package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"runtime"
	"time"
)

// LogSender writes notifications to the process log. Always safe; used as
// the fallback channel when nothing else is configured.
type LogSender struct {
	logger *log.Logger
}

func NewLogSender(logger *log.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, evt Event) error {
	payload, _ := json.Marshal(evt.Payload)
	s.logger.Printf("%s INFO notification: type=%s priority=%s payload=%s",
		evt.Timestamp.Format(time.RFC3339), evt.Type, evt.Priority, payload)
	return nil
}

// WebhookSender POSTs the event as JSON to a configured endpoint.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// DesktopSender shows a desktop notification via osascript on macOS and
// notify-send elsewhere. Errors from missing binaries surface to the fanout
// and are logged, not fatal.
type DesktopSender struct{}

func NewDesktopSender() *DesktopSender { return &DesktopSender{} }

func (s *DesktopSender) Name() string { return "desktop" }

func (s *DesktopSender) Send(ctx context.Context, evt Event) error {
	title := fmt.Sprintf("warden: %s", evt.Type)
	message := fmt.Sprintf("priority=%s", evt.Priority)
	if wf, ok := evt.Payload["review_workflow_id"].(string); ok {
		message = fmt.Sprintf("workflow=%s priority=%s", wf, evt.Priority)
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	} else {
		cmd = exec.CommandContext(ctx, "notify-send", title, message)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}
