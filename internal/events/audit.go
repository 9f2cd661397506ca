package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// auditEntry is one line in the audit trail.
type auditEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  string                 `json:"event_type"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// AuditLogger keeps an append-only JSONL trail of handled events. The trail
// rotates when it grows past maxBytes; one previous generation is kept.
type AuditLogger struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	now      func() time.Time
}

func NewAuditLogger(dir string, maxBytes int64) (*AuditLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &AuditLogger{
		path:     filepath.Join(dir, "events.jsonl"),
		maxBytes: maxBytes,
		now:      time.Now,
	}, nil
}

// Record appends one entry. Failures are swallowed: the audit trail is
// best-effort and must never fail event handling.
func (a *AuditLogger) Record(eventType, workflowID string, payload map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := auditEntry{
		Timestamp:  a.now().UTC(),
		EventType:  eventType,
		WorkflowID: workflowID,
		Payload:    payload,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	a.rotateIfNeeded()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}

func (a *AuditLogger) rotateIfNeeded() {
	info, err := os.Stat(a.path)
	if err != nil || info.Size() < a.maxBytes {
		return
	}
	os.Rename(a.path, a.path+".1")
}
