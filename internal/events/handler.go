package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/sla"
	"github.com/apiforge/warden/internal/store"
)

// Payload schemas, one per routed event type. Validation happens before any
// dispatch so a malformed event never reaches the SLA service.
var payloadSchemas = map[EventType]string{
	EventWorkflowCreated: `{
		"type": "object",
		"required": ["workflow_id", "priority"],
		"properties": {
			"workflow_id": {"type": "string", "minLength": 1},
			"title":       {"type": "string"},
			"priority":    {"type": "string", "enum": ["low", "medium", "high", "critical"]},
			"assignee":    {"type": "string"},
			"created_at":  {"type": "string", "format": "date-time"}
		}
	}`,
	EventReviewerAssigned: `{
		"type": "object",
		"required": ["workflow_id"],
		"properties": {
			"workflow_id": {"type": "string", "minLength": 1},
			"reviewer":    {"type": "string"}
		}
	}`,
	EventFirstComment: `{
		"type": "object",
		"required": ["workflow_id"],
		"properties": {
			"workflow_id": {"type": "string", "minLength": 1}
		}
	}`,
	EventWorkflowStatusChanged: `{
		"type": "object",
		"required": ["workflow_id", "new_status"],
		"properties": {
			"workflow_id": {"type": "string", "minLength": 1},
			"new_status":  {"type": "string", "enum": ["pending", "in_review", "approved", "rejected", "cancelled"]}
		}
	}`,
	EventWorkflowPriorityChange: `{
		"type": "object",
		"required": ["workflow_id", "new_priority"],
		"properties": {
			"workflow_id":  {"type": "string", "minLength": 1},
			"new_priority": {"type": "string", "enum": ["low", "medium", "high", "critical"]}
		}
	}`,
	EventSlaBreachWarning: `{
		"type": "object",
		"required": ["workflow_id"],
		"properties": {
			"workflow_id": {"type": "string", "minLength": 1}
		}
	}`,
	EventSlaBreachEscalation: `{
		"type": "object",
		"required": ["workflow_id"],
		"properties": {
			"workflow_id": {"type": "string", "minLength": 1}
		}
	}`,
}

// Handler maps named events to SLA service calls. It owns workflow record
// upkeep (the SLA service reads workflows, the handler writes them).
type Handler struct {
	svc      *sla.Service
	store    *store.Store
	audit    *AuditLogger
	schemas  map[EventType]*jsonschema.Schema
	logger   *log.Logger
	logLevel model.LogLevel
	now      func() time.Time
}

func NewHandler(svc *sla.Service, st *store.Store, audit *AuditLogger, logger *log.Logger, level model.LogLevel) (*Handler, error) {
	schemas := make(map[EventType]*jsonschema.Schema, len(payloadSchemas))
	for evtType, raw := range payloadSchemas {
		schema, err := jsonschema.CompileString(string(evtType)+".json", raw)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", evtType, err)
		}
		schemas[evtType] = schema
	}
	return &Handler{
		svc:      svc,
		store:    st,
		audit:    audit,
		schemas:  schemas,
		logger:   logger,
		logLevel: level,
		now:      time.Now,
	}, nil
}

// SetClock overrides the time source (used in tests).
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// AttachTo subscribes the handler to every SLA-relevant event type on the
// bus. Returns a detach function.
func (h *Handler) AttachTo(bus *Bus) func() {
	var unsubs []func()
	for evtType := range payloadSchemas {
		unsubs = append(unsubs, bus.Subscribe(evtType, func(evt Event) {
			h.HandleEvent(context.Background(), evt.Type, evt.Data)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// HandleEvent validates and routes one event. Returns false, with a logged
// error, on an unknown event type, a payload that fails validation, or a
// dispatch failure.
func (h *Handler) HandleEvent(ctx context.Context, eventType EventType, payload map[string]interface{}) bool {
	schema, ok := h.schemas[eventType]
	if !ok {
		h.log(model.LogLevelError, "unknown_event type=%s", eventType)
		return false
	}
	if err := schema.Validate(normalize(payload)); err != nil {
		h.log(model.LogLevelError, "invalid_payload type=%s error=%v", eventType, err)
		return false
	}

	workflowID, _ := payload["workflow_id"].(string)
	err := h.dispatch(ctx, eventType, workflowID, payload)
	if err != nil {
		h.log(model.LogLevelError, "dispatch_failed type=%s workflow=%s error=%v", eventType, workflowID, err)
		return false
	}

	if h.audit != nil {
		h.audit.Record(string(eventType), workflowID, payload)
	}
	return true
}

func (h *Handler) dispatch(ctx context.Context, eventType EventType, workflowID string, payload map[string]interface{}) error {
	switch eventType {
	case EventWorkflowCreated:
		return h.handleWorkflowCreated(ctx, workflowID, payload)

	case EventReviewerAssigned:
		if reviewer, ok := payload["reviewer"].(string); ok && reviewer != "" {
			if wf, err := h.store.LoadWorkflow(workflowID); err == nil {
				wf.Assignee = reviewer
				wf.Status = model.WorkflowStatusInReview
				wf.UpdatedAt = h.now().UTC()
				if err := h.store.SaveWorkflow(wf); err != nil {
					return err
				}
			}
		}
		return h.svc.UpdateTracking(ctx, workflowID, sla.UpdateReviewerAssigned)

	case EventFirstComment:
		return h.svc.UpdateTracking(ctx, workflowID, sla.UpdateFirstResponse)

	case EventWorkflowStatusChanged:
		return h.handleStatusChanged(ctx, workflowID, payload)

	case EventWorkflowPriorityChange:
		// Deadlines are not recomputed on priority change; record only.
		newPriority, _ := payload["new_priority"].(string)
		h.log(model.LogLevelInfo, "priority_changed workflow=%s new_priority=%s (deadlines unchanged)",
			workflowID, newPriority)
		return nil

	case EventSlaBreachWarning, EventSlaBreachEscalation:
		return h.svc.Recheck(ctx, workflowID)

	default:
		return fmt.Errorf("no route for event type %s", eventType)
	}
}

func (h *Handler) handleWorkflowCreated(ctx context.Context, workflowID string, payload map[string]interface{}) error {
	now := h.now().UTC()
	createdAt := now
	if raw, ok := payload["created_at"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			createdAt = parsed.UTC()
		}
	}

	title, _ := payload["title"].(string)
	assignee, _ := payload["assignee"].(string)
	priority := model.SlaPriority(payload["priority"].(string))

	wf := &model.ReviewWorkflow{
		ID:        workflowID,
		Title:     title,
		Priority:  priority,
		Status:    model.WorkflowStatusPending,
		Assignee:  assignee,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	if err := h.store.SaveWorkflow(wf); err != nil {
		return err
	}

	_, err := h.svc.InitializeTracking(ctx, workflowID)
	return err
}

func (h *Handler) handleStatusChanged(ctx context.Context, workflowID string, payload map[string]interface{}) error {
	newStatus := model.WorkflowStatus(payload["new_status"].(string))

	if wf, err := h.store.LoadWorkflow(workflowID); err == nil {
		wf.Status = newStatus
		wf.UpdatedAt = h.now().UTC()
		if err := h.store.SaveWorkflow(wf); err != nil {
			return err
		}
	}

	if !model.IsWorkflowTerminal(newStatus) {
		h.log(model.LogLevelDebug, "status_changed workflow=%s status=%s (non-terminal)", workflowID, newStatus)
		return nil
	}
	return h.svc.UpdateTracking(ctx, workflowID, sla.UpdateWorkflowCompleted)
}

// normalize converts payload values the schema validator does not accept
// natively (ints arrive as int from in-process publishers, not float64).
func normalize(payload map[string]interface{}) interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}

func (h *Handler) log(level model.LogLevel, format string, args ...any) {
	if level < h.logLevel || h.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	h.logger.Printf("%s %s events: %s", time.Now().Format(time.RFC3339), level, msg)
}
