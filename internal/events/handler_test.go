package events

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/notify"
	"github.com/apiforge/warden/internal/sla"
	"github.com/apiforge/warden/internal/store"
)

type nopNotifier struct{}

func (nopNotifier) Send(ctx context.Context, evt notify.Event) error { return nil }

type handlerFixture struct {
	handler  *Handler
	svc      *sla.Service
	store    *store.Store
	auditDir string
	base     time.Time
	clock    time.Time
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	st := store.New(t.TempDir())
	require.NoError(t, st.EnsureLayout())
	for _, p := range model.DefaultSlaPolicies() {
		require.NoError(t, st.SavePolicy(p))
	}

	auditDir := t.TempDir()
	audit, err := NewAuditLogger(auditDir, 0)
	require.NoError(t, err)

	f := &handlerFixture{
		store:    st,
		auditDir: auditDir,
		base:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.clock = f.base

	f.svc = sla.NewService(st, nopNotifier{}, nil, model.LogLevelError)
	f.svc.SetClock(func() time.Time { return f.clock })

	f.handler, err = NewHandler(f.svc, st, audit, nil, model.LogLevelError)
	require.NoError(t, err)
	f.handler.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *handlerFixture) createWorkflow(t *testing.T, id string) {
	t.Helper()
	ok := f.handler.HandleEvent(context.Background(), EventWorkflowCreated, map[string]interface{}{
		"workflow_id": id,
		"title":       "generated review",
		"priority":    "high",
		"assignee":    "dana",
		"created_at":  f.base.Format(time.RFC3339),
	})
	require.True(t, ok)
}

func TestHandleEvent_WorkflowCreatedInitializesTracking(t *testing.T) {
	f := newHandlerFixture(t)
	f.createWorkflow(t, "wf-1")

	wf, err := f.store.LoadWorkflow("wf-1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusPending, wf.Status)
	assert.Equal(t, model.PriorityHigh, wf.Priority)
	assert.Equal(t, "dana", wf.Assignee)

	tr, err := f.store.LoadTracking("wf-1")
	require.NoError(t, err)
	assert.Equal(t, model.SlaStatusOnTrack, tr.Status)
	assert.Equal(t, f.base.Add(60*time.Minute), tr.InitialResponseDueAt)
	assert.Equal(t, f.base.Add(480*time.Minute), tr.CompletionDueAt)
}

func TestHandleEvent_RejectsInvalidPayloads(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	// Missing required field.
	assert.False(t, f.handler.HandleEvent(ctx, EventWorkflowCreated, map[string]interface{}{
		"workflow_id": "wf-1",
	}))

	// Priority outside the enum.
	assert.False(t, f.handler.HandleEvent(ctx, EventWorkflowCreated, map[string]interface{}{
		"workflow_id": "wf-1",
		"priority":    "urgent",
	}))

	// Empty workflow id.
	assert.False(t, f.handler.HandleEvent(ctx, EventFirstComment, map[string]interface{}{
		"workflow_id": "",
	}))

	// Unknown event type.
	assert.False(t, f.handler.HandleEvent(ctx, EventType("workflow_exploded"), map[string]interface{}{
		"workflow_id": "wf-1",
	}))

	// Nothing was persisted along the way.
	_, err := f.store.LoadTracking("wf-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleEvent_FirstCommentRecordsResponse(t *testing.T) {
	f := newHandlerFixture(t)
	f.createWorkflow(t, "wf-1")

	f.clock = f.base.Add(12 * time.Minute)
	ok := f.handler.HandleEvent(context.Background(), EventFirstComment, map[string]interface{}{
		"workflow_id": "wf-1",
	})
	require.True(t, ok)

	tr, err := f.store.LoadTracking("wf-1")
	require.NoError(t, err)
	require.NotNil(t, tr.TimeToFirstResponseMinutes)
	assert.Equal(t, 12, *tr.TimeToFirstResponseMinutes)
}

func TestHandleEvent_ReviewerAssignedUpdatesWorkflow(t *testing.T) {
	f := newHandlerFixture(t)
	f.createWorkflow(t, "wf-1")

	f.clock = f.base.Add(5 * time.Minute)
	ok := f.handler.HandleEvent(context.Background(), EventReviewerAssigned, map[string]interface{}{
		"workflow_id": "wf-1",
		"reviewer":    "erin",
	})
	require.True(t, ok)

	wf, err := f.store.LoadWorkflow("wf-1")
	require.NoError(t, err)
	assert.Equal(t, "erin", wf.Assignee)
	assert.Equal(t, model.WorkflowStatusInReview, wf.Status)

	tr, err := f.store.LoadTracking("wf-1")
	require.NoError(t, err)
	assert.NotNil(t, tr.FirstResponseAt, "assignment counts as the first response")
}

func TestHandleEvent_TerminalStatusCompletesTracking(t *testing.T) {
	f := newHandlerFixture(t)
	f.createWorkflow(t, "wf-1")

	f.clock = f.base.Add(200 * time.Minute)
	ok := f.handler.HandleEvent(context.Background(), EventWorkflowStatusChanged, map[string]interface{}{
		"workflow_id": "wf-1",
		"new_status":  "approved",
	})
	require.True(t, ok)

	tr, err := f.store.LoadTracking("wf-1")
	require.NoError(t, err)
	assert.True(t, tr.Completed())
	assert.Equal(t, 100.0, tr.ComplianceScore)

	wf, err := f.store.LoadWorkflow("wf-1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusApproved, wf.Status)
}

func TestHandleEvent_NonTerminalStatusLeavesTrackingOpen(t *testing.T) {
	f := newHandlerFixture(t)
	f.createWorkflow(t, "wf-1")

	ok := f.handler.HandleEvent(context.Background(), EventWorkflowStatusChanged, map[string]interface{}{
		"workflow_id": "wf-1",
		"new_status":  "in_review",
	})
	require.True(t, ok)

	tr, err := f.store.LoadTracking("wf-1")
	require.NoError(t, err)
	assert.False(t, tr.Completed())
}

func TestHandleEvent_PriorityChangeKeepsDeadlines(t *testing.T) {
	f := newHandlerFixture(t)
	f.createWorkflow(t, "wf-1")

	before, err := f.store.LoadTracking("wf-1")
	require.NoError(t, err)

	ok := f.handler.HandleEvent(context.Background(), EventWorkflowPriorityChange, map[string]interface{}{
		"workflow_id":  "wf-1",
		"new_priority": "critical",
	})
	require.True(t, ok)

	after, err := f.store.LoadTracking("wf-1")
	require.NoError(t, err)
	assert.Equal(t, before.InitialResponseDueAt, after.InitialResponseDueAt)
	assert.Equal(t, before.CompletionDueAt, after.CompletionDueAt)
	assert.Equal(t, before.PolicyPriority, after.PolicyPriority)
}

func TestHandleEvent_BreachEventTriggersRecheck(t *testing.T) {
	f := newHandlerFixture(t)
	f.createWorkflow(t, "wf-1")

	f.clock = f.base.Add(500 * time.Minute)
	ok := f.handler.HandleEvent(context.Background(), EventSlaBreachWarning, map[string]interface{}{
		"workflow_id": "wf-1",
	})
	require.True(t, ok)

	tr, err := f.store.LoadTracking("wf-1")
	require.NoError(t, err)
	assert.Equal(t, model.SlaStatusBreached, tr.Status)
}

func TestHandleEvent_WritesAuditTrail(t *testing.T) {
	f := newHandlerFixture(t)
	f.createWorkflow(t, "wf-1")

	data, err := os.ReadFile(filepath.Join(f.auditDir, "events.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_type":"review_workflow_created"`)
	assert.Contains(t, string(data), `"workflow_id":"wf-1"`)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestAuditLogger_RotatesPastLimit(t *testing.T) {
	dir := t.TempDir()
	audit, err := NewAuditLogger(dir, 0)
	require.NoError(t, err)
	audit.maxBytes = 64

	for i := 0; i < 5; i++ {
		audit.Record("file_validated", "wf-1", map[string]interface{}{"pass": i})
	}

	_, err = os.Stat(filepath.Join(dir, "events.jsonl.1"))
	assert.NoError(t, err, "expected a rotated generation")
}
