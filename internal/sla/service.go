// Package sla tracks review-workflow deadlines against priority policies,
// detects warning and breach conditions, and drives escalation.
package sla

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/apiforge/warden/internal/lock"
	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/notify"
	"github.com/apiforge/warden/internal/store"
)

// Event types routed through UpdateTracking.
const (
	UpdateFirstResponse     = "first_response"
	UpdateReviewerAssigned  = "reviewer_assigned"
	UpdateWorkflowCompleted = "workflow_completed"
)

// Notification event types emitted on escalation.
const (
	notifyBreachWarning    = "sla_breach_warning"
	notifyBreachEscalation = "sla_breach_escalation"
)

// Notifier is the outbound notification boundary. *notify.Fanout satisfies
// it; tests substitute a recorder.
type Notifier interface {
	Send(ctx context.Context, evt notify.Event) error
}

// Transition is one status change observed during a breach sweep.
type Transition struct {
	WorkflowID string
	From       model.SlaStatus
	To         model.SlaStatus
	At         time.Time
}

// Service is the deadline state machine. All mutations of a tracking record
// go through a per-workflow lock so an event-driven update and the periodic
// sweep cannot interleave their read-modify-write cycles.
type Service struct {
	store    *store.Store
	notifier Notifier
	locks    *lock.MutexMap
	logger   *log.Logger
	logLevel model.LogLevel
	now      func() time.Time
}

func NewService(st *store.Store, notifier Notifier, logger *log.Logger, level model.LogLevel) *Service {
	return &Service{
		store:    st,
		notifier: notifier,
		locks:    lock.NewMutexMap(),
		logger:   logger,
		logLevel: level,
		now:      time.Now,
	}
}

// SetClock overrides the time source (used in tests).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// InitializeTracking creates the tracking record for a workflow, computing
// both due times from the workflow's creation time and the active policy for
// its priority. Idempotent: an existing record is returned unchanged.
func (s *Service) InitializeTracking(ctx context.Context, workflowID string) (*model.SlaTracking, error) {
	s.locks.Lock(workflowID)
	defer s.locks.Unlock(workflowID)

	if existing, err := s.store.LoadTracking(workflowID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	wf, err := s.store.LoadWorkflow(workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow for tracking: %w", err)
	}
	policy, err := s.store.LoadPolicy(wf.Priority)
	if err != nil {
		return nil, fmt.Errorf("no active policy for priority %s: %w", wf.Priority, err)
	}

	t := &model.SlaTracking{
		WorkflowID:           workflowID,
		PolicyPriority:       policy.Priority,
		Status:               model.SlaStatusOnTrack,
		StartedAt:            wf.CreatedAt,
		InitialResponseDueAt: wf.CreatedAt.Add(time.Duration(policy.InitialResponseMinutes) * time.Minute),
		CompletionDueAt:      wf.CreatedAt.Add(time.Duration(policy.CompletionMinutes) * time.Minute),
	}
	if err := s.store.SaveTracking(t); err != nil {
		return nil, err
	}
	s.log(model.LogLevelInfo, "tracking_initialized workflow=%s priority=%s completion_due=%s",
		workflowID, policy.Priority, t.CompletionDueAt.Format(time.RFC3339))
	return t, nil
}

// UpdateTracking routes an SLA-relevant event to the matching mutation. Each
// branch is idempotent: setting an already-set timestamp is a no-op for that
// field. After any mutation the status is recomputed and breach handling runs.
func (s *Service) UpdateTracking(ctx context.Context, workflowID, eventType string) error {
	switch eventType {
	case UpdateFirstResponse, UpdateReviewerAssigned:
		return s.recordFirstResponse(ctx, workflowID)
	case UpdateWorkflowCompleted:
		return s.recordCompletion(ctx, workflowID)
	default:
		return fmt.Errorf("unknown tracking event type %q", eventType)
	}
}

func (s *Service) recordFirstResponse(ctx context.Context, workflowID string) error {
	s.locks.Lock(workflowID)
	defer s.locks.Unlock(workflowID)

	t, err := s.store.LoadTracking(workflowID)
	if err != nil {
		return err
	}
	if t.Completed() {
		return nil
	}

	now := s.now().UTC()
	if t.FirstResponseAt == nil {
		t.FirstResponseAt = &now
		mins := wholeMinutes(now.Sub(t.StartedAt))
		t.TimeToFirstResponseMinutes = &mins
		s.log(model.LogLevelInfo, "first_response workflow=%s minutes=%d", workflowID, mins)
	}

	return s.finishUpdate(ctx, t, now)
}

func (s *Service) recordCompletion(ctx context.Context, workflowID string) error {
	s.locks.Lock(workflowID)
	defer s.locks.Unlock(workflowID)

	t, err := s.store.LoadTracking(workflowID)
	if err != nil {
		return err
	}
	if t.Completed() {
		return nil
	}

	policy, err := s.store.LoadPolicy(t.PolicyPriority)
	if err != nil {
		return fmt.Errorf("no active policy for priority %s: %w", t.PolicyPriority, err)
	}

	now := s.now().UTC()
	if t.FirstResponseAt == nil && now.After(t.InitialResponseDueAt) {
		t.InitialResponseBreached = true
		t.Status = model.SlaStatusBreached
	}
	t.CompletedAt = &now
	mins := wholeMinutes(now.Sub(t.StartedAt))
	t.TimeToCompletionMinutes = &mins

	if now.After(t.CompletionDueAt) {
		t.CompletionBreached = true
		t.BreachDurationMinutes = wholeMinutes(now.Sub(t.CompletionDueAt))
		t.Status = model.SlaStatusBreached
	}
	t.ComplianceScore = complianceScore(mins, policy.CompletionMinutes)

	// The record freezes after this save and the sweep skips completed
	// records, so a breach detected here is the last chance to escalate it.
	if err := s.checkAndHandleBreaches(ctx, t, policy, now); err != nil {
		s.log(model.LogLevelWarn, "escalation_check_failed workflow=%s error=%v", workflowID, err)
	}

	s.log(model.LogLevelInfo, "completed workflow=%s minutes=%d compliance=%.1f breached=%v",
		workflowID, mins, t.ComplianceScore, t.CompletionBreached)
	return s.store.SaveTracking(t)
}

// finishUpdate recomputes status and runs escalation checks, then persists.
// Caller holds the per-workflow lock.
func (s *Service) finishUpdate(ctx context.Context, t *model.SlaTracking, now time.Time) error {
	policy, err := s.store.LoadPolicy(t.PolicyPriority)
	if err != nil {
		return fmt.Errorf("no active policy for priority %s: %w", t.PolicyPriority, err)
	}
	s.recomputeStatus(t, policy, now)
	if err := s.checkAndHandleBreaches(ctx, t, policy, now); err != nil {
		s.log(model.LogLevelWarn, "escalation_check_failed workflow=%s error=%v", t.WorkflowID, err)
	}
	return s.store.SaveTracking(t)
}

// recomputeStatus applies the two deadline checks in order. The completion
// check writes last, so it can overwrite the response check's result within
// one pass: the completion deadline dominates once both fire. At-risk from
// the completion side only applies while the record is still on track, so no
// pass ever downgrades a status.
func (s *Service) recomputeStatus(t *model.SlaTracking, policy *model.SlaPolicy, now time.Time) {
	if t.Completed() {
		return
	}

	if t.FirstResponseAt == nil {
		if now.After(t.InitialResponseDueAt) {
			t.Status = model.SlaStatusBreached
			t.InitialResponseBreached = true
		} else if now.After(warningPoint(t.InitialResponseDueAt, policy.InitialResponseMinutes, policy.WarningThresholdPercent)) {
			t.Status = model.SlaStatusAtRisk
		}
	}

	if now.After(t.CompletionDueAt) {
		t.Status = model.SlaStatusBreached
		t.CompletionBreached = true
		t.BreachDurationMinutes = wholeMinutes(now.Sub(t.CompletionDueAt))
	} else if now.After(warningPoint(t.CompletionDueAt, policy.CompletionMinutes, policy.WarningThresholdPercent)) &&
		t.Status == model.SlaStatusOnTrack {
		t.Status = model.SlaStatusAtRisk
	}
}

// warningPoint is the instant at which the warning threshold is crossed:
// the due time minus the unwarned tail of the allowance.
func warningPoint(dueAt time.Time, allowanceMinutes, warningPercent int) time.Time {
	tail := float64(allowanceMinutes) * float64(100-warningPercent) / 100
	return dueAt.Add(-time.Duration(tail * float64(time.Minute)))
}

// complianceScore applies a linear penalty proportional to overage, clamped
// to [0,100]. On-time completion scores 100; double the allowance scores 0.
func complianceScore(actualMinutes, completionMinutes int) float64 {
	if completionMinutes <= 0 {
		return 0
	}
	overage := actualMinutes - completionMinutes
	if overage < 0 {
		overage = 0
	}
	score := 100 * float64(completionMinutes-overage) / float64(completionMinutes)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// CheckBreaches is the periodic sweep: recomputes every live tracking record
// and returns the transitions that occurred, not a dump of current state.
// Per-record failures are logged and skipped so one bad record cannot stall
// the sweep.
func (s *Service) CheckBreaches(ctx context.Context) ([]Transition, error) {
	records, err := s.store.ListTracking()
	if err != nil {
		return nil, err
	}

	var transitions []Transition
	for _, rec := range records {
		if rec.Completed() {
			continue
		}
		if wf, err := s.store.LoadWorkflow(rec.WorkflowID); err == nil && model.IsWorkflowTerminal(wf.Status) {
			continue
		}

		tr, err := s.recheckOne(ctx, rec.WorkflowID)
		if err != nil {
			s.log(model.LogLevelWarn, "sweep_record_failed workflow=%s error=%v", rec.WorkflowID, err)
			continue
		}
		if tr != nil {
			transitions = append(transitions, *tr)
		}
	}

	s.log(model.LogLevelDebug, "sweep_done records=%d transitions=%d", len(records), len(transitions))
	return transitions, nil
}

// Recheck recomputes a single workflow's tracking status and runs breach
// handling. Used by the breach-event routes and by operator commands.
func (s *Service) Recheck(ctx context.Context, workflowID string) error {
	_, err := s.recheckOne(ctx, workflowID)
	return err
}

func (s *Service) recheckOne(ctx context.Context, workflowID string) (*Transition, error) {
	s.locks.Lock(workflowID)
	defer s.locks.Unlock(workflowID)

	t, err := s.store.LoadTracking(workflowID)
	if err != nil {
		return nil, err
	}
	if t.Completed() {
		return nil, nil
	}

	before := t.Status
	now := s.now().UTC()
	if err := s.finishUpdate(ctx, t, now); err != nil {
		return nil, err
	}
	if t.Status == before {
		return nil, nil
	}
	return &Transition{WorkflowID: workflowID, From: before, To: t.Status, At: now}, nil
}

// checkAndHandleBreaches applies the escalation trigger policy: a warning
// exactly once while at risk, an escalation exactly once after a breach,
// upgraded to a critical escalation when the breach has run past an hour.
// Caller holds the per-workflow lock; the mutated record is persisted by the
// caller.
func (s *Service) checkAndHandleBreaches(ctx context.Context, t *model.SlaTracking, policy *model.SlaPolicy, now time.Time) error {
	if !policy.EscalationEnabled {
		return nil
	}

	switch {
	case t.Status == model.SlaStatusAtRisk && t.WarningSentAt == nil:
		return s.handleEscalation(ctx, t, policy, model.EscalationWarning, now)
	case t.Status == model.SlaStatusBreached && t.EscalationSentAt == nil:
		escType := model.EscalationStandard
		if t.BreachDurationMinutes > 60 {
			escType = model.EscalationCritical
		}
		return s.handleEscalation(ctx, t, policy, escType, now)
	}
	return nil
}

// handleEscalation records the escalation on the tracking record, notifies
// all channels, and for non-warning escalations reassigns the workflow
// round-robin over the policy's recipients. An empty recipient list skips
// reassignment silently.
func (s *Service) handleEscalation(ctx context.Context, t *model.SlaTracking, policy *model.SlaPolicy, escType model.EscalationType, now time.Time) error {
	t.EscalationCount++
	t.LastEscalationType = escType
	if escType == model.EscalationWarning {
		t.WarningSentAt = &now
	} else {
		t.EscalationSentAt = &now
	}

	evtType := notifyBreachEscalation
	if escType == model.EscalationWarning {
		evtType = notifyBreachWarning
	}
	evt := notify.Event{
		Type:      evtType,
		Priority:  t.PolicyPriority,
		Timestamp: now,
		Payload: map[string]any{
			"review_workflow_id":      t.WorkflowID,
			"escalation_type":         string(escType),
			"status":                  string(t.Status),
			"completion_due_at":       t.CompletionDueAt.Format(time.RFC3339),
			"breach_duration_minutes": t.BreachDurationMinutes,
		},
	}
	if err := s.notifier.Send(ctx, evt); err != nil {
		s.log(model.LogLevelWarn, "escalation_notify_failed workflow=%s error=%v", t.WorkflowID, err)
	}
	s.log(model.LogLevelInfo, "escalation workflow=%s type=%s count=%d", t.WorkflowID, escType, t.EscalationCount)

	if escType == model.EscalationWarning || !policy.AutoReassignEnabled {
		return nil
	}
	return s.reassign(t, policy, now)
}

func (s *Service) reassign(t *model.SlaTracking, policy *model.SlaPolicy, now time.Time) error {
	if len(policy.EscalationRecipients) == 0 {
		s.log(model.LogLevelWarn, "reassign_skipped workflow=%s reason=no_recipients", t.WorkflowID)
		return nil
	}

	wf, err := s.store.LoadWorkflow(t.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow for reassignment: %w", err)
	}
	next := policy.EscalationRecipients[t.EscalationCount%len(policy.EscalationRecipients)]
	previous := wf.Assignee
	wf.Assignee = next
	wf.UpdatedAt = now
	if err := s.store.SaveWorkflow(wf); err != nil {
		return fmt.Errorf("save reassigned workflow: %w", err)
	}
	s.log(model.LogLevelInfo, "reassigned workflow=%s from=%s to=%s", t.WorkflowID, previous, next)
	return nil
}

func wholeMinutes(d time.Duration) int {
	return int(d.Minutes())
}

func (s *Service) log(level model.LogLevel, format string, args ...any) {
	if level < s.logLevel || s.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s %s sla: %s", time.Now().Format(time.RFC3339), level, msg)
}
