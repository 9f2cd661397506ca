package model

import "fmt"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities for "worst issue first" selection.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

type Grade string

const (
	GradeExcellent    Grade = "excellent"
	GradeGood         Grade = "good"
	GradeAcceptable   Grade = "acceptable"
	GradePoor         Grade = "poor"
	GradeUnacceptable Grade = "unacceptable"
)

// Grade band thresholds shared by scoring and report health labels.
const (
	ThresholdExcellent  = 90.0
	ThresholdGood       = 75.0
	ThresholdAcceptable = 60.0
	ThresholdPoor       = 40.0
)

// PassingScore is the minimum overall score for a validation to pass.
const PassingScore = ThresholdAcceptable

func GradeForScore(score float64) Grade {
	switch {
	case score >= ThresholdExcellent:
		return GradeExcellent
	case score >= ThresholdGood:
		return GradeGood
	case score >= ThresholdAcceptable:
		return GradeAcceptable
	case score >= ThresholdPoor:
		return GradePoor
	default:
		return GradeUnacceptable
	}
}

type SlaStatus string

const (
	SlaStatusOnTrack   SlaStatus = "on_track"
	SlaStatusAtRisk    SlaStatus = "at_risk"
	SlaStatusBreached  SlaStatus = "breached"
	SlaStatusEscalated SlaStatus = "escalated"
)

// SLA status only worsens within an evaluation; completion freezes it.
var validSlaTransitions = map[SlaStatus]map[SlaStatus]bool{
	SlaStatusOnTrack: {
		SlaStatusAtRisk:    true,
		SlaStatusBreached:  true,
		SlaStatusEscalated: true,
	},
	SlaStatusAtRisk: {
		SlaStatusBreached:  true,
		SlaStatusEscalated: true,
	},
	SlaStatusBreached: {
		SlaStatusEscalated: true,
	},
}

func ValidateSlaTransition(from, to SlaStatus) error {
	if from == to {
		return nil
	}
	allowed, ok := validSlaTransitions[from]
	if !ok {
		return fmt.Errorf("cannot transition from SLA status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid SLA transition: %q → %q", from, to)
	}
	return nil
}

type SlaPriority string

const (
	PriorityLow      SlaPriority = "low"
	PriorityMedium   SlaPriority = "medium"
	PriorityHigh     SlaPriority = "high"
	PriorityCritical SlaPriority = "critical"
)

var validPriorities = map[SlaPriority]bool{
	PriorityLow:      true,
	PriorityMedium:   true,
	PriorityHigh:     true,
	PriorityCritical: true,
}

func ValidatePriority(p SlaPriority) error {
	if !validPriorities[p] {
		return fmt.Errorf("unknown SLA priority %q", p)
	}
	return nil
}

type EscalationType string

const (
	EscalationWarning  EscalationType = "warning"
	EscalationStandard EscalationType = "escalation"
	EscalationCritical EscalationType = "critical_escalation"
)

type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusInReview  WorkflowStatus = "in_review"
	WorkflowStatusApproved  WorkflowStatus = "approved"
	WorkflowStatusRejected  WorkflowStatus = "rejected"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

var terminalWorkflowStatuses = map[WorkflowStatus]bool{
	WorkflowStatusApproved:  true,
	WorkflowStatusRejected:  true,
	WorkflowStatusCancelled: true,
}

func IsWorkflowTerminal(s WorkflowStatus) bool {
	return terminalWorkflowStatuses[s]
}

type QuarantineTier string

const (
	TierHigh   QuarantineTier = "high"
	TierMedium QuarantineTier = "medium"
	TierLow    QuarantineTier = "low"
)

// TiersByPriority lists quarantine tiers in processing order.
var TiersByPriority = []QuarantineTier{TierHigh, TierMedium, TierLow}

type ThresholdType string

const (
	ThresholdAbove ThresholdType = "above"
	ThresholdBelow ThresholdType = "below"
)

type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)
