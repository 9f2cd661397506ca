package model

import "time"

// SlaPolicy is the deadline contract for one priority tier. Exactly one
// active policy exists per priority.
type SlaPolicy struct {
	Priority                   SlaPriority `yaml:"priority"`
	InitialResponseMinutes     int         `yaml:"initial_response_minutes"`
	CompletionMinutes          int         `yaml:"completion_minutes"`
	WarningThresholdPercent    int         `yaml:"warning_threshold_percent"`
	EscalationThresholdPercent int         `yaml:"escalation_threshold_percent"`
	EscalationEnabled          bool        `yaml:"escalation_enabled"`
	AutoReassignEnabled        bool        `yaml:"auto_reassign_enabled"`
	EscalationRecipients       []string    `yaml:"escalation_recipients,omitempty"`
	Active                     bool        `yaml:"is_active"`
}

// DefaultSlaPolicies seeds the standard four-tier deadline table.
func DefaultSlaPolicies() []SlaPolicy {
	mk := func(p SlaPriority, response, completion int) SlaPolicy {
		return SlaPolicy{
			Priority:                   p,
			InitialResponseMinutes:     response,
			CompletionMinutes:          completion,
			WarningThresholdPercent:    75,
			EscalationThresholdPercent: 100,
			EscalationEnabled:          true,
			AutoReassignEnabled:        true,
			Active:                     true,
		}
	}
	return []SlaPolicy{
		mk(PriorityCritical, 30, 180),
		mk(PriorityHigh, 60, 480),
		mk(PriorityMedium, 240, 1440),
		mk(PriorityLow, 480, 2880),
	}
}

// SlaTracking is the one-to-one deadline record for a review workflow.
// Created once at workflow creation; mutated by event handlers and the
// periodic breach sweep; never deleted.
type SlaTracking struct {
	WorkflowID     string      `yaml:"review_workflow_id"`
	PolicyPriority SlaPriority `yaml:"sla_policy_priority"`
	Status         SlaStatus   `yaml:"status"`

	StartedAt       time.Time  `yaml:"started_at"`
	FirstResponseAt *time.Time `yaml:"first_response_at,omitempty"`
	CompletedAt     *time.Time `yaml:"completed_at,omitempty"`

	InitialResponseDueAt time.Time `yaml:"initial_response_due_at"`
	CompletionDueAt      time.Time `yaml:"completion_due_at"`

	InitialResponseBreached bool `yaml:"initial_response_breached"`
	CompletionBreached      bool `yaml:"completion_breached"`
	BreachDurationMinutes   int  `yaml:"breach_duration_minutes"`

	WarningSentAt      *time.Time     `yaml:"warning_sent_at,omitempty"`
	EscalationSentAt   *time.Time     `yaml:"escalation_sent_at,omitempty"`
	EscalationCount    int            `yaml:"escalation_count"`
	LastEscalationType EscalationType `yaml:"last_escalation_type,omitempty"`

	TimeToFirstResponseMinutes *int    `yaml:"time_to_first_response_minutes,omitempty"`
	TimeToCompletionMinutes    *int    `yaml:"time_to_completion_minutes,omitempty"`
	ComplianceScore            float64 `yaml:"sla_compliance_score"`
}

// Completed reports whether the tracked workflow has finished; a completed
// record is frozen and takes no further transitions.
func (t *SlaTracking) Completed() bool {
	return t.CompletedAt != nil
}
