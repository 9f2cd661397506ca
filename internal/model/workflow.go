package model

import "time"

// ReviewWorkflow is the minimal workflow record the SLA engine operates on.
// The full review payload (diffs, comments) lives with the review system;
// Warden only needs identity, priority, status, and assignment.
type ReviewWorkflow struct {
	ID        string         `yaml:"id"`
	Title     string         `yaml:"title"`
	Priority  SlaPriority    `yaml:"priority"`
	Status    WorkflowStatus `yaml:"status"`
	Assignee  string         `yaml:"assignee,omitempty"`
	CreatedAt time.Time      `yaml:"created_at"`
	UpdatedAt time.Time      `yaml:"updated_at"`
}
