package quarantine

import (
	"time"

	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/quality"
)

// Metadata is the side-car record written next to every quarantined
// artifact, keyed by artifact filename under {root}/metadata/. It is mutated
// in place on each recovery attempt and stays with the artifact until it is
// recovered or permanently failed.
type Metadata struct {
	OriginalPath     string                `yaml:"original_path"`
	QuarantinedAt    time.Time             `yaml:"quarantined_at"`
	Reason           quality.IssueCategory `yaml:"quarantine_reason"`
	Issues           []quality.Issue       `yaml:"quality_issues,omitempty"`
	APIEndpoint      string                `yaml:"api_endpoint,omitempty"`
	GenerationConfig map[string]string     `yaml:"generation_config,omitempty"`

	Tier         model.QuarantineTier `yaml:"priority_level"`
	AutoRecovery bool                 `yaml:"auto_recovery"`

	RecoveryAttempts    int        `yaml:"recovery_attempts"`
	LastRecoveryAttempt *time.Time `yaml:"last_recovery_attempt,omitempty"`
	RecoveryNotes       []string   `yaml:"recovery_notes,omitempty"`
	RecoveredScore      float64    `yaml:"recovered_score,omitempty"`
	ManualReview        bool       `yaml:"manual_review"`
}

// quarantineReason picks the primary issue category: first critical, else
// first high, else the generic below-threshold tag.
func quarantineReason(result *quality.Result) quality.IssueCategory {
	if issue, ok := result.FirstIssue(model.SeverityCritical); ok {
		return issue.Category
	}
	if issue, ok := result.FirstIssue(model.SeverityHigh); ok {
		return issue.Category
	}
	return quality.CategoryBelowThreshold
}

// quarantineTier classifies urgency from issue severities.
func quarantineTier(result *quality.Result) model.QuarantineTier {
	highs := result.CountSeverity(model.SeverityHigh)
	switch {
	case result.HasSeverity(model.SeverityCritical) || highs > 2:
		return model.TierHigh
	case highs >= 1:
		return model.TierMedium
	default:
		return model.TierLow
	}
}
