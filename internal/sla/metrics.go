package sla

import (
	"time"

	"github.com/apiforge/warden/internal/model"
)

// MetricsReport aggregates tracking records started within a window.
type MetricsReport struct {
	WindowDays               int               `yaml:"window_days"`
	Priority                 model.SlaPriority `yaml:"priority,omitempty"`
	TotalRecords             int               `yaml:"total_records"`
	ComplianceRate           float64           `yaml:"compliance_rate"`
	AverageResponseMinutes   float64           `yaml:"average_response_minutes"`
	AverageCompletionMinutes float64           `yaml:"average_completion_minutes"`
	AtRiskCount              int               `yaml:"at_risk_count"`
	BreachedCount            int               `yaml:"breached_count"`
	TotalEscalations         int               `yaml:"total_escalations"`
}

// Metrics computes the windowed aggregate. Priority narrows the window to
// one tier when non-empty. An empty window yields all-zero defaults rather
// than a division error.
func (s *Service) Metrics(days int, priority model.SlaPriority) (MetricsReport, error) {
	report := MetricsReport{WindowDays: days, Priority: priority}

	records, err := s.store.ListTracking()
	if err != nil {
		return report, err
	}

	cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	var (
		onTrack         int
		responseTotal   int
		responseCount   int
		completionTotal int
		completionCount int
	)

	for _, t := range records {
		if t.StartedAt.Before(cutoff) {
			continue
		}
		if priority != "" && t.PolicyPriority != priority {
			continue
		}

		report.TotalRecords++
		switch t.Status {
		case model.SlaStatusOnTrack:
			onTrack++
		case model.SlaStatusAtRisk:
			report.AtRiskCount++
		case model.SlaStatusBreached, model.SlaStatusEscalated:
			report.BreachedCount++
		}
		report.TotalEscalations += t.EscalationCount

		if t.TimeToFirstResponseMinutes != nil {
			responseTotal += *t.TimeToFirstResponseMinutes
			responseCount++
		}
		if t.TimeToCompletionMinutes != nil {
			completionTotal += *t.TimeToCompletionMinutes
			completionCount++
		}
	}

	if report.TotalRecords > 0 {
		report.ComplianceRate = float64(onTrack) / float64(report.TotalRecords)
	}
	if responseCount > 0 {
		report.AverageResponseMinutes = float64(responseTotal) / float64(responseCount)
	}
	if completionCount > 0 {
		report.AverageCompletionMinutes = float64(completionTotal) / float64(completionCount)
	}
	return report, nil
}
