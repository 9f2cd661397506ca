package model

import "time"

// Metric names tracked by snapshots, alert conditions, and trend analysis.
const (
	MetricSyntaxErrorRate     = "syntax_error_rate"
	MetricAverageQualityScore = "average_quality_score"
	MetricQuarantineRate      = "quarantine_rate"
	MetricRecoverySuccessRate = "recovery_success_rate"
)

// QualitySnapshot is one fleet-wide metrics collection run. Append-only
// time series, one record per run.
type QualitySnapshot struct {
	Timestamp           time.Time          `yaml:"timestamp"`
	TotalFiles          int                `yaml:"total_files"`
	SyntaxErrorRate     float64            `yaml:"syntax_error_rate"`
	AverageQualityScore float64            `yaml:"average_quality_score"`
	QualityDistribution map[Grade]int      `yaml:"quality_distribution"`
	QuarantineRate      float64            `yaml:"quarantine_rate"`
	RecoverySuccessRate float64            `yaml:"recovery_success_rate"`
	ReviewEfficiency    map[string]float64 `yaml:"review_efficiency,omitempty"`
}

// Metric returns a snapshot value by metric name.
func (s QualitySnapshot) Metric(name string) (float64, bool) {
	switch name {
	case MetricSyntaxErrorRate:
		return s.SyntaxErrorRate, true
	case MetricAverageQualityScore:
		return s.AverageQualityScore, true
	case MetricQuarantineRate:
		return s.QuarantineRate, true
	case MetricRecoverySuccessRate:
		return s.RecoverySuccessRate, true
	default:
		return 0, false
	}
}

// AlertCondition is static alert configuration evaluated against each new
// snapshot.
type AlertCondition struct {
	MetricName     string        `yaml:"metric_name"`
	ThresholdType  ThresholdType `yaml:"threshold_type"`
	ThresholdValue float64       `yaml:"threshold_value"`
	Severity       Severity      `yaml:"severity"`
	Enabled        bool          `yaml:"enabled"`
}

// DefaultAlertConditions returns the stock alert table.
func DefaultAlertConditions() []AlertCondition {
	return []AlertCondition{
		{MetricName: MetricSyntaxErrorRate, ThresholdType: ThresholdAbove, ThresholdValue: 5, Severity: SeverityCritical, Enabled: true},
		{MetricName: MetricAverageQualityScore, ThresholdType: ThresholdBelow, ThresholdValue: 80, Severity: SeverityHigh, Enabled: true},
		{MetricName: MetricQuarantineRate, ThresholdType: ThresholdAbove, ThresholdValue: 10, Severity: SeverityHigh, Enabled: true},
		{MetricName: MetricRecoverySuccessRate, ThresholdType: ThresholdBelow, ThresholdValue: 70, Severity: SeverityMedium, Enabled: true},
	}
}

// QualityAlert is a persisted alert occurrence, unresolved by default.
type QualityAlert struct {
	ID             string        `yaml:"id"`
	MetricName     string        `yaml:"metric_name"`
	ThresholdType  ThresholdType `yaml:"threshold_type"`
	ThresholdValue float64       `yaml:"threshold_value"`
	ObservedValue  float64       `yaml:"observed_value"`
	Severity       Severity      `yaml:"severity"`
	TriggeredAt    time.Time     `yaml:"triggered_at"`
	Resolved       bool          `yaml:"resolved"`
	ResolvedAt     *time.Time    `yaml:"resolved_at,omitempty"`
}

// RecoveryRunReport is the persisted outcome of one quarantine recovery
// pass.
type RecoveryRunReport struct {
	Timestamp    time.Time `yaml:"timestamp"`
	Processed    int       `yaml:"processed"`
	Recovered    int       `yaml:"recovered"`
	Failed       int       `yaml:"failed"`
	ManualReview int       `yaml:"manual_review"`
}
