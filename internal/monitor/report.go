package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/quality"
)

// CategoryCount is one entry of the top-issues table.
type CategoryCount struct {
	Category quality.IssueCategory `yaml:"category"`
	Count    int                   `yaml:"count"`
}

// Report is the composed quality report for one period.
type Report struct {
	GeneratedAt      time.Time             `yaml:"generated_at"`
	Period           string                `yaml:"period"`
	WindowDays       int                   `yaml:"window_days"`
	Snapshot         model.QualitySnapshot `yaml:"snapshot"`
	Trends           []Trend               `yaml:"trends,omitempty"`
	UnresolvedAlerts []model.QualityAlert  `yaml:"unresolved_alerts,omitempty"`
	TopIssues        []CategoryCount       `yaml:"top_issues,omitempty"`
	Recommendations  []string              `yaml:"recommendations,omitempty"`
	HealthScore      float64               `yaml:"health_score"`
	HealthStatus     model.Grade           `yaml:"health_status"`
}

// GenerateReport composes current metrics, trends over the period window
// (7 days for "week", 30 otherwise), unresolved alerts, and the top issue
// categories into a single report with a blended health score.
func (m *Monitor) GenerateReport(ctx context.Context, period string) (*Report, error) {
	days := 30
	if period == "week" {
		days = 7
	}

	snap, err := m.Collect(ctx)
	if err != nil {
		return nil, err
	}
	trends, err := m.AnalyzeTrends(days)
	if err != nil {
		return nil, err
	}
	alerts, err := m.store.ListAlerts(true)
	if err != nil {
		return nil, err
	}
	topIssues, err := m.scanIssueCategories(ctx)
	if err != nil {
		return nil, err
	}

	health := healthScore(*snap)
	report := &Report{
		GeneratedAt:      m.now().UTC(),
		Period:           period,
		WindowDays:       days,
		Snapshot:         *snap,
		Trends:           trends,
		UnresolvedAlerts: alerts,
		TopIssues:        topIssues,
		Recommendations:  recommendations(*snap, trends, topIssues),
		HealthScore:      health,
		HealthStatus:     model.GradeForScore(health),
	}
	return report, nil
}

// healthScore blends four normalized components, each clamped to [0,100],
// into a single 0-100 average. Error and quarantine rates are amplified so
// small percentages register.
func healthScore(snap model.QualitySnapshot) float64 {
	components := []float64{
		clamp100(snap.AverageQualityScore),
		clamp100(100 - snap.SyntaxErrorRate*5),
		clamp100(100 - snap.QuarantineRate*3),
		clamp100(snap.RecoverySuccessRate),
	}
	sum := 0.0
	for _, c := range components {
		sum += c
	}
	return sum / float64(len(components))
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// scanIssueCategories tallies issue categories across the collection, most
// frequent first, capped at five entries.
func (m *Monitor) scanIssueCategories(ctx context.Context) ([]CategoryCount, error) {
	entries, err := os.ReadDir(m.collectionDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read collection dir: %w", err)
	}

	counts := make(map[quality.IssueCategory]int)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
			continue
		}
		result, err := m.engine.ValidateFile(ctx, filepath.Join(m.collectionDir, entry.Name()))
		if err != nil {
			continue
		}
		for _, issue := range result.Issues {
			counts[issue.Category]++
		}
	}

	top := make([]CategoryCount, 0, len(counts))
	for category, n := range counts {
		top = append(top, CategoryCount{Category: category, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Category < top[j].Category
	})
	if len(top) > 5 {
		top = top[:5]
	}
	return top, nil
}

// recommendations derives prioritized guidance from the snapshot, trend
// directions, and dominant issue categories.
func recommendations(snap model.QualitySnapshot, trends []Trend, topIssues []CategoryCount) []string {
	var recs []string

	if snap.SyntaxErrorRate > 5 {
		recs = append(recs, fmt.Sprintf("Syntax error rate is %.1f%%; review the generation templates before adding new endpoints", snap.SyntaxErrorRate))
	}
	if snap.AverageQualityScore < 80 && snap.TotalFiles > 0 {
		recs = append(recs, fmt.Sprintf("Average quality score is %.1f; schedule a remediation pass over the lowest-graded files", snap.AverageQualityScore))
	}
	if snap.QuarantineRate > 10 {
		recs = append(recs, fmt.Sprintf("Quarantine rate is %.1f%%; run recovery processing and triage manual-review artifacts", snap.QuarantineRate))
	}

	for _, trend := range trends {
		if trend.Direction == model.TrendDeclining && trend.Confidence >= 0.3 {
			recs = append(recs, fmt.Sprintf("Metric %s is declining (%.1f%% change); investigate recent generation changes", trend.MetricName, trend.PercentChange))
		}
	}

	if len(topIssues) > 0 && topIssues[0].Count > 0 {
		recs = append(recs, fmt.Sprintf("Most frequent issue is %s (%d occurrences); address it first for the largest score gain", topIssues[0].Category, topIssues[0].Count))
	}

	if len(recs) == 0 {
		recs = append(recs, "Quality metrics are within thresholds; no action required")
	}
	return recs
}
