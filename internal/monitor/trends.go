package monitor

import (
	"time"

	"github.com/apiforge/warden/internal/model"
)

// Trend is the direction of one metric across the analysis window.
type Trend struct {
	MetricName    string               `yaml:"metric_name"`
	Direction     model.TrendDirection `yaml:"direction"`
	PercentChange float64              `yaml:"percent_change"`
	Confidence    float64              `yaml:"confidence"`
	DataPoints    int                  `yaml:"data_points"`
}

// Metrics where a rising value is bad; their trend polarity is inverted.
var badWhenHigh = map[string]bool{
	model.MetricSyntaxErrorRate: true,
	model.MetricQuarantineRate:  true,
}

var trackedMetrics = []string{
	model.MetricSyntaxErrorRate,
	model.MetricAverageQualityScore,
	model.MetricQuarantineRate,
	model.MetricRecoverySuccessRate,
}

// AnalyzeTrends compares the first and last snapshot in the window for each
// tracked metric. Fewer than two points yields no trends. Confidence is a
// saturating heuristic on point count, not statistical significance.
func (m *Monitor) AnalyzeTrends(days int) ([]Trend, error) {
	since := m.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	snaps, err := m.store.ListSnapshots(since)
	if err != nil {
		return nil, err
	}
	if len(snaps) < 2 {
		return nil, nil
	}

	first, last := snaps[0], snaps[len(snaps)-1]
	confidence := float64(len(snaps)) / 10
	if confidence > 1 {
		confidence = 1
	}

	trends := make([]Trend, 0, len(trackedMetrics))
	for _, name := range trackedMetrics {
		before, _ := first.Metric(name)
		after, _ := last.Metric(name)

		var change float64
		switch {
		case before != 0:
			change = 100 * (after - before) / before
		case after != 0:
			change = 100
		}

		direction := model.TrendStable
		if change >= 2 || change <= -2 {
			rising := change > 0
			if rising != badWhenHigh[name] {
				direction = model.TrendImproving
			} else {
				direction = model.TrendDeclining
			}
		}

		trends = append(trends, Trend{
			MetricName:    name,
			Direction:     direction,
			PercentChange: change,
			Confidence:    confidence,
			DataPoints:    len(snaps),
		})
	}
	return trends, nil
}
