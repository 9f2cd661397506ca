package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/quality"
	"github.com/apiforge/warden/internal/quarantine"
	"github.com/apiforge/warden/internal/store"
)

const cleanSource = `"""Tests for the users endpoint."""
import pytest


def test_create_user(api_client):
    """Create a user and verify the returned record."""
    response = api_client.post("/users", json={"name": "alice"})
    assert response.status_code == 201
    assert response.json()["name"] == "alice"
    assert response.json()["id"]


def test_get_user(api_client):
    """Fetch an existing user."""
    response = api_client.get("/users/1")
    assert response.status_code == 200
    assert response.json()["id"] == 1
    assert "name" in response.json()


def test_update_user(api_client):
    """Update a user and verify the change sticks."""
    response = api_client.put("/users/1", json={"name": "bob"})
    assert response.status_code == 200
    assert response.json()["name"] == "bob"
    assert response.json()["id"] == 1


def test_delete_user_not_found(api_client):
    """Deleting a missing user returns 404."""
    response = api_client.delete("/users/9999")
    assert response.status_code == 404
    assert response.json()["detail"]
    assert "not found" in response.json()["detail"].lower()


def test_create_user_invalid_payload(api_client):
    """Creating a user without a name is rejected."""
    response = api_client.post("/users", json={})
    assert response.status_code == 422
    assert response.json()["detail"]
    assert response.status_code < 500
`

const brokenCollectionSource = `import requests


def test_broken(api_client):
    response = api_client.get("/users"
    assert response.status_code == 200
`

type monitorFixture struct {
	monitor       *Monitor
	store         *store.Store
	quarantine    *quarantine.Manager
	collectionDir string
	base          time.Time
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	var cfg model.QualityConfig
	cfg.CacheSize = 10
	cfg.CacheTTLSec = 300
	engine := quality.NewEngine(cfg)

	st := store.New(t.TempDir())
	require.NoError(t, st.EnsureLayout())

	qm := quarantine.NewManager(t.TempDir(), 3, engine, nil, model.LogLevelError)
	require.NoError(t, qm.EnsureLayout())

	f := &monitorFixture{
		store:         st,
		quarantine:    qm,
		collectionDir: t.TempDir(),
		base:          time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.monitor = New(engine, qm, st, f.collectionDir, nil, model.LogLevelError)
	f.monitor.SetClock(func() time.Time { return f.base })
	return f
}

func (f *monitorFixture) addArtifact(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.collectionDir, name), []byte(content), 0644))
}

func TestCollect_AggregatesCollection(t *testing.T) {
	f := newMonitorFixture(t)
	f.addArtifact(t, "test_users.py", cleanSource)
	f.addArtifact(t, "test_broken.py", brokenCollectionSource)
	f.addArtifact(t, "conftest.txt", "ignored, not python")

	snap, err := f.monitor.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, snap.TotalFiles)
	assert.Equal(t, 50.0, snap.AverageQualityScore)
	assert.Equal(t, 50.0, snap.SyntaxErrorRate)
	assert.Equal(t, 1, snap.QualityDistribution[model.GradeExcellent])
	assert.Equal(t, 1, snap.QualityDistribution[model.GradeUnacceptable])
	assert.Equal(t, 0.0, snap.QuarantineRate)
	assert.Equal(t, 100.0, snap.RecoverySuccessRate, "no recovery data reads as full success")

	// The snapshot was persisted.
	snaps, err := f.store.ListSnapshots(time.Time{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].TotalFiles)
}

func TestCollect_TriggersThresholdAlerts(t *testing.T) {
	f := newMonitorFixture(t)
	f.addArtifact(t, "test_users.py", cleanSource)
	f.addArtifact(t, "test_broken.py", brokenCollectionSource)

	_, err := f.monitor.Collect(context.Background())
	require.NoError(t, err)

	alerts, err := f.store.ListAlerts(true)
	require.NoError(t, err)

	byMetric := make(map[string]model.QualityAlert)
	for _, a := range alerts {
		byMetric[a.MetricName] = a
	}

	// 50% syntax errors and a 50 average both cross their thresholds; the
	// quarantine and recovery conditions stay quiet.
	require.Contains(t, byMetric, model.MetricSyntaxErrorRate)
	assert.Equal(t, model.SeverityCritical, byMetric[model.MetricSyntaxErrorRate].Severity)
	assert.Equal(t, 50.0, byMetric[model.MetricSyntaxErrorRate].ObservedValue)

	require.Contains(t, byMetric, model.MetricAverageQualityScore)
	assert.NotContains(t, byMetric, model.MetricQuarantineRate)
	assert.NotContains(t, byMetric, model.MetricRecoverySuccessRate)
}

func TestCollect_QuarantineRateCountsQuarantinedFiles(t *testing.T) {
	f := newMonitorFixture(t)
	f.addArtifact(t, "test_users.py", cleanSource)

	// One quarantined artifact against one healthy file: 50% rate.
	staging := filepath.Join(t.TempDir(), "test_bad.py")
	require.NoError(t, os.WriteFile(staging, []byte(brokenCollectionSource), 0644))
	_, err := f.quarantine.QuarantineFile(staging, &quality.Result{
		Issues: []quality.Issue{{Severity: model.SeverityCritical, Category: quality.CategorySyntaxError}},
	})
	require.NoError(t, err)

	snap, err := f.monitor.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50.0, snap.QuarantineRate)

	alerts, err := f.store.ListAlerts(true)
	require.NoError(t, err)
	found := false
	for _, a := range alerts {
		if a.MetricName == model.MetricQuarantineRate {
			found = true
		}
	}
	assert.True(t, found, "expected a quarantine-rate alert above 10%")
}

func TestCollect_EmptyCollection(t *testing.T) {
	f := newMonitorFixture(t)

	snap, err := f.monitor.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TotalFiles)
	assert.Equal(t, 0.0, snap.SyntaxErrorRate)
	assert.Equal(t, 100.0, snap.RecoverySuccessRate)
}

func TestAnalyzeTrends_DirectionsAndPolarity(t *testing.T) {
	f := newMonitorFixture(t)

	seed := func(offset time.Duration, syntax, avg, quarantineRate, recovery float64) {
		require.NoError(t, f.store.AppendSnapshot(model.QualitySnapshot{
			Timestamp:           f.base.Add(offset),
			TotalFiles:          10,
			SyntaxErrorRate:     syntax,
			AverageQualityScore: avg,
			QuarantineRate:      quarantineRate,
			RecoverySuccessRate: recovery,
		}))
	}
	seed(-48*time.Hour, 2, 80, 10, 90)
	seed(-24*time.Hour, 3, 84, 10, 90)
	seed(-1*time.Hour, 4, 88, 10.1, 90)

	trends, err := f.monitor.AnalyzeTrends(7)
	require.NoError(t, err)
	require.Len(t, trends, 4)

	byMetric := make(map[string]Trend)
	for _, tr := range trends {
		byMetric[tr.MetricName] = tr
	}

	// Syntax errors doubled: rising and bad, so declining.
	syntax := byMetric[model.MetricSyntaxErrorRate]
	assert.Equal(t, model.TrendDeclining, syntax.Direction)
	assert.Equal(t, 100.0, syntax.PercentChange)

	// Average quality rose 10%: improving.
	avg := byMetric[model.MetricAverageQualityScore]
	assert.Equal(t, model.TrendImproving, avg.Direction)
	assert.InDelta(t, 10.0, avg.PercentChange, 1e-9)

	// A 1% move is inside the stable band.
	assert.Equal(t, model.TrendStable, byMetric[model.MetricQuarantineRate].Direction)
	assert.Equal(t, model.TrendStable, byMetric[model.MetricRecoverySuccessRate].Direction)

	for _, tr := range trends {
		assert.Equal(t, 3, tr.DataPoints)
		assert.InDelta(t, 0.3, tr.Confidence, 1e-9)
	}
}

func TestAnalyzeTrends_NeedsTwoSnapshots(t *testing.T) {
	f := newMonitorFixture(t)
	require.NoError(t, f.store.AppendSnapshot(model.QualitySnapshot{Timestamp: f.base}))

	trends, err := f.monitor.AnalyzeTrends(7)
	require.NoError(t, err)
	assert.Nil(t, trends)
}

func TestHealthScore_Blend(t *testing.T) {
	snap := model.QualitySnapshot{
		AverageQualityScore: 80,
		SyntaxErrorRate:     4,
		QuarantineRate:      10,
		RecoverySuccessRate: 60,
	}
	// Components: 80, 100-20=80, 100-30=70, 60 -> 72.5
	assert.InDelta(t, 72.5, healthScore(snap), 1e-9)

	// Extreme rates clamp to zero instead of going negative.
	worst := model.QualitySnapshot{SyntaxErrorRate: 100, QuarantineRate: 100}
	assert.Equal(t, 0.0, healthScore(worst))
}

func TestGenerateReport_HealthyCollection(t *testing.T) {
	f := newMonitorFixture(t)
	f.addArtifact(t, "test_users.py", cleanSource)

	report, err := f.monitor.GenerateReport(context.Background(), "week")
	require.NoError(t, err)

	assert.Equal(t, "week", report.Period)
	assert.Equal(t, 7, report.WindowDays)
	assert.Equal(t, 100.0, report.HealthScore)
	assert.Equal(t, model.GradeExcellent, report.HealthStatus)
	assert.Empty(t, report.UnresolvedAlerts)
	assert.Empty(t, report.TopIssues)
	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0], "no action required")
}

func TestGenerateReport_SurfacesTopIssues(t *testing.T) {
	f := newMonitorFixture(t)
	f.addArtifact(t, "test_broken.py", brokenCollectionSource)

	report, err := f.monitor.GenerateReport(context.Background(), "month")
	require.NoError(t, err)

	assert.Equal(t, 30, report.WindowDays)
	require.NotEmpty(t, report.TopIssues)
	assert.Equal(t, quality.CategorySyntaxError, report.TopIssues[0].Category)
	assert.NotEmpty(t, report.Recommendations)
	assert.Less(t, report.HealthScore, 60.0)
}
