package quarantine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/quality"
)

func testManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	var cfg model.QualityConfig
	cfg.CacheSize = 10
	cfg.CacheTTLSec = 300
	engine := quality.NewEngine(cfg)
	m := NewManager(root, 3, engine, nil, model.LogLevelError)
	require.NoError(t, m.EnsureLayout())
	return m, root
}

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func resultWithIssues(issues ...quality.Issue) *quality.Result {
	return &quality.Result{Issues: issues}
}

func TestQuarantineTier_Classification(t *testing.T) {
	critical := quality.Issue{Severity: model.SeverityCritical, Category: quality.CategorySyntaxError}
	high := quality.Issue{Severity: model.SeverityHigh, Category: quality.CategoryLowTestCount}
	medium := quality.Issue{Severity: model.SeverityMedium, Category: quality.CategoryMissingDocs}

	tests := []struct {
		name   string
		result *quality.Result
		want   model.QuarantineTier
	}{
		{"critical issue", resultWithIssues(critical), model.TierHigh},
		{"three high issues", resultWithIssues(high, high, high), model.TierHigh},
		{"one high issue", resultWithIssues(high), model.TierMedium},
		{"two high issues", resultWithIssues(high, high), model.TierMedium},
		{"medium only", resultWithIssues(medium), model.TierLow},
		{"no issues", resultWithIssues(), model.TierLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, quarantineTier(tt.result))
		})
	}
}

func TestQuarantineReason_Precedence(t *testing.T) {
	critical := quality.Issue{Severity: model.SeverityCritical, Category: quality.CategorySyntaxError}
	high := quality.Issue{Severity: model.SeverityHigh, Category: quality.CategoryLowTestCount}

	assert.Equal(t, quality.CategorySyntaxError, quarantineReason(resultWithIssues(high, critical)))
	assert.Equal(t, quality.CategoryLowTestCount, quarantineReason(resultWithIssues(high)))
	assert.Equal(t, quality.CategoryBelowThreshold, quarantineReason(resultWithIssues()))
}

func TestQuarantineFile_MovesArtifactAndWritesMetadata(t *testing.T) {
	m, root := testManager(t)
	src := writeArtifact(t, t.TempDir(), "test_api.py", "def test_x(:\n")

	result := resultWithIssues(quality.Issue{
		Severity: model.SeverityCritical,
		Category: quality.CategorySyntaxError,
	})
	meta, err := m.QuarantineFile(src, result)
	require.NoError(t, err)

	assert.Equal(t, model.TierHigh, meta.Tier)
	assert.Equal(t, quality.CategorySyntaxError, meta.Reason)
	assert.True(t, meta.AutoRecovery)

	// Original is gone, quarantined copy and side-car metadata exist.
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "high_priority", "test_api.py"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "metadata", "test_api.py.meta.yaml"))
	assert.NoError(t, err)

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PerTier[model.TierHigh])
	assert.Equal(t, 1, stats.TotalQuarantined())
}

// A file whose only defect is unbalanced brackets recovers through the
// syntax_repair strategy: the bracket fixer closes it, revalidation passes,
// and the artifact moves to recovered/.
func TestProcessQuarantined_RecoversSyntaxError(t *testing.T) {
	m, root := testManager(t)

	// Complete, high-quality file except for the missing closing bracket on
	// the last line.
	broken := `"""Tests for the items endpoint."""
import pytest


def test_create_item(api_client):
    """Create an item."""
    response = api_client.post("/items", json={"name": "a"})
    assert response.status_code == 201
    assert response.json()["name"] == "a"
    assert response.json()["id"]


def test_get_item(api_client):
    """Fetch an item."""
    response = api_client.get("/items/1")
    assert response.status_code == 200
    assert response.json()["id"] == 1
    assert "name" in response.json()


def test_update_item(api_client):
    """Update an item."""
    response = api_client.put("/items/1", json={"name": "b"})
    assert response.status_code == 200
    assert response.json()["name"] == "b"
    assert response.json()["id"] == 1


def test_delete_item_not_found(api_client):
    """Deleting a missing item returns 404."""
    response = api_client.delete("/items/9999")
    assert response.status_code == 404
    assert response.json()["detail"]
    assert "not found" in response.json()["detail"].lower()


def test_create_item_invalid_payload(api_client):
    """Creating an item without a name is rejected."""
    response = api_client.post("/items", json={})
    assert response.status_code == 422
    assert response.json()["detail"]
    assert response.status_code < 500

assert_tail = (1
`
	src := writeArtifact(t, t.TempDir(), "test_items.py", broken)

	result := resultWithIssues(quality.Issue{
		Severity: model.SeverityCritical,
		Category: quality.CategorySyntaxError,
	})
	_, err := m.QuarantineFile(src, result)
	require.NoError(t, err)

	report, err := m.ProcessQuarantined(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, 0, report.Failed)

	_, err = os.Stat(filepath.Join(root, "recovered", "test_items.py"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "high_priority", "test_items.py"))
	assert.True(t, os.IsNotExist(err))

	meta, err := m.loadMetadata("test_items.py")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, meta.RecoveredScore, model.PassingScore)
	assert.NotEmpty(t, meta.RecoveryNotes)

	// Re-running is a no-op: the recovered file left its tier.
	report, err = m.ProcessQuarantined(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
}

func TestProcessQuarantined_UnrecoverableHitsAttemptCap(t *testing.T) {
	m, _ := testManager(t)

	// Too broken for the text fixers to save: no test content at all.
	src := writeArtifact(t, t.TempDir(), "test_hopeless.py", "def test_a(:\n")
	result := resultWithIssues(quality.Issue{
		Severity: model.SeverityCritical,
		Category: quality.CategorySyntaxError,
	})
	_, err := m.QuarantineFile(src, result)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		report, err := m.ProcessQuarantined(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed, "pass %d should fail recovery", i)

		meta, err := m.loadMetadata("test_hopeless.py")
		require.NoError(t, err)
		assert.Equal(t, i, meta.RecoveryAttempts)
	}

	// Fourth pass flags for manual review instead of attempting again.
	report, err := m.ProcessQuarantined(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ManualReview)

	meta, err := m.loadMetadata("test_hopeless.py")
	require.NoError(t, err)
	assert.True(t, meta.ManualReview)
	assert.Equal(t, 3, meta.RecoveryAttempts)
}

func TestProcessQuarantined_ManualReviewCategorySkipsFixers(t *testing.T) {
	m, _ := testManager(t)

	src := writeArtifact(t, t.TempDir(), "test_manual.py", "def test_a(x):\n    assert x\n")
	result := resultWithIssues(quality.Issue{
		Severity: model.SeverityHigh,
		Category: quality.CategoryHardcodedValues, // no automated strategy
	})
	_, err := m.QuarantineFile(src, result)
	require.NoError(t, err)

	report, err := m.ProcessQuarantined(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ManualReview)
	assert.Equal(t, 0, report.Recovered)

	meta, err := m.loadMetadata("test_manual.py")
	require.NoError(t, err)
	assert.True(t, meta.ManualReview)
	assert.Equal(t, 0, meta.RecoveryAttempts)
}

func TestFailOut(t *testing.T) {
	m, root := testManager(t)

	src := writeArtifact(t, t.TempDir(), "test_done.py", "def test_a(x):\n    assert x\n")
	result := resultWithIssues(quality.Issue{
		Severity: model.SeverityHigh,
		Category: quality.CategoryLowTestCount,
	})
	_, err := m.QuarantineFile(src, result)
	require.NoError(t, err)

	require.NoError(t, m.FailOut("test_done.py"))

	_, err = os.Stat(filepath.Join(root, "failed_recovery", "test_done.py"))
	assert.NoError(t, err)

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalQuarantined())
	assert.Equal(t, 1, stats.FailedRecovery)

	assert.Error(t, m.FailOut("test_done.py"), "already moved")
}

func TestStrategyFor_FallsBackToManualReview(t *testing.T) {
	s := StrategyFor(quality.CategorySyntaxError)
	assert.Equal(t, "syntax_repair", s.Type)
	assert.True(t, s.AutoRecovery)

	fallback := StrategyFor(quality.CategoryMissingDocs)
	assert.Equal(t, "manual_review", fallback.Type)
	assert.False(t, fallback.AutoRecovery)
}
