package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiforge/warden/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	require.NoError(t, s.EnsureLayout())
	return s
}

func TestPolicy_RoundTrip(t *testing.T) {
	s := testStore(t)

	for _, p := range model.DefaultSlaPolicies() {
		require.NoError(t, s.SavePolicy(p))
	}

	p, err := s.LoadPolicy(model.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 60, p.InitialResponseMinutes)
	assert.Equal(t, 480, p.CompletionMinutes)

	policies, err := s.ListPolicies()
	require.NoError(t, err)
	assert.Len(t, policies, 4)
}

func TestLoadPolicy_MissingAndInactive(t *testing.T) {
	s := testStore(t)

	_, err := s.LoadPolicy(model.PriorityHigh)
	assert.ErrorIs(t, err, ErrNotFound)

	inactive := model.DefaultSlaPolicies()[0]
	inactive.Active = false
	require.NoError(t, s.SavePolicy(inactive))

	_, err = s.LoadPolicy(inactive.Priority)
	assert.ErrorIs(t, err, ErrNotFound, "inactive policies are invisible to loads")
}

func TestTracking_RoundTripAndListOrder(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"wf-c", "wf-a", "wf-b"} {
		require.NoError(t, s.SaveTracking(&model.SlaTracking{
			WorkflowID: id,
			Status:     model.SlaStatusOnTrack,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	_, err := s.LoadTracking("wf-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	records, err := s.ListTracking()
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Ordered by start time, not by filename.
	assert.Equal(t, "wf-c", records[0].WorkflowID)
	assert.Equal(t, "wf-a", records[1].WorkflowID)
	assert.Equal(t, "wf-b", records[2].WorkflowID)
}

func TestWorkflow_RoundTrip(t *testing.T) {
	s := testStore(t)

	wf := &model.ReviewWorkflow{
		ID:        "wf-1",
		Title:     "review generated tests",
		Priority:  model.PriorityMedium,
		Status:    model.WorkflowStatusPending,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveWorkflow(wf))

	got, err := s.LoadWorkflow("wf-1")
	require.NoError(t, err)
	assert.Equal(t, wf.Title, got.Title)
	assert.Equal(t, wf.Priority, got.Priority)
	assert.True(t, wf.CreatedAt.Equal(got.CreatedAt))
}

func TestSnapshots_WindowFilter(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{-72 * time.Hour, -24 * time.Hour, 0} {
		require.NoError(t, s.AppendSnapshot(model.QualitySnapshot{
			Timestamp:  base.Add(offset),
			TotalFiles: 10,
		}))
	}

	snaps, err := s.ListSnapshots(base.Add(-48 * time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].Timestamp.Before(snaps[1].Timestamp))
}

func TestAlerts_ResolveIsIdempotent(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveAlert(model.QualityAlert{
		ID:          "alert-1",
		MetricName:  "syntax_error_rate",
		TriggeredAt: base,
	}))
	require.NoError(t, s.SaveAlert(model.QualityAlert{
		ID:          "alert-2",
		MetricName:  "quarantine_rate",
		TriggeredAt: base.Add(time.Minute),
	}))

	unresolved, err := s.ListAlerts(true)
	require.NoError(t, err)
	assert.Len(t, unresolved, 2)

	resolvedAt := base.Add(time.Hour)
	require.NoError(t, s.ResolveAlert("alert-1", resolvedAt))
	require.NoError(t, s.ResolveAlert("alert-1", resolvedAt.Add(time.Hour)), "second resolve is a no-op")

	unresolved, err = s.ListAlerts(true)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "alert-2", unresolved[0].ID)

	all, err := s.ListAlerts(false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, s.ResolveAlert("alert-missing", resolvedAt), ErrNotFound)
}

// A corrupt record is quarantined on load so subsequent operations see a
// missing record instead of a permanent parse failure.
func TestRead_QuarantinesCorruptRecords(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.EnsureLayout())

	path := filepath.Join(dir, "tracking", "wf-1.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{broken: ["), 0644))

	_, err := s.LoadTracking("wf-1")
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "corrupt"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = s.LoadTracking("wf-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
