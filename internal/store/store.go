// Package store is the file-backed persistence collaborator: typed CRUD over
// YAML records in the state directory, with atomic writes and corrupt-record
// quarantine.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apiforge/warden/internal/lock"
	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/storage"
)

// ErrNotFound marks a missing record. Callers treat it as "not actionable
// now", not fatal.
var ErrNotFound = errors.New("record not found")

const (
	policiesDir  = "policies"
	trackingDir  = "tracking"
	workflowsDir = "workflows"
	metricsDir   = "metrics"
	alertsDir    = "alerts"
	recoveryDir  = "recovery"
)

type Store struct {
	dir   string
	locks *lock.MutexMap
}

func New(dir string) *Store {
	return &Store{
		dir:   dir,
		locks: lock.NewMutexMap(),
	}
}

// EnsureLayout creates the state directory tree.
func (s *Store) EnsureLayout() error {
	for _, d := range []string{policiesDir, trackingDir, workflowsDir, metricsDir, alertsDir, recoveryDir} {
		if err := os.MkdirAll(filepath.Join(s.dir, d), 0755); err != nil {
			return fmt.Errorf("create state dir %s: %w", d, err)
		}
	}
	return nil
}

func (s *Store) path(sub, name string) string {
	return filepath.Join(s.dir, sub, name+".yaml")
}

// read loads one record, quarantining it on parse failure so a corrupt file
// cannot wedge every subsequent load.
func (s *Store) read(sub, name string, out any) error {
	path := s.path(sub, name)
	err := storage.ReadYAML(path, out)
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return fmt.Errorf("%s/%s: %w", sub, name, ErrNotFound)
	}
	if recErr := storage.RecoverCorruptedFile(s.dir, path); recErr != nil {
		return fmt.Errorf("load %s/%s: %w (recovery also failed: %v)", sub, name, err, recErr)
	}
	return fmt.Errorf("load %s/%s: %w", sub, name, err)
}

func (s *Store) write(sub, name string, record any) error {
	key := sub + ":" + name
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	return storage.AtomicWrite(s.path(sub, name), record)
}

// ---- SLA policies ----

func (s *Store) SavePolicy(p model.SlaPolicy) error {
	return s.write(policiesDir, string(p.Priority), p)
}

// LoadPolicy returns the active policy for a priority, or ErrNotFound when
// none is configured or the configured one is inactive.
func (s *Store) LoadPolicy(priority model.SlaPriority) (*model.SlaPolicy, error) {
	var p model.SlaPolicy
	if err := s.read(policiesDir, string(priority), &p); err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("policy %s inactive: %w", priority, ErrNotFound)
	}
	return &p, nil
}

func (s *Store) ListPolicies() ([]model.SlaPolicy, error) {
	names, err := s.list(policiesDir)
	if err != nil {
		return nil, err
	}
	policies := make([]model.SlaPolicy, 0, len(names))
	for _, name := range names {
		var p model.SlaPolicy
		if err := s.read(policiesDir, name, &p); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// ---- SLA tracking ----

func (s *Store) SaveTracking(t *model.SlaTracking) error {
	return s.write(trackingDir, t.WorkflowID, t)
}

func (s *Store) LoadTracking(workflowID string) (*model.SlaTracking, error) {
	var t model.SlaTracking
	if err := s.read(trackingDir, workflowID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTracking() ([]*model.SlaTracking, error) {
	names, err := s.list(trackingDir)
	if err != nil {
		return nil, err
	}
	records := make([]*model.SlaTracking, 0, len(names))
	for _, name := range names {
		var t model.SlaTracking
		if err := s.read(trackingDir, name, &t); err != nil {
			return nil, err
		}
		records = append(records, &t)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}

// ---- Review workflows ----

func (s *Store) SaveWorkflow(w *model.ReviewWorkflow) error {
	return s.write(workflowsDir, w.ID, w)
}

func (s *Store) LoadWorkflow(id string) (*model.ReviewWorkflow, error) {
	var w model.ReviewWorkflow
	if err := s.read(workflowsDir, id, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// ---- Quality metric snapshots ----

func (s *Store) AppendSnapshot(snap model.QualitySnapshot) error {
	name := snap.Timestamp.UTC().Format("20060102T150405.000000000")
	return s.write(metricsDir, name, snap)
}

// ListSnapshots returns snapshots taken at or after since, oldest first.
func (s *Store) ListSnapshots(since time.Time) ([]model.QualitySnapshot, error) {
	names, err := s.list(metricsDir)
	if err != nil {
		return nil, err
	}
	var snaps []model.QualitySnapshot
	for _, name := range names {
		var snap model.QualitySnapshot
		if err := s.read(metricsDir, name, &snap); err != nil {
			return nil, err
		}
		if snap.Timestamp.Before(since) {
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.Before(snaps[j].Timestamp)
	})
	return snaps, nil
}

// ---- Quality alerts ----

func (s *Store) SaveAlert(a model.QualityAlert) error {
	return s.write(alertsDir, a.ID, a)
}

func (s *Store) ListAlerts(unresolvedOnly bool) ([]model.QualityAlert, error) {
	names, err := s.list(alertsDir)
	if err != nil {
		return nil, err
	}
	var alerts []model.QualityAlert
	for _, name := range names {
		var a model.QualityAlert
		if err := s.read(alertsDir, name, &a); err != nil {
			return nil, err
		}
		if unresolvedOnly && a.Resolved {
			continue
		}
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].TriggeredAt.Before(alerts[j].TriggeredAt)
	})
	return alerts, nil
}

func (s *Store) ResolveAlert(id string, at time.Time) error {
	var a model.QualityAlert
	if err := s.read(alertsDir, id, &a); err != nil {
		return err
	}
	if a.Resolved {
		return nil
	}
	a.Resolved = true
	a.ResolvedAt = &at
	return s.write(alertsDir, id, a)
}

// ---- Recovery run reports ----

func (s *Store) AppendRecoveryReport(r model.RecoveryRunReport) error {
	name := r.Timestamp.UTC().Format("20060102T150405.000000000")
	return s.write(recoveryDir, name, r)
}

func (s *Store) list(sub string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, sub))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state dir %s: %w", sub, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}
