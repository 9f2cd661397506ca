// Package monitor performs periodic fleet-wide quality aggregation, trend
// detection, and threshold alerting over the test artifact collection.
package monitor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/quality"
	"github.com/apiforge/warden/internal/quarantine"
	"github.com/apiforge/warden/internal/store"
)

type Monitor struct {
	engine        *quality.Engine
	quarantine    *quarantine.Manager
	store         *store.Store
	conditions    []model.AlertCondition
	collectionDir string
	logger        *log.Logger
	logLevel      model.LogLevel
	now           func() time.Time
}

func New(engine *quality.Engine, qm *quarantine.Manager, st *store.Store, collectionDir string, logger *log.Logger, level model.LogLevel) *Monitor {
	return &Monitor{
		engine:        engine,
		quarantine:    qm,
		store:         st,
		conditions:    model.DefaultAlertConditions(),
		collectionDir: collectionDir,
		logger:        logger,
		logLevel:      level,
		now:           time.Now,
	}
}

// SetClock overrides the time source (used in tests).
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// SetConditions replaces the alert condition table.
func (m *Monitor) SetConditions(conditions []model.AlertCondition) {
	m.conditions = conditions
}

// Collect re-validates every artifact in the collection, computes fleet
// rates, persists one snapshot, and evaluates alert conditions against it.
// A full re-scan each call, not incremental.
func (m *Monitor) Collect(ctx context.Context) (*model.QualitySnapshot, error) {
	entries, err := os.ReadDir(m.collectionDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read collection dir: %w", err)
	}

	snap := &model.QualitySnapshot{
		Timestamp:           m.now().UTC(),
		QualityDistribution: make(map[model.Grade]int),
	}

	var scoreSum float64
	var syntaxErrors int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
			continue
		}
		result, err := m.engine.ValidateFile(ctx, filepath.Join(m.collectionDir, entry.Name()))
		if err != nil {
			m.log(model.LogLevelWarn, "validate_failed file=%s error=%v", entry.Name(), err)
			continue
		}
		snap.TotalFiles++
		scoreSum += result.Score.Overall
		snap.QualityDistribution[result.Score.Grade]++
		if hasSyntaxError(result) {
			syntaxErrors++
		}
	}

	if snap.TotalFiles > 0 {
		snap.AverageQualityScore = scoreSum / float64(snap.TotalFiles)
		snap.SyntaxErrorRate = 100 * float64(syntaxErrors) / float64(snap.TotalFiles)
	}

	qstats, err := m.quarantine.Stats()
	if err != nil {
		return nil, fmt.Errorf("quarantine stats: %w", err)
	}
	quarantined := qstats.TotalQuarantined()
	if snap.TotalFiles+quarantined > 0 {
		snap.QuarantineRate = 100 * float64(quarantined) / float64(snap.TotalFiles+quarantined)
	}
	recoveryTotal := qstats.Recovered + qstats.FailedRecovery
	if recoveryTotal > 0 {
		snap.RecoverySuccessRate = 100 * float64(qstats.Recovered) / float64(recoveryTotal)
	} else {
		// No recovery attempts yet; report full success so the below-70%
		// alert stays quiet until there is data.
		snap.RecoverySuccessRate = 100
	}

	if err := m.store.AppendSnapshot(*snap); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}
	if err := m.evaluateAlerts(*snap); err != nil {
		m.log(model.LogLevelWarn, "alert_evaluation_failed error=%v", err)
	}

	m.log(model.LogLevelInfo, "collected files=%d avg=%.1f syntax_rate=%.1f quarantine_rate=%.1f",
		snap.TotalFiles, snap.AverageQualityScore, snap.SyntaxErrorRate, snap.QuarantineRate)
	return snap, nil
}

func hasSyntaxError(r *quality.Result) bool {
	for _, issue := range r.Issues {
		if issue.Category == quality.CategorySyntaxError || issue.Category == quality.CategoryCollectionFailure {
			return true
		}
	}
	return false
}

// evaluateAlerts compares the snapshot against each enabled condition and
// persists an unresolved alert per trigger.
func (m *Monitor) evaluateAlerts(snap model.QualitySnapshot) error {
	for _, cond := range m.conditions {
		if !cond.Enabled {
			continue
		}
		value, ok := snap.Metric(cond.MetricName)
		if !ok {
			continue
		}

		triggered := false
		switch cond.ThresholdType {
		case model.ThresholdAbove:
			triggered = value > cond.ThresholdValue
		case model.ThresholdBelow:
			triggered = value < cond.ThresholdValue
		}
		if !triggered {
			continue
		}

		id, err := model.GenerateID(model.IDTypeAlert)
		if err != nil {
			return err
		}
		alert := model.QualityAlert{
			ID:             id,
			MetricName:     cond.MetricName,
			ThresholdType:  cond.ThresholdType,
			ThresholdValue: cond.ThresholdValue,
			ObservedValue:  value,
			Severity:       cond.Severity,
			TriggeredAt:    snap.Timestamp,
		}
		if err := m.store.SaveAlert(alert); err != nil {
			return err
		}
		m.log(model.LogLevelWarn, "alert metric=%s observed=%.1f threshold=%s %.1f severity=%s",
			cond.MetricName, value, cond.ThresholdType, cond.ThresholdValue, cond.Severity)
	}
	return nil
}

func (m *Monitor) log(level model.LogLevel, format string, args ...any) {
	if level < m.logLevel || m.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	m.logger.Printf("%s %s monitor: %s", time.Now().Format(time.RFC3339), level, msg)
}
