// Package quarantine segregates failing test artifacts into priority tiers,
// attempts bounded automated recovery, and reports tier statistics.
package quarantine

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/quality"
	"github.com/apiforge/warden/internal/storage"
)

const (
	metadataDir       = "metadata"
	recoveredDir      = "recovered"
	failedRecoveryDir = "failed_recovery"
	metadataSuffix    = ".meta.yaml"
)

// Manager owns the quarantine area. All moves keep the side-car metadata in
// {root}/metadata/ so a recovered or failed artifact retains its history.
type Manager struct {
	root        string
	maxAttempts int
	engine      *quality.Engine
	logger      *log.Logger
	logLevel    model.LogLevel
	now         func() time.Time
}

func NewManager(root string, maxAttempts int, engine *quality.Engine, logger *log.Logger, level model.LogLevel) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Manager{
		root:        root,
		maxAttempts: maxAttempts,
		engine:      engine,
		logger:      logger,
		logLevel:    level,
		now:         time.Now,
	}
}

// SetClock overrides the time source (used in tests).
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// EnsureLayout creates the quarantine directory tree.
func (m *Manager) EnsureLayout() error {
	dirs := []string{metadataDir, recoveredDir, failedRecoveryDir}
	for _, tier := range model.TiersByPriority {
		dirs = append(dirs, tierDirName(tier))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(m.root, d), 0755); err != nil {
			return fmt.Errorf("create quarantine dir %s: %w", d, err)
		}
	}
	return nil
}

func tierDirName(tier model.QuarantineTier) string {
	return string(tier) + "_priority"
}

func (m *Manager) tierDir(tier model.QuarantineTier) string {
	return filepath.Join(m.root, tierDirName(tier))
}

func (m *Manager) metadataPath(base string) string {
	return filepath.Join(m.root, metadataDir, base+metadataSuffix)
}

// QuarantineFile moves a failing artifact into its priority tier and writes
// the side-car metadata. The artifact is never silently dropped: any failure
// is returned as an error with the file left where it was.
func (m *Manager) QuarantineFile(path string, result *quality.Result) (*Metadata, error) {
	if err := m.EnsureLayout(); err != nil {
		return nil, err
	}

	reason := quarantineReason(result)
	tier := quarantineTier(result)
	base := filepath.Base(path)
	dest := filepath.Join(m.tierDir(tier), base)

	meta := &Metadata{
		OriginalPath:  path,
		QuarantinedAt: m.now().UTC(),
		Reason:        reason,
		Issues:        result.Issues,
		Tier:          tier,
		AutoRecovery:  quality.AutoRecoverable(reason),
	}

	if err := moveFile(path, dest); err != nil {
		return nil, fmt.Errorf("move artifact to quarantine: %w", err)
	}

	if err := storage.AtomicWrite(m.metadataPath(base), meta); err != nil {
		return nil, fmt.Errorf("write quarantine metadata: %w", err)
	}

	m.log(model.LogLevelInfo, "quarantined file=%s tier=%s reason=%s auto_recovery=%v",
		base, tier, reason, meta.AutoRecovery)
	return meta, nil
}

// BatchReport summarises one ProcessQuarantined pass.
type BatchReport struct {
	Processed    int
	Recovered    int
	Failed       int
	ManualReview int
}

// ProcessQuarantined walks the tiers in priority order and attempts recovery
// of each artifact still under the attempt cap. Per-file failures are
// collected, not propagated, so one bad artifact cannot abort the batch.
// The pass is idempotent: recovered artifacts have left their tier directory
// and are not seen again.
func (m *Manager) ProcessQuarantined(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{}
	var errs *multierror.Error

	for _, tier := range model.TiersByPriority {
		entries, err := os.ReadDir(m.tierDir(tier))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = multierror.Append(errs, fmt.Errorf("read tier %s: %w", tier, err))
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
				continue
			}
			report.Processed++
			if err := m.recoverOne(ctx, tier, entry.Name(), report); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			}
		}
	}

	return report, errs.ErrorOrNil()
}

func (m *Manager) recoverOne(ctx context.Context, tier model.QuarantineTier, base string, report *BatchReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery panicked: %v", r)
			report.Failed++
		}
	}()

	meta, err := m.loadMetadata(base)
	if err != nil {
		return err
	}

	if meta.ManualReview {
		report.ManualReview++
		return nil
	}

	strategy := StrategyFor(meta.Reason)
	attemptCap := m.maxAttempts
	if strategy.MaxAttempts < attemptCap {
		attemptCap = strategy.MaxAttempts
	}

	if !strategy.AutoRecovery || meta.RecoveryAttempts >= attemptCap {
		meta.ManualReview = true
		meta.RecoveryNotes = append(meta.RecoveryNotes, m.note("flagged for manual review (strategy=%s attempts=%d)",
			strategy.Type, meta.RecoveryAttempts))
		report.ManualReview++
		m.log(model.LogLevelWarn, "manual_review_required file=%s reason=%s attempts=%d",
			base, meta.Reason, meta.RecoveryAttempts)
		return m.saveMetadata(base, meta)
	}

	srcPath := filepath.Join(m.tierDir(tier), base)
	src, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read quarantined artifact: %w", err)
	}

	fixed := applyRecoveryActions(strategy, src)
	result := m.engine.ValidateSource(ctx, base, fixed)

	now := m.now().UTC()
	meta.LastRecoveryAttempt = &now

	if result.Score.Overall >= model.PassingScore {
		destPath := filepath.Join(m.root, recoveredDir, base)
		if err := os.WriteFile(destPath, fixed, 0644); err != nil {
			return fmt.Errorf("write recovered artifact: %w", err)
		}
		if err := os.Remove(srcPath); err != nil {
			return fmt.Errorf("remove artifact from tier: %w", err)
		}
		meta.RecoveredScore = result.Score.Overall
		meta.RecoveryNotes = append(meta.RecoveryNotes,
			m.note("recovered via %s with score %.1f", strategy.Type, result.Score.Overall))
		report.Recovered++
		m.log(model.LogLevelInfo, "recovered file=%s strategy=%s score=%.1f",
			base, strategy.Type, result.Score.Overall)
		return m.saveMetadata(base, meta)
	}

	meta.RecoveryAttempts++
	meta.RecoveryNotes = append(meta.RecoveryNotes,
		m.note("attempt %d via %s failed, score %.1f", meta.RecoveryAttempts, strategy.Type, result.Score.Overall))
	report.Failed++
	m.log(model.LogLevelWarn, "recovery_failed file=%s attempt=%d score=%.1f",
		base, meta.RecoveryAttempts, result.Score.Overall)
	return m.saveMetadata(base, meta)
}

// FailOut moves an exhausted artifact to failed_recovery. Operator
// triggered; the periodic pass never moves artifacts there on its own.
func (m *Manager) FailOut(base string) error {
	for _, tier := range model.TiersByPriority {
		srcPath := filepath.Join(m.tierDir(tier), base)
		if _, err := os.Stat(srcPath); err != nil {
			continue
		}
		dest := filepath.Join(m.root, failedRecoveryDir, base)
		if err := moveFile(srcPath, dest); err != nil {
			return fmt.Errorf("move to failed_recovery: %w", err)
		}
		m.log(model.LogLevelInfo, "failed_out file=%s tier=%s", base, tier)
		return nil
	}
	return fmt.Errorf("artifact %s not found in any tier", base)
}

// Stats is a derived view over the quarantine directories, not a cached
// counter.
type Stats struct {
	PerTier        map[model.QuarantineTier]int
	Recovered      int
	FailedRecovery int
}

func (s Stats) TotalQuarantined() int {
	total := 0
	for _, n := range s.PerTier {
		total += n
	}
	return total
}

func (m *Manager) Stats() (Stats, error) {
	stats := Stats{PerTier: make(map[model.QuarantineTier]int)}

	for _, tier := range model.TiersByPriority {
		n, err := countArtifacts(m.tierDir(tier))
		if err != nil {
			return stats, err
		}
		stats.PerTier[tier] = n
	}

	var err error
	if stats.Recovered, err = countArtifacts(filepath.Join(m.root, recoveredDir)); err != nil {
		return stats, err
	}
	if stats.FailedRecovery, err = countArtifacts(filepath.Join(m.root, failedRecoveryDir)); err != nil {
		return stats, err
	}
	return stats, nil
}

func countArtifacts(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".py") {
			n++
		}
	}
	return n, nil
}

func (m *Manager) loadMetadata(base string) (*Metadata, error) {
	var meta Metadata
	if err := storage.ReadYAML(m.metadataPath(base), &meta); err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return &meta, nil
}

func (m *Manager) saveMetadata(base string, meta *Metadata) error {
	if err := storage.AtomicWrite(m.metadataPath(base), meta); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

func (m *Manager) note(format string, args ...any) string {
	return fmt.Sprintf("%s %s", m.now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func (m *Manager) log(level model.LogLevel, format string, args ...any) {
	if level < m.logLevel || m.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	m.logger.Printf("%s %s quarantine: %s", time.Now().Format(time.RFC3339), level, msg)
}
