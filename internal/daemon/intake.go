package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apiforge/warden/internal/events"
	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/quality"
	"github.com/apiforge/warden/internal/quarantine"
)

// IntakeHandler gates newly generated test artifacts: every .py file landing
// in intake is validated, then either promoted to the collection or moved to
// quarantine. Nothing stays in intake.
type IntakeHandler struct {
	intakeDir     string
	collectionDir string
	engine        *quality.Engine
	quarantine    *quarantine.Manager
	bus           *events.Bus
	logger        *log.Logger
	logLevel      model.LogLevel
}

func NewIntakeHandler(intakeDir, collectionDir string, engine *quality.Engine, qm *quarantine.Manager, bus *events.Bus, logger *log.Logger, level model.LogLevel) *IntakeHandler {
	return &IntakeHandler{
		intakeDir:     intakeDir,
		collectionDir: collectionDir,
		engine:        engine,
		quarantine:    qm,
		bus:           bus,
		logger:        logger,
		logLevel:      level,
	}
}

// HandleFileEvent processes one fsnotify event from the intake directory.
func (h *IntakeHandler) HandleFileEvent(ctx context.Context, path string) {
	if !strings.HasSuffix(path, ".py") {
		return
	}
	if err := h.processFile(ctx, path); err != nil {
		h.log(model.LogLevelError, "intake_failed file=%s error=%v", filepath.Base(path), err)
	}
}

// ScanIntake processes everything already sitting in the intake directory.
// Run at startup so artifacts dropped while the daemon was down are not
// stranded.
func (h *IntakeHandler) ScanIntake(ctx context.Context) {
	entries, err := os.ReadDir(h.intakeDir)
	if err != nil {
		if !os.IsNotExist(err) {
			h.log(model.LogLevelError, "intake_scan_failed error=%v", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
			continue
		}
		h.HandleFileEvent(ctx, filepath.Join(h.intakeDir, entry.Name()))
	}
}

func (h *IntakeHandler) processFile(ctx context.Context, path string) error {
	// The file may have been claimed by an earlier event for the same write.
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	result, err := h.engine.ValidateFile(ctx, path)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	base := filepath.Base(path)
	if result.Passed {
		dest := filepath.Join(h.collectionDir, base)
		if err := promoteFile(path, dest); err != nil {
			return fmt.Errorf("promote to collection: %w", err)
		}
		h.log(model.LogLevelInfo, "accepted file=%s score=%.1f grade=%s", base, result.Score.Overall, result.Score.Grade)
		h.publish(events.EventFileValidated, base, result)
		return nil
	}

	meta, err := h.quarantine.QuarantineFile(path, result)
	if err != nil {
		return fmt.Errorf("quarantine: %w", err)
	}
	h.log(model.LogLevelWarn, "rejected file=%s score=%.1f reason=%s tier=%s",
		base, result.Score.Overall, meta.Reason, meta.Tier)
	h.publish(events.EventFileQuarantined, base, result)
	return nil
}

func (h *IntakeHandler) publish(evtType events.EventType, base string, result *quality.Result) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(evtType, map[string]interface{}{
		"file":   base,
		"score":  result.Score.Overall,
		"grade":  string(result.Score.Grade),
		"action": string(result.Action),
	})
}

// promoteFile renames, falling back to copy+remove across filesystems.
func promoteFile(src, dst string) error {
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

func (h *IntakeHandler) log(level model.LogLevel, format string, args ...any) {
	if level < h.logLevel || h.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	h.logger.Printf("%s %s intake: %s", time.Now().Format(time.RFC3339), level, msg)
}
