package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// QuarantineCorrupt moves an unparseable state file into dataDir/corrupt so a
// bad record cannot wedge subsequent loads. The record is renamed with a
// timestamp so repeated corruption of the same path never collides.
func QuarantineCorrupt(dataDir, filePath string) error {
	corruptDir := filepath.Join(dataDir, "corrupt")
	if err := os.MkdirAll(corruptDir, 0755); err != nil {
		return fmt.Errorf("create corrupt dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405")
	corruptName := fmt.Sprintf("%s.%s.corrupt", baseName, timestamp)
	corruptPath := filepath.Join(corruptDir, corruptName)

	if err := os.Rename(filePath, corruptPath); err != nil {
		return fmt.Errorf("move to corrupt dir: %w", err)
	}

	log.Printf("quarantined corrupted state file: %s → %s", filePath, corruptPath)
	return nil
}

// RestoreFromBackup replaces filePath with its .bak copy, validating the
// backup parses before writing it back.
func RestoreFromBackup(filePath string) error {
	bakPath := filePath + ".bak"
	if _, err := os.Stat(bakPath); os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}

	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup YAML is also corrupted: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}

	log.Printf("restored from backup: %s → %s", bakPath, filePath)
	return nil
}

// RecoverCorruptedFile quarantines a corrupt record and attempts a backup
// restore. Unlike queue-style state there is no skeleton to regenerate:
// a missing record is recreated on the next write.
func RecoverCorruptedFile(dataDir, filePath string) error {
	if err := QuarantineCorrupt(dataDir, filePath); err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}

	if err := RestoreFromBackup(filePath); err != nil {
		log.Printf("backup restore failed for %s, record will be recreated on next write: %v", filePath, err)
	}

	return nil
}
