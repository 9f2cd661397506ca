// Package setup handles warden project initialization.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/storage"
	"github.com/apiforge/warden/internal/store"
)

// WardenDir is the per-project data directory name.
const WardenDir = ".warden"

// Run initializes the .warden/ directory structure in the given project
// directory and seeds the default SLA policies. Fails if the directory
// already exists.
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, WardenDir)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	dirs := []string{
		"intake",
		"collection",
		"locks",
		"logs",
		"audit",
	}
	for _, tier := range model.TiersByPriority {
		dirs = append(dirs, filepath.Join("quarantine", string(tier)+"_priority"))
	}
	dirs = append(dirs,
		filepath.Join("quarantine", "metadata"),
		filepath.Join("quarantine", "recovered"),
		filepath.Join("quarantine", "failed_recovery"),
	)
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	st := store.New(filepath.Join(base, "state"))
	if err := st.EnsureLayout(); err != nil {
		return err
	}
	for _, policy := range model.DefaultSlaPolicies() {
		if err := st.SavePolicy(policy); err != nil {
			return fmt.Errorf("seed policy %s: %w", policy.Priority, err)
		}
	}

	cfg := generateConfig(absDir, projectName)
	if err := storage.AtomicWrite(filepath.Join(base, "warden.yaml"), cfg); err != nil {
		return fmt.Errorf("write warden.yaml: %w", err)
	}

	// Create daemon.lock (empty)
	if err := os.WriteFile(filepath.Join(base, "locks", "daemon.lock"), nil, 0600); err != nil {
		return fmt.Errorf("create daemon.lock: %w", err)
	}

	return nil
}

func generateConfig(projectDir, projectName string) *model.Config {
	cfg := &model.Config{}
	cfg.ApplyDefaults()

	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	cfg.Project.Description = "API test quality gate and SLA tracking"
	return cfg
}
