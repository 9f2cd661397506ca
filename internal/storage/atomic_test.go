package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func TestAtomicWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.yaml")

	require.NoError(t, AtomicWrite(path, record{Name: "alpha", Count: 3}))

	var got record
	require.NoError(t, ReadYAML(path, &got))
	assert.Equal(t, record{Name: "alpha", Count: 3}, got)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestAtomicWrite_KeepsBackupOfPreviousVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.yaml")

	require.NoError(t, AtomicWrite(path, record{Name: "v1"}))
	require.NoError(t, AtomicWrite(path, record{Name: "v2"}))

	var current, backup record
	require.NoError(t, ReadYAML(path, &current))
	require.NoError(t, ReadYAML(path+".bak", &backup))
	assert.Equal(t, "v2", current.Name)
	assert.Equal(t, "v1", backup.Name)
}

func TestReadYAML_MissingFileIsNotExist(t *testing.T) {
	var got record
	err := ReadYAML(filepath.Join(t.TempDir(), "absent.yaml"), &got)
	assert.True(t, os.IsNotExist(err))
}

func TestReadYAML_ParseFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{unclosed: ["), 0644))

	var got record
	assert.Error(t, ReadYAML(path, &got))
}

func TestRecoverCorruptedFile_QuarantinesAndRestores(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "record.yaml")

	// Two writes leave a good .bak, then the live copy gets mangled.
	require.NoError(t, AtomicWrite(path, record{Name: "v1"}))
	require.NoError(t, AtomicWrite(path, record{Name: "v2"}))
	require.NoError(t, os.WriteFile(path, []byte("{broken: ["), 0644))

	require.NoError(t, RecoverCorruptedFile(dataDir, path))

	// The corrupt copy is preserved for inspection.
	entries, err := os.ReadDir(filepath.Join(dataDir, "corrupt"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// The live record is the last good version again.
	var got record
	require.NoError(t, ReadYAML(path, &got))
	assert.Equal(t, "v1", got.Name)
}

func TestRecoverCorruptedFile_NoBackupLeavesRecordAbsent(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "record.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{broken: ["), 0644))

	require.NoError(t, RecoverCorruptedFile(dataDir, path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "record is recreated on next write, not restored")
}
