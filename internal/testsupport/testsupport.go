// Package testsupport holds fixtures shared by package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/local/masterdoc/internal/config"
	"github.com/local/masterdoc/internal/store"
)

// NewConfig returns a configuration rooted in a fresh temp dir with
// directories created.
func NewConfig(t testing.TB) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Logging.File = ""
	cfg.Logging.Pretty = false
	cfg.Storage = config.StorageConfig{
		DataDir:     dir,
		DBPath:      filepath.Join(dir, "ledger.db"),
		MasterDir:   filepath.Join(dir, "masters"),
		DownloadDir: filepath.Join(dir, "downloads"),
		LockDir:     filepath.Join(dir, "locks"),
	}
	require.NoError(t, cfg.EnsureDirectories())
	return cfg
}

// MustOpenStore opens the ledger database of cfg and closes it on cleanup.
func MustOpenStore(t testing.TB, cfg config.Config) *store.Store {
	t.Helper()
	s, err := store.Open(cfg.Storage.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
