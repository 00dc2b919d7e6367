// Package dbtest opens throwaway SQLite stores for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"schoolchat/internal/database"
	dbconfig "schoolchat/pkg/database"
)

// New returns a migrated store in t.TempDir(), closed on cleanup.
func New(t testing.TB) *database.Manager {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "schoolchat.db")

	mgr, err := database.NewManager(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, mgr.Migrate(context.Background()))
	return mgr
}

// Seeded returns a store loaded with the shared directory fixture:
// grade-7 has section-7a (teacher-1, student-1, student-2) and
// section-7b (teacher-1, student-3); parent-1 belongs to no section.
func Seeded(t testing.TB) *database.Manager {
	t.Helper()
	mgr := New(t)
	seed, err := database.LoadSeedFile(SeedPath())
	require.NoError(t, err)
	require.NoError(t, mgr.Seed(context.Background(), seed))
	return mgr
}

// SeedPath locates testdata/seed.yaml next to the database package.
func SeedPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "testdata", "seed.yaml")
}
