package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/reqprof/infrastructure/storage/file"
	"github.com/fllarpy/reqprof/infrastructure/storage/inmemory"
	"github.com/fllarpy/reqprof/infrastructure/storage/sqlite"
	"github.com/fllarpy/reqprof/pkg/config"
)

func TestNew(t *testing.T) {
	testCases := []struct {
		backend  string
		runsPath func(t *testing.T) string
		check    func(t *testing.T, s Store)
	}{
		{config.BackendFile, func(t *testing.T) string { return t.TempDir() }, func(t *testing.T, s Store) { assert.IsType(t, &file.Store{}, s) }},
		{config.BackendMemory, func(t *testing.T) string { return "" }, func(t *testing.T, s Store) { assert.IsType(t, &inmemory.Store{}, s) }},
		{config.BackendSQLite, func(t *testing.T) string { return filepath.Join(t.TempDir(), "runs.db") }, func(t *testing.T, s Store) { assert.IsType(t, &sqlite.Store{}, s) }},
	}

	for _, tc := range testCases {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.ProfilerLibPath = tc.backend
			cfg.ProfilerRunsPath = tc.runsPath(t)

			s, err := New(context.Background(), cfg)
			require.NoError(t, err)
			defer s.Close()
			tc.check(t, s)
		})
	}
}

func TestNew_Errors(t *testing.T) {
	cfg := config.Default()
	cfg.ProfilerLibPath = "xhprof_runs.php"
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)

	cfg.ProfilerLibPath = config.BackendRedis
	cfg.ProfilerRunsPath = "not-a-url"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}
