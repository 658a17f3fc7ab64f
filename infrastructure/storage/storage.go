// Package storage selects the run store named by the configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/infrastructure/storage/file"
	"github.com/fllarpy/reqprof/infrastructure/storage/inmemory"
	"github.com/fllarpy/reqprof/infrastructure/storage/redis"
	"github.com/fllarpy/reqprof/infrastructure/storage/sqlite"
	"github.com/fllarpy/reqprof/pkg/config"
)

// Store is a run store that holds resources until closed.
type Store interface {
	domain.RunStore
	Close() error
}

// New opens the backend named by cfg.ProfilerLibPath at cfg.ProfilerRunsPath.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.ProfilerLibPath {
	case config.BackendFile:
		s, err = file.NewStore(cfg.ProfilerRunsPath)
	case config.BackendMemory:
		s = inmemory.NewStore(inmemory.DefaultCapacity)
	case config.BackendSQLite:
		s, err = sqlite.NewStore(ctx, cfg.ProfilerRunsPath)
	case config.BackendRedis:
		s, err = redis.NewStore(ctx, cfg.ProfilerRunsPath)
	default:
		return nil, fmt.Errorf("%w: unknown run storage backend %q", config.ErrInvalid, cfg.ProfilerLibPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s run store: %w", cfg.ProfilerLibPath, err)
	}
	return s, nil
}
