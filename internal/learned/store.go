// Package learned persists which candidate source solved each stage, so the
// next run can race that source first.
package learned

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

// Store loads and saves the learned stage map.
type Store interface {
	Load(ctx context.Context) (map[int]engine.Source, error)
	// Save merges methods into what is already stored.
	Save(ctx context.Context, methods map[int]engine.Source) error
	Reset(ctx context.Context) error
	Close() error
}

// New builds the backend selected by learned.backend. runDir is where the
// file backend writes when learned.dir is not set.
func New(ctx context.Context, cfg config.Interface, runDir string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lc := cfg.Learned()

	switch lc.Backend {
	case config.LearnedBackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Database().URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case config.LearnedBackendFile, "":
		dir := lc.Dir
		if dir == "" {
			dir = runDir
		}
		return NewFileStore(dir, lc.SharedDir, logger), nil
	default:
		return nil, fmt.Errorf("unknown learned backend %q", lc.Backend)
	}
}
