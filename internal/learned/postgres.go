package learned

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS learned_methods (
            stage      INTEGER PRIMARY KEY,
            source     TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
    `
	sqlSelectMethods = `
        SELECT stage, source
        FROM learned_methods
        ORDER BY stage ASC;
    `
	sqlUpsertMethods = `
        INSERT INTO learned_methods (stage, source, updated_at)
        SELECT m.stage, m.source, $3
        FROM unnest($1::int[], $2::text[]) AS m(stage, source)
        ON CONFLICT (stage) DO UPDATE SET
            source = EXCLUDED.source,
            updated_at = EXCLUDED.updated_at;
    `
	sqlDeleteMethods = `DELETE FROM learned_methods;`
)

// PostgresStore keeps the learned map in a single table shared by every
// runner pointed at the same database.
type PostgresStore struct {
	pool DBPool
	now  func() time.Time
	log  *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore verifies the connection and creates the table if needed.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateTable); err != nil {
		return nil, fmt.Errorf("failed to create learned_methods table: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		now:  time.Now,
		log:  logger.Named("learned"),
	}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (map[int]engine.Source, error) {
	rows, err := s.pool.Query(ctx, sqlSelectMethods)
	if err != nil {
		return nil, fmt.Errorf("failed to query learned methods: %w", err)
	}
	defer rows.Close()

	out := make(map[int]engine.Source)
	for rows.Next() {
		var (
			stage  int32
			source string
		)
		if err := rows.Scan(&stage, &source); err != nil {
			return nil, fmt.Errorf("failed to scan learned method row: %w", err)
		}
		src, err := engine.ParseSource(source)
		if err != nil {
			s.log.Warn("Skipping learned method with unknown source.", zap.Int32("stage", stage), zap.String("source", source))
			continue
		}
		out[int(stage)] = src
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Save upserts every entry in one statement.
func (s *PostgresStore) Save(ctx context.Context, methods map[int]engine.Source) error {
	keys := make([]int, 0, len(methods))
	for stage, src := range methods {
		if src != engine.SourceUnknown {
			keys = append(keys, stage)
		}
	}
	sort.Ints(keys)

	stages := make([]int32, 0, len(keys))
	sources := make([]string, 0, len(keys))
	for _, stage := range keys {
		stages = append(stages, int32(stage))
		sources = append(sources, methods[stage].String())
	}
	if len(stages) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx, sqlUpsertMethods, stages, sources, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert learned methods: %w", err)
	}
	s.log.Debug("Learned map saved.", zap.Int64("rows", tag.RowsAffected()))
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlDeleteMethods); err != nil {
		return fmt.Errorf("failed to clear learned methods: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
