// internal/memory/postgres_store.go
package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts the pgx pool surface the store uses, allowing pgxmock in
// tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore keeps long-term memory in a single table so several agent
// hosts can share learned workflows. Sequences are stored as JSONB.
type PostgresStore struct {
	logger *zap.Logger
	pool   DBPool
}

const createWorkflowTableSQL = `
CREATE TABLE IF NOT EXISTS workflow_memory (
    signature             TEXT PRIMARY KEY,
    task                  TEXT NOT NULL,
    sequence              JSONB NOT NULL,
    success_count         INT NOT NULL DEFAULT 1,
    avg_duration_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_used             TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const createUIPatternTableSQL = `
CREATE TABLE IF NOT EXISTS ui_patterns (
    app        TEXT NOT NULL,
    element    TEXT NOT NULL,
    x          INT NOT NULL,
    y          INT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_seen  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (app, element)
);`

// NewPostgresStore connects a pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connString string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	store := &PostgresStore{
		logger: logger.Named("memory_postgres_store"),
		pool:   pool,
	}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithPool wires an existing pool, used by tests.
func NewPostgresStoreWithPool(pool DBPool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		logger: logger.Named("memory_postgres_store"),
		pool:   pool,
	}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createWorkflowTableSQL); err != nil {
		return fmt.Errorf("failed to ensure workflow_memory schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, createUIPatternTableSQL); err != nil {
		return fmt.Errorf("failed to ensure ui_patterns schema: %w", err)
	}
	return nil
}

// Load returns every remembered workflow keyed by signature.
func (s *PostgresStore) Load(ctx context.Context) (map[string]WorkflowRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT signature, task, sequence, success_count, avg_duration_seconds, last_used FROM workflow_memory`)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow memory: %w", err)
	}
	defer rows.Close()

	records := make(map[string]WorkflowRecord)
	for rows.Next() {
		var (
			sig    string
			rec    WorkflowRecord
			seqRaw []byte
		)
		if err := rows.Scan(&sig, &rec.Task, &seqRaw, &rec.SuccessCount, &rec.AvgDurationSeconds, &rec.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		if err := json.Unmarshal(seqRaw, &rec.Sequence); err != nil {
			s.logger.Warn("Skipping workflow with undecodable sequence", zap.String("signature", sig), zap.Error(err))
			continue
		}
		records[sig] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading workflow rows: %w", err)
	}
	return records, nil
}

// Save upserts one record.
func (s *PostgresStore) Save(ctx context.Context, signature string, rec WorkflowRecord) error {
	seqRaw, err := json.Marshal(rec.Sequence)
	if err != nil {
		return fmt.Errorf("failed to encode action sequence: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_memory (signature, task, sequence, success_count, avg_duration_seconds, last_used)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signature) DO UPDATE SET
			task = EXCLUDED.task,
			sequence = EXCLUDED.sequence,
			success_count = EXCLUDED.success_count,
			avg_duration_seconds = EXCLUDED.avg_duration_seconds,
			last_used = EXCLUDED.last_used`,
		signature, rec.Task, seqRaw, rec.SuccessCount, rec.AvgDurationSeconds, rec.LastUsed)
	if err != nil {
		return fmt.Errorf("failed to upsert workflow record: %w", err)
	}
	return nil
}

// LoadUIPatterns returns every remembered element location, app -> element.
func (s *PostgresStore) LoadUIPatterns(ctx context.Context) (map[string]map[string]UIPattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT app, element, x, y, confidence, last_seen FROM ui_patterns`)
	if err != nil {
		return nil, fmt.Errorf("failed to load ui patterns: %w", err)
	}
	defer rows.Close()

	patterns := make(map[string]map[string]UIPattern)
	for rows.Next() {
		var (
			app, element string
			pat          UIPattern
		)
		if err := rows.Scan(&app, &element, &pat.X, &pat.Y, &pat.Confidence, &pat.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan ui pattern row: %w", err)
		}
		if patterns[app] == nil {
			patterns[app] = make(map[string]UIPattern)
		}
		patterns[app][element] = pat
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading ui pattern rows: %w", err)
	}
	return patterns, nil
}

// SaveUIPattern upserts one element location.
func (s *PostgresStore) SaveUIPattern(ctx context.Context, app, element string, pat UIPattern) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ui_patterns (app, element, x, y, confidence, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (app, element) DO UPDATE SET
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			confidence = EXCLUDED.confidence,
			last_seen = EXCLUDED.last_seen`,
		app, element, pat.X, pat.Y, pat.Confidence, pat.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to upsert ui pattern: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}
