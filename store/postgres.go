package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cellgrid/task"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS collections (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    targets_json JSONB,
    tasks_json JSONB,
    plan_json JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cell_states (
    collection_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    state_json JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection_id, target_id, task_id)
);
CREATE INDEX IF NOT EXISTS idx_cell_states_task ON cell_states(collection_id, task_id);
`

// PostgresStore persists collections in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the tables if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveCollection(ctx context.Context, c *task.Collection) error {
	rec, err := encodeCollection(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO collections (id, title, description, targets_json, tasks_json, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   description = EXCLUDED.description,
		   targets_json = EXCLUDED.targets_json,
		   tasks_json = EXCLUDED.tasks_json,
		   updated_at = now()`,
		rec.ID, rec.Title, rec.Description, string(rec.Targets), string(rec.Tasks))
	if err != nil {
		return fmt.Errorf("save collection %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) SaveState(ctx context.Context, collectionID string, key task.Key, st task.State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO cell_states (collection_id, target_id, task_id, state_json, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (collection_id, target_id, task_id) DO UPDATE SET
		   state_json = EXCLUDED.state_json,
		   updated_at = now()`,
		collectionID, key.Target, key.TaskID, string(data))
	batch.Queue(`UPDATE collections SET updated_at = now() WHERE id = $1`, collectionID)
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) DeleteState(ctx context.Context, collectionID string, key task.Key) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM cell_states WHERE collection_id = $1 AND target_id = $2 AND task_id = $3`,
		collectionID, key.Target, key.TaskID)
	return err
}

func (s *PostgresStore) DeleteTask(ctx context.Context, collectionID, taskID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM cell_states WHERE collection_id = $1 AND task_id = $2`,
		collectionID, taskID)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

func (s *PostgresStore) SavePlan(ctx context.Context, collectionID string, plan *task.Plan) error {
	data, err := encodePlan(plan)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE collections SET plan_json = $1 WHERE id = $2`, string(data), collectionID)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LoadPlan(ctx context.Context, collectionID string) (*task.Plan, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT plan_json FROM collections WHERE id = $1`, collectionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return decodePlan(data)
}

func (s *PostgresStore) LoadCollection(ctx context.Context, collectionID string) (*task.Collection, error) {
	var rec collectionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, description, targets_json, tasks_json, updated_at FROM collections WHERE id = $1`,
		collectionID,
	).Scan(&rec.ID, &rec.Title, &rec.Description, &rec.Targets, &rec.Tasks, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", collectionID, err)
	}
	c, err := rec.collection()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT target_id, task_id, state_json FROM cell_states WHERE collection_id = $1`,
		collectionID)
	if err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k task.Key
		var data []byte
		if err := rows.Scan(&k.Target, &k.TaskID, &data); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		if err := restoreState(c, k, data); err != nil {
			return nil, err
		}
	}
	return c, rows.Err()
}

func (s *PostgresStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, targets_json, tasks_json, updated_at FROM collections ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var rec collectionRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Targets, &rec.Tasks, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		info, err := rec.info()
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
