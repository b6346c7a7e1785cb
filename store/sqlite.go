package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cellgrid/task"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    targets_json TEXT,
    tasks_json TEXT,
    plan_json TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cell_states (
    collection_id TEXT NOT NULL REFERENCES collections(id),
    target_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    state_json TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (collection_id, target_id, task_id)
);
CREATE INDEX IF NOT EXISTS idx_cell_states_task ON cell_states(collection_id, task_id);
`

// SQLiteStore persists collections in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveCollection(ctx context.Context, c *task.Collection) error {
	rec, err := encodeCollection(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (id, title, description, targets_json, tasks_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   description = excluded.description,
		   targets_json = excluded.targets_json,
		   tasks_json = excluded.tasks_json,
		   updated_at = excluded.updated_at`,
		rec.ID, rec.Title, rec.Description, string(rec.Targets), string(rec.Tasks), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save collection %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, collectionID string, key task.Key, st task.State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cell_states (collection_id, target_id, task_id, state_json, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collectionID, key.Target, key.TaskID, string(data), now,
	)
	if err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE collections SET updated_at = ? WHERE id = ?`, now, collectionID)
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, collectionID string, key task.Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cell_states WHERE collection_id = ? AND target_id = ? AND task_id = ?`,
		collectionID, key.Target, key.TaskID,
	)
	return err
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, collectionID, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cell_states WHERE collection_id = ? AND task_id = ?`,
		collectionID, taskID,
	)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

func (s *SQLiteStore) SavePlan(ctx context.Context, collectionID string, plan *task.Plan) error {
	data, err := encodePlan(plan)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE collections SET plan_json = ? WHERE id = ?`, string(data), collectionID)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) LoadPlan(ctx context.Context, collectionID string) (*task.Plan, error) {
	var planJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT plan_json FROM collections WHERE id = ?`, collectionID).Scan(&planJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if !planJSON.Valid || planJSON.String == "" {
		return nil, nil
	}
	return decodePlan([]byte(planJSON.String))
}

func (s *SQLiteStore) LoadCollection(ctx context.Context, collectionID string) (*task.Collection, error) {
	rec, err := s.loadRecord(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	c, err := rec.collection()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, task_id, state_json FROM cell_states WHERE collection_id = ?`,
		collectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k task.Key
		var data string
		if err := rows.Scan(&k.Target, &k.TaskID, &data); err != nil {
			return nil, err
		}
		if err := restoreState(c, k, []byte(data)); err != nil {
			return nil, err
		}
	}
	return c, rows.Err()
}

func (s *SQLiteStore) loadRecord(ctx context.Context, id string) (collectionRecord, error) {
	var rec collectionRecord
	var description, targets, tasks sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, targets_json, tasks_json, updated_at FROM collections WHERE id = ?`,
		id,
	).Scan(&rec.ID, &rec.Title, &description, &targets, &tasks, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("load collection %s: %w", id, err)
	}
	rec.Description = description.String
	rec.Targets = []byte(targets.String)
	rec.Tasks = []byte(tasks.String)
	return rec, nil
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, targets_json, tasks_json, updated_at FROM collections ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var rec collectionRecord
		var targets, tasks sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Title, &targets, &tasks, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Targets = []byte(targets.String)
		rec.Tasks = []byte(tasks.String)
		info, err := rec.info()
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
