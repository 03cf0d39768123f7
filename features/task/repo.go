package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Repository interface {
	Create(ctx context.Context, t *Task, input []byte) error
	Update(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Create inserts the task and its dispatch input in one transaction.
func (r *PostgresRepo) Create(ctx context.Context, t *Task, input []byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO tasks (id, type, status, progress, stage, error, document_ref) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`
	if err := tx.QueryRowContext(ctx, query, t.ID, t.Type, t.Status, t.Progress, t.Stage, t.Error, t.DocumentRef).Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO task_inputs (task_id, payload) VALUES ($1, $2)`, t.ID, input); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	return nil
}

// Update writes status and progress only while the stored task is still
// active, so a terminal row is never overwritten.
func (r *PostgresRepo) Update(ctx context.Context, t *Task) error {
	query := `
		UPDATE tasks
		SET status = $2, progress = $3, stage = $4, error = $5, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
		RETURNING updated_at
	`
	err := r.db.QueryRowContext(ctx, query, t.ID, t.Status, t.Progress, t.Stage, t.Error).Scan(&t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTaskInactive
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Task, error) {
	t := &Task{}
	query := `SELECT id, type, status, progress, stage, error, document_ref, created_at, updated_at FROM tasks WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Type, &t.Status, &t.Progress, &t.Stage, &t.Error, &t.DocumentRef, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}
