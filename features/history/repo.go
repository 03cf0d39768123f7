package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save records the document and its findings in one transaction.
func (r *PostgresRepo) Save(ctx context.Context, res *AnalysisResult) error {
	findings, err := json.Marshal(res.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	docQuery := `INSERT INTO documents (source_type, source_ref, file_name) VALUES ($1, $2, $3) RETURNING id`
	if err := tx.QueryRowContext(ctx, docQuery, res.SourceType, res.DocumentRef, res.FileName).Scan(&res.DocumentID); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	resQuery := `INSERT INTO analysis_results (task_id, document_id, result_json, from_cache) VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	if err := tx.QueryRowContext(ctx, resQuery, res.TaskID, res.DocumentID, findings, res.FromCache).Scan(&res.ID, &res.CreatedAt); err != nil {
		return fmt.Errorf("insert analysis result: %w", err)
	}

	return tx.Commit()
}

const selectResult = `
	SELECT r.id, r.task_id, r.document_id, d.source_type, d.source_ref, d.file_name, r.result_json, r.from_cache, r.created_at
	FROM analysis_results r
	JOIN documents d ON d.id = r.document_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*AnalysisResult, error) {
	var (
		res AnalysisResult
		raw []byte
	)
	if err := row.Scan(&res.ID, &res.TaskID, &res.DocumentID, &res.SourceType, &res.DocumentRef, &res.FileName, &raw, &res.FromCache, &res.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &res.Findings); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}
	return &res, nil
}

func (r *PostgresRepo) GetByTask(ctx context.Context, taskID string) (*AnalysisResult, error) {
	res, err := scanResult(r.db.QueryRowContext(ctx, selectResult+` WHERE r.task_id = $1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

func (r *PostgresRepo) List(ctx context.Context, limit, offset int) ([]AnalysisResult, error) {
	rows, err := r.db.QueryContext(ctx, selectResult+` ORDER BY r.created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AnalysisResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, rows.Err()
}

func (r *PostgresRepo) Delete(ctx context.Context, taskID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE task_id = $1`, taskID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_results`).Scan(&count)
	return count, err
}
