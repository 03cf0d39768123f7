package settings

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Get reads the single settings row. A missing row reads as blank settings,
// which the service fills with defaults.
func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, gemini_api_key, gemini_model, temperature FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.GeminiAPIKey, &s.GeminiModel, &s.Temperature)
	if errors.Is(err, sql.ErrNoRows) {
		return &Settings{ID: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `INSERT INTO settings (id, gemini_api_key, gemini_model, temperature) VALUES (1, $1, $2, $3) ` +
		`ON CONFLICT (id) DO UPDATE SET gemini_api_key = EXCLUDED.gemini_api_key, gemini_model = EXCLUDED.gemini_model, temperature = EXCLUDED.temperature, updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, s.GeminiAPIKey, s.GeminiModel, s.Temperature)
	return err
}
