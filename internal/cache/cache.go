package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"docproof/apps/backend/internal/completion"
)

// Key identifies a previous analysis of the same document with the same
// prompt and knowledge flags.
type Key struct {
	DocRef     string
	PromptHash string
	Flags      string
}

func NewKey(docRef, prompt, flags string) Key {
	return Key{DocRef: docRef, PromptHash: Fingerprint(prompt), Flags: flags}
}

func (k Key) String() string {
	return k.DocRef + "|" + k.PromptHash + "|" + k.Flags
}

// Fingerprint is the hex SHA-256 of a fully built prompt.
func Fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

type Cache interface {
	Lookup(ctx context.Context, key Key) ([]completion.Finding, bool, error)
	Store(ctx context.Context, key Key, findings []completion.Finding) error
}

type PostgresCache struct {
	db *sql.DB
}

func NewPostgresCache(db *sql.DB) *PostgresCache {
	return &PostgresCache{db: db}
}

func (c *PostgresCache) Lookup(ctx context.Context, key Key) ([]completion.Finding, bool, error) {
	var raw []byte
	query := `SELECT result_json FROM analysis_cache WHERE doc_ref = $1 AND prompt_hash = $2 AND knowledge_flags = $3`
	err := c.db.QueryRowContext(ctx, query, key.DocRef, key.PromptHash, key.Flags).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var findings []completion.Finding
	if err := json.Unmarshal(raw, &findings); err != nil {
		return nil, false, fmt.Errorf("decode cached findings: %w", err)
	}
	return findings, true, nil
}

func (c *PostgresCache) Store(ctx context.Context, key Key, findings []completion.Finding) error {
	raw, err := json.Marshal(findings)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO analysis_cache (doc_ref, prompt_hash, knowledge_flags, result_json)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doc_ref, prompt_hash, knowledge_flags)
		DO UPDATE SET result_json = EXCLUDED.result_json, created_at = NOW()
	`
	_, err = c.db.ExecContext(ctx, query, key.DocRef, key.PromptHash, key.Flags, raw)
	return err
}
