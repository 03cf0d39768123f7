package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"docproof/apps/backend/internal/cache"
	"docproof/apps/backend/internal/completion"
)

var bucketResults = []byte("analysis_cache")

type entry struct {
	Findings  []completion.Finding `json:"findings"`
	CreatedAt time.Time            `json:"created_at"`
}

// Cache keeps analysis results in a local bbolt file for single-node setups.
type Cache struct {
	db *bbolt.DB
}

func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Lookup(ctx context.Context, key cache.Key) ([]completion.Finding, bool, error) {
	var (
		e     entry
		found bool
	)
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResults).Get([]byte(key.String()))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &e)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return e.Findings, true, nil
}

func (c *Cache) Store(ctx context.Context, key cache.Key, findings []completion.Finding) error {
	data, err := json.Marshal(entry{Findings: findings, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResults).Put([]byte(key.String()), data)
	})
}

func (c *Cache) Close() error {
	return c.db.Close()
}
