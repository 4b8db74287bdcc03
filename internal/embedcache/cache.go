// Package embedcache caches record embeddings in SQLite, keyed by prompt
// fingerprint and model. Merge scans re-run over the same corpus often; the
// cache keeps them from re-embedding records whose content never changed.
package embedcache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Cache wraps the SQLite connection.
type Cache struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	fingerprint TEXT NOT NULL,
	model       TEXT NOT NULL,
	vector      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	PRIMARY KEY (fingerprint, model)
);
`

// Open opens or creates <statePath>/system/embeddings.db.
func Open(statePath string) (*Cache, error) {
	dbPath := filepath.Join(statePath, "system", "embeddings.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping embedding cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init embedding cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached vector for a fingerprint/model pair.
func (c *Cache) Get(fingerprint, model string) ([]float64, bool, error) {
	var raw string
	err := c.db.QueryRow(
		`SELECT vector FROM embeddings WHERE fingerprint = ? AND model = ?`,
		fingerprint, model,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vec []float64
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, false, fmt.Errorf("decode cached vector: %w", err)
	}
	return vec, true, nil
}

// Put stores or replaces a vector.
func (c *Cache) Put(fingerprint, model string, vec []float64) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO embeddings (fingerprint, model, vector, created_at) VALUES (?, ?, ?, ?)`,
		fingerprint, model, string(raw), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Prune drops entries older than maxAge. Returns rows removed.
func (c *Cache) Prune(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	res, err := c.db.Exec(`DELETE FROM embeddings WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
