package policy

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS clause_embeddings (
	model        TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	vector       BLOB NOT NULL,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (model, content_hash)
);
`

// Cache persists clause embeddings so unchanged documents are not
// re-embedded across restarts.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (or creates) the sqlite cache at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached vector for text under model, if any.
func (c *Cache) Get(model, text string) ([]float32, bool, error) {
	var blob []byte
	err := c.db.QueryRow(
		`SELECT vector FROM clause_embeddings WHERE model = ? AND content_hash = ?`,
		model, contentHash(text),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query embedding: %w", err)
	}
	return decodeVector(blob), true, nil
}

func (c *Cache) Put(model, text string, vec []float32) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO clause_embeddings (model, content_hash, vector, created_at)
		 VALUES (?, ?, ?, ?)`,
		model, contentHash(text), encodeVector(vec), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
