// Package sqlite is an exact-match cache of archive search results. A
// repeated search for the same area, dates and filters is served locally
// instead of hitting the upstream catalog again.
package sqlite

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skygate-io/skygate/pkg/models"
)

// Cache stores serialized search results keyed by request hash.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS search_cache (
	request_hash TEXT PRIMARY KEY,
	results BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ttl_seconds INTEGER NOT NULL
);
`

// New creates a Cache with the given database path and default TTL.
func New(dbPath string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db, ttl: ttl}, nil
}

// HashRequest computes a SHA-256 hash of a search request. Two requests
// hash equal only when every field matches.
func HashRequest(req models.SearchRequest) string {
	h := sha256.New()
	data, _ := json.Marshal(req)
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get retrieves cached results. Returns false if not found or expired.
func (c *Cache) Get(requestHash string) ([]models.Archive, bool) {
	var results []byte
	var createdAt time.Time
	var ttlSeconds int64

	err := c.db.QueryRow(
		`SELECT results, created_at, ttl_seconds FROM search_cache WHERE request_hash = ?`,
		requestHash,
	).Scan(&results, &createdAt, &ttlSeconds)

	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	ttl := time.Duration(ttlSeconds) * time.Second
	if time.Since(createdAt) > ttl {
		c.misses.Add(1)
		return nil, false
	}

	var archives []models.Archive
	if err := json.Unmarshal(results, &archives); err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return archives, true
}

// Put stores search results.
func (c *Cache) Put(requestHash string, archives []models.Archive) error {
	data, err := json.Marshal(archives)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO search_cache (request_hash, results, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?)`,
		requestHash, data, time.Now().UTC(), int64(c.ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM search_cache`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries
// are removed.
func (c *Cache) Clear(expiredOnly bool) error {
	var query string
	if expiredOnly {
		query = `DELETE FROM search_cache WHERE (julianday('now') - julianday(created_at)) * 86400 > ttl_seconds`
	} else {
		query = `DELETE FROM search_cache`
	}
	_, err := c.db.Exec(query)
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
