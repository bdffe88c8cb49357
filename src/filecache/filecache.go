// Package filecache keeps the last good copy of every fetched source in a
// sqlite database, so a source that fails later can still contribute.
package filecache

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	DefaultMaxCacheItems = 200
	MaxCacheItems        = 100000 // Maximum allowed cache size

	// CacheSizeEnv overrides DefaultMaxCacheItems.
	CacheSizeEnv = "IPTVMERGE_CACHE_SIZE"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	hash TEXT PRIMARY KEY,
	url TEXT,
	size INTEGER,
	etag TEXT,
	content_type TEXT,
	cached_at INTEGER,
	access_time INTEGER,
	body BLOB
);
`

type Metadata struct {
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag"`
	ContentType string    `json:"content_type"`
	CachedAt    time.Time `json:"cached_at"`
}

type FileCache struct {
	dir   string
	db    *sql.DB
	mutex sync.RWMutex
}

// Open opens or creates the cache database below baseDir. Inside a snap the
// database lives in SNAP_COMMON instead.
func Open(baseDir string) (*FileCache, error) {
	cacheDir := os.Getenv("SNAP_COMMON")
	if cacheDir != "" {
		cacheDir = filepath.Join(cacheDir, "iptvmerge_cache")
	} else {
		cacheDir = filepath.Join(baseDir, "iptvmerge_cache")
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(cacheDir, "cache.db"))
	if err != nil {
		return nil, err
	}

	// WAL lets readers run while a fetch stores a body.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	return &FileCache{dir: cacheDir, db: db}, nil
}

// Dir returns the folder holding the database.
func (c *FileCache) Dir() string {
	return c.dir
}

// Close closes the database.
func (c *FileCache) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.db.Close()
}

func HashURL(url string) string {
	hash := md5.Sum([]byte(url))
	return hex.EncodeToString(hash[:])
}

// getMaxCacheItems returns the configured maximum cache items, defaulting to DefaultMaxCacheItems.
func getMaxCacheItems() int {
	if val := os.Getenv(CacheSizeEnv); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			if size > MaxCacheItems {
				return MaxCacheItems
			}
			return size
		}
	}
	return DefaultMaxCacheItems
}

// Put stores body as the last good copy of url.
func (c *FileCache) Put(url string, body []byte, meta Metadata) error {
	hash := HashURL(url)

	cachedAt := meta.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.Exec(`INSERT OR REPLACE INTO sources (hash, url, size, etag, content_type, cached_at, access_time, body) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		hash, url, len(body), meta.ETag, meta.ContentType, cachedAt.UnixNano(), time.Now().UnixNano(), body)
	if err != nil {
		return fmt.Errorf("cache %s: %w", url, err)
	}
	return nil
}

// Get returns the last good copy of url.
func (c *FileCache) Get(url string) ([]byte, *Metadata, bool) {
	hash := HashURL(url)
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var meta Metadata
	var cachedAtNano int64
	var body []byte

	err := c.db.QueryRow(`SELECT url, size, etag, content_type, cached_at, body FROM sources WHERE hash = ?`, hash).Scan(
		&meta.URL, &meta.Size, &meta.ETag, &meta.ContentType, &cachedAtNano, &body,
	)
	if err != nil {
		return nil, nil, false
	}
	meta.CachedAt = time.Unix(0, cachedAtNano)

	c.db.Exec("UPDATE sources SET access_time = ? WHERE hash = ?", time.Now().UnixNano(), hash)

	return body, &meta, true
}

// Len returns the number of cached sources.
func (c *FileCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM sources").Scan(&count); err != nil {
		return 0
	}
	return count
}

// CleanNow drops the least recently used entries above the size limit.
func (c *FileCache) CleanNow() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	maxItems := getMaxCacheItems()

	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM sources").Scan(&count); err != nil {
		return
	}

	if count <= maxItems {
		return
	}

	c.db.Exec(`DELETE FROM sources WHERE hash IN (SELECT hash FROM sources ORDER BY access_time ASC LIMIT ?)`, count-maxItems)
}
