package urlcache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry mirrors SourceCacheEntry: one cached download of a normalized URL.
type Entry struct {
	ID             int64
	NormalizedURL  string
	URLKey         string
	ContentSHA256  string
	LocalPath      string
	SizeBytes      int64
	CreatedAt      int64
	LastAccessedAt int64
	HitCount       int64
}

// Store is the SQLite-backed content-addressed cache index. A single mutex
// serializes prune+upsert, matching the original's single-process lock
// discipline around shared cache state.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	root     string
	ttl      time.Duration
	maxBytes int64
}

// Open creates (if needed) the cache root and its SQLite index at
// <root>/index.sqlite3, with the given TTL and size cap.
func Open(root string, ttl time.Duration, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("urlcache: create cache root: %w", err)
	}
	dbPath := filepath.Join(root, "index.sqlite3")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("urlcache: open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS url_source_cache (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			normalized_url TEXT NOT NULL,
			url_key TEXT NOT NULL,
			content_sha256 TEXT NOT NULL,
			local_path TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT 0,
			last_accessed_at INTEGER NOT NULL DEFAULT 0,
			hit_count INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("urlcache: create table: %w", err)
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_url_source_cache_url ON url_source_cache(normalized_url, last_accessed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_url_source_cache_access ON url_source_cache(last_accessed_at ASC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_url_source_cache_uniq ON url_source_cache(normalized_url, content_sha256)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("urlcache: create index: %w", err)
		}
	}

	return &Store{db: db, root: root, ttl: ttl, maxBytes: maxBytes}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func cacheKey(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// Lookup prunes expired/oversized entries, then returns the most recently
// accessed live entry for normalizedURL, bumping its hit count and access
// time. ok is false on a cache miss.
func (s *Store) Lookup(normalizedURL string) (path string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pruneLocked(); err != nil {
		return "", false, err
	}

	var id, hitCount int64
	var localPath string
	row := s.db.QueryRow(`
		SELECT id, local_path, hit_count FROM url_source_cache
		WHERE normalized_url = ?
		ORDER BY last_accessed_at DESC, id DESC LIMIT 1`, normalizedURL)
	switch err := row.Scan(&id, &localPath, &hitCount); {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("urlcache: lookup: %w", err)
	}

	if _, statErr := os.Stat(localPath); statErr != nil {
		s.deleteRowLocked(id, localPath)
		return "", false, nil
	}

	now := time.Now().Unix()
	if _, err := s.db.Exec(`UPDATE url_source_cache SET last_accessed_at = ?, hit_count = ? WHERE id = ?`,
		now, hitCount+1, id); err != nil {
		return "", false, fmt.Errorf("urlcache: update access: %w", err)
	}
	return localPath, true, nil
}

// Store hashes downloadedPath's contents, copies it (if not already present)
// into <root>/<sha256><ext>, and upserts the index row keyed on
// (normalizedURL, content sha256).
func (s *Store) Store(normalizedURL, downloadedPath string) error {
	contentSHA, err := hashFile(downloadedPath)
	if err != nil {
		return fmt.Errorf("urlcache: hash downloaded file: %w", err)
	}
	ext := filepath.Ext(downloadedPath)
	if ext == "" {
		ext = ".mp4"
	}
	cachedPath := filepath.Join(s.root, contentSHA+ext)
	if _, err := os.Stat(cachedPath); os.IsNotExist(err) {
		if err := copyFile(downloadedPath, cachedPath); err != nil {
			return fmt.Errorf("urlcache: copy into cache: %w", err)
		}
	}
	info, err := os.Stat(cachedPath)
	if err != nil {
		return fmt.Errorf("urlcache: stat cached file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if _, err := s.db.Exec(`
		INSERT INTO url_source_cache(
			normalized_url, url_key, content_sha256, local_path, size_bytes,
			created_at, last_accessed_at, hit_count
		) VALUES(?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(normalized_url, content_sha256) DO UPDATE SET
			local_path=excluded.local_path,
			size_bytes=excluded.size_bytes,
			last_accessed_at=excluded.last_accessed_at`,
		normalizedURL, cacheKey(normalizedURL), contentSHA, cachedPath, info.Size(), now, now,
	); err != nil {
		return fmt.Errorf("urlcache: upsert: %w", err)
	}
	return s.pruneLocked()
}

// pruneLocked drops rows whose file vanished or whose last access predates
// the TTL, then (if still over the size cap) drops oldest-by-access entries
// until under cap. Caller must hold s.mu.
func (s *Store) pruneLocked() error {
	expireBefore := time.Now().Add(-s.ttl).Unix()

	rows, err := s.db.Query(`SELECT id, local_path, size_bytes, last_accessed_at FROM url_source_cache ORDER BY last_accessed_at ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("urlcache: prune scan: %w", err)
	}
	type alive struct {
		id             int64
		localPath      string
		sizeBytes      int64
		lastAccessedAt int64
	}
	var aliveRows []alive
	var totalSize int64
	for rows.Next() {
		var a alive
		if err := rows.Scan(&a.id, &a.localPath, &a.sizeBytes, &a.lastAccessedAt); err != nil {
			rows.Close()
			return fmt.Errorf("urlcache: prune row: %w", err)
		}
		info, statErr := os.Stat(a.localPath)
		if statErr != nil {
			s.deleteRowLocked(a.id, a.localPath)
			continue
		}
		if a.lastAccessedAt <= 0 || a.lastAccessedAt < expireBefore {
			s.deleteRowLocked(a.id, a.localPath)
			continue
		}
		size := a.sizeBytes
		if size <= 0 {
			size = info.Size()
		}
		aliveRows = append(aliveRows, alive{a.id, a.localPath, size, a.lastAccessedAt})
		totalSize += size
	}
	rows.Close()

	if totalSize <= s.maxBytes {
		return nil
	}
	for _, a := range aliveRows {
		if totalSize <= s.maxBytes {
			break
		}
		s.deleteRowLocked(a.id, a.localPath)
		totalSize -= a.sizeBytes
	}
	return nil
}

func (s *Store) deleteRowLocked(id int64, localPath string) {
	_ = os.Remove(localPath)
	_, _ = s.db.Exec(`DELETE FROM url_source_cache WHERE id = ?`, id)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	buf := make([]byte, 1024*1024)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr != nil {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := out.Name()
	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		os.Remove(tmpName)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}
