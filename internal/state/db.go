package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // SQLite driver
)

// DBFileName is the bookkeeping database kept inside the destination
// directory.
const DBFileName = ".moodlegrab.db"

// Store records which files finished downloading and which lecture videos
// were already resolved, so reruns only transfer what is missing.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	path TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	size INTEGER,
	completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS videos (
	path TEXT PRIMARY KEY,
	entry_id TEXT,
	media_url TEXT NOT NULL,
	resolved_at INTEGER
);
`

// Open opens (or creates) the store inside dir. A flock guards against two
// concurrent runs writing the same database.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating destination directory: %v", err)
	}
	dbPath := filepath.Join(dir, DBFileName)
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("error locking state database: %v", err)
	}
	if !locked {
		return nil, fmt.Errorf("state database is locked, is another instance running in %s?", dir)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("error opening state database: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("error creating state tables: %v", err)
	}
	return &Store{db: db, lock: lock}, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// IsCompleted reports whether path was already downloaded. A positive
// expected size must also match the recorded one, so re-uploaded files get
// fetched again.
func (s *Store) IsCompleted(path string, size int64) (bool, error) {
	var recorded int64
	err := s.db.QueryRow(`SELECT size FROM downloads WHERE path = ?`, path).Scan(&recorded)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error querying downloads: %v", err)
	}
	if size > 0 && recorded != size {
		return false, nil
	}
	return true, nil
}

func (s *Store) MarkCompleted(path, url string, size int64) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO downloads (path, url, size, completed_at) VALUES (?, ?, ?, ?)`,
		path, url, size, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("error recording download: %v", err)
	}
	return nil
}

// VideoURL returns the previously resolved media URL for a video path.
func (s *Store) VideoURL(path string) (string, error) {
	var mediaURL string
	err := s.db.QueryRow(`SELECT media_url FROM videos WHERE path = ?`, path).Scan(&mediaURL)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error querying videos: %v", err)
	}
	return mediaURL, nil
}

func (s *Store) SaveVideo(path, entryID, mediaURL string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO videos (path, entry_id, media_url, resolved_at) VALUES (?, ?, ?, ?)`,
		path, entryID, mediaURL, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("error recording video: %v", err)
	}
	return nil
}

// Videos returns every resolved video as path -> media URL.
func (s *Store) Videos() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT path, media_url FROM videos ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("error listing videos: %v", err)
	}
	defer rows.Close()
	videos := make(map[string]string)
	for rows.Next() {
		var path, mediaURL string
		if err := rows.Scan(&path, &mediaURL); err != nil {
			return nil, err
		}
		videos[path] = mediaURL
	}
	return videos, rows.Err()
}

// ExportVideosManifest writes the resolved videos as a JSON map, the format
// external players and download scripts consume.
func (s *Store) ExportVideosManifest(jsonPath string) error {
	videos, err := s.Videos()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(videos, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("error writing videos manifest: %v", err)
	}
	return nil
}
