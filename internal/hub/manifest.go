package hub

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const manifestSchemaVersion = 1

const manifestSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	repo TEXT NOT NULL,
	revision TEXT NOT NULL,
	filename TEXT NOT NULL,
	etag TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (repo, revision, filename)
);
`

var errNoEntry = errors.New("no manifest entry")

// Entry records one cached artifact.
type Entry struct {
	Repo      string
	Revision  string
	Filename  string
	ETag      string
	Path      string
	Size      int64
	FetchedAt time.Time
}

// Manifest indexes the artifacts stored under the cache directory.
type Manifest struct {
	db *sql.DB
}

func OpenManifest(path string) (*Manifest, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=3000;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(manifestSchema); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateManifest(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest migration failed: %w", err)
	}
	return &Manifest{db: db}, nil
}

func (m *Manifest) Close() error {
	return m.db.Close()
}

func (m *Manifest) Lookup(repo, revision, filename string) (Entry, error) {
	row := m.db.QueryRow(`
		SELECT etag, path, size, fetched_at
		FROM artifacts
		WHERE repo = ? AND revision = ? AND filename = ?
	`, repo, revision, filename)

	entry := Entry{Repo: repo, Revision: revision, Filename: filename}
	var fetchedAt string
	if err := row.Scan(&entry.ETag, &entry.Path, &entry.Size, &fetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, errNoEntry
		}
		return Entry{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, fetchedAt); err == nil {
		entry.FetchedAt = ts
	}
	return entry, nil
}

func (m *Manifest) Record(entry Entry) error {
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now()
	}
	_, err := m.db.Exec(`
		INSERT INTO artifacts (repo, revision, filename, etag, path, size, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, revision, filename)
		DO UPDATE SET
			etag = excluded.etag,
			path = excluded.path,
			size = excluded.size,
			fetched_at = excluded.fetched_at
	`, entry.Repo, entry.Revision, entry.Filename, entry.ETag, entry.Path, entry.Size,
		entry.FetchedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func migrateManifest(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return err
	}
	if version >= manifestSchemaVersion {
		return nil
	}
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d;", manifestSchemaVersion))
	return err
}
