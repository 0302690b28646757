package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the daemon's session database: recently opened files, window
// geometry, and per-document on-disk metadata.
type Store struct {
	db *sql.DB
}

// Open opens or creates the session database at the given path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	return OpenWithBusyTimeout(path, 5000)
}

// OpenWithBusyTimeout opens the database with an explicit SQLite busy
// timeout in milliseconds.
func OpenWithBusyTimeout(path string, busyTimeoutMs int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=" + strconv.Itoa(busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpsertRecentFile records that a path was opened, replacing any previous
// entry for the same path.
func (s *Store) UpsertRecentFile(rf *RecentFile) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO recent_files (path, last_opened_ns, encoding, line_ending)
		VALUES (?, ?, ?, ?)`,
		rf.Path, rf.LastOpenedNs, rf.Encoding, rf.LineEnding,
	)
	if err != nil {
		return fmt.Errorf("upsert recent file: %w", err)
	}
	return nil
}

// PruneRecentFiles drops all but the limit most recently opened entries.
func (s *Store) PruneRecentFiles(limit int) error {
	_, err := s.db.Exec(`
		DELETE FROM recent_files
		WHERE path NOT IN (
			SELECT path FROM recent_files
			ORDER BY last_opened_ns DESC
			LIMIT ?
		)`, limit,
	)
	if err != nil {
		return fmt.Errorf("prune recent files: %w", err)
	}
	return nil
}

// RecentFiles returns up to limit entries, most recently opened first.
func (s *Store) RecentFiles(limit int) ([]RecentFile, error) {
	rows, err := s.db.Query(`
		SELECT path, last_opened_ns, encoding, line_ending
		FROM recent_files
		ORDER BY last_opened_ns DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent files: %w", err)
	}
	defer rows.Close()

	var files []RecentFile
	for rows.Next() {
		var rf RecentFile
		if err := rows.Scan(&rf.Path, &rf.LastOpenedNs, &rf.Encoding, &rf.LineEnding); err != nil {
			return nil, fmt.Errorf("scan recent file: %w", err)
		}
		files = append(files, rf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent files: %w", err)
	}

	return files, nil
}

// RemoveRecentFile deletes a path from the recent list. Removing a path
// that is not listed is not an error.
func (s *Store) RemoveRecentFile(path string) error {
	if _, err := s.db.Exec(`DELETE FROM recent_files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("remove recent file: %w", err)
	}
	return nil
}

// SetWindowState saves the geometry for a window label, replacing any
// previous state.
func (s *Store) SetWindowState(ws *WindowState) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO window_state (label, x, y, width, height, maximized, updated_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ws.Label, ws.X, ws.Y, ws.Width, ws.Height, ws.Maximized, ws.UpdatedNs,
	)
	if err != nil {
		return fmt.Errorf("set window state: %w", err)
	}
	return nil
}

// GetWindowState retrieves the saved geometry for a window label.
func (s *Store) GetWindowState(label string) (*WindowState, error) {
	var ws WindowState

	err := s.db.QueryRow(`
		SELECT label, x, y, width, height, maximized, updated_ns
		FROM window_state WHERE label = ?`, label,
	).Scan(&ws.Label, &ws.X, &ws.Y, &ws.Width, &ws.Height, &ws.Maximized, &ws.UpdatedNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get window state: %w", err)
	}

	return &ws, nil
}

// UpsertDocumentMeta records the last-seen on-disk state for a path.
func (s *Store) UpsertDocumentMeta(dm *DocumentMeta) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO documents (path, fingerprint, encoding, line_ending, updated_ns)
		VALUES (?, ?, ?, ?, ?)`,
		dm.Path, dm.Fingerprint[:], dm.Encoding, dm.LineEnding, dm.UpdatedNs,
	)
	if err != nil {
		return fmt.Errorf("upsert document meta: %w", err)
	}
	return nil
}

// GetDocumentMeta retrieves the metadata for a path.
func (s *Store) GetDocumentMeta(path string) (*DocumentMeta, error) {
	var dm DocumentMeta
	var fingerprint []byte

	err := s.db.QueryRow(`
		SELECT path, fingerprint, encoding, line_ending, updated_ns
		FROM documents WHERE path = ?`, path,
	).Scan(&dm.Path, &fingerprint, &dm.Encoding, &dm.LineEnding, &dm.UpdatedNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document meta: %w", err)
	}

	copy(dm.Fingerprint[:], fingerprint)

	return &dm, nil
}

// DeleteDocumentMeta forgets a path. Deleting an unknown path is not an
// error.
func (s *Store) DeleteDocumentMeta(path string) error {
	if _, err := s.db.Exec(`DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete document meta: %w", err)
	}
	return nil
}
