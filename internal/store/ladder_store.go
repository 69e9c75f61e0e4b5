// Package store provides persistent storage for built LOD ladders and
// rebuild-job state using SQLite plus columnar level files.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scatter-lod/server/internal/frame"
	"github.com/scatter-lod/server/internal/lod"
)

var (
	// ErrNotFound indicates no persisted ladder exists for the dataset.
	ErrNotFound = errors.New("no persisted ladder for dataset")
	// ErrStaleConfig indicates the persisted ladder was built with a
	// different configuration and must be rebuilt.
	ErrStaleConfig = errors.New("persisted ladder configuration is stale")
)

// Store persists ladder manifests in SQLite and level rows as columnar
// files next to the database.
type Store struct {
	db  *sql.DB
	dir string
	mu  sync.Mutex
}

// LevelEntry describes one persisted level.
type LevelEntry struct {
	Position int    `json:"position"`
	Target   uint64 `json:"target"`
	RowCount int    `json:"row_count"`
	File     string `json:"file"`
}

// NewStore opens (or creates) the store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "ladders.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db, dir: dir}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ladders (
		dataset_id TEXT PRIMARY KEY,
		config_hash TEXT NOT NULL,
		total_rows INTEGER NOT NULL,
		built_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ladder_levels (
		dataset_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		target INTEGER NOT NULL,
		row_count INTEGER NOT NULL,
		file TEXT NOT NULL,
		PRIMARY KEY (dataset_id, position),
		FOREIGN KEY (dataset_id) REFERENCES ladders(dataset_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS rebuild_jobs (
		job_id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rebuild_jobs_status ON rebuild_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_rebuild_jobs_dataset ON rebuild_jobs(dataset_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// levelFile names a level's on-disk file. Sanitizing alone is lossy (both
// "a_b=c" and "a#b=c" sanitize to "a_b_c"), so a short hash of the raw id
// keeps distinct dataset and partition ids from sharing files.
func (s *Store) levelFile(datasetID string, position int) string {
	sum := sha256.Sum256([]byte(datasetID))
	return fmt.Sprintf("%s_%s_level_%d.slod", sanitizeID(datasetID), hex.EncodeToString(sum[:4]), position)
}

// SaveLadder persists every bounded level of a ladder (the full-resolution
// final level stays with the raw dataset and is re-attached on load). Any
// previously persisted ladder for the dataset is replaced.
func (s *Store) SaveLadder(datasetID, configHash string, ladder *lod.Ladder, totalRows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bounded := ladder.Levels[:len(ladder.Levels)-1]

	// Write level files before touching the manifest.
	entries := make([]LevelEntry, 0, len(bounded))
	for i, lv := range bounded {
		tab, err := lv.View.Materialize()
		if err != nil {
			return fmt.Errorf("failed to materialize level %d: %w", i, err)
		}
		file := s.levelFile(datasetID, i)
		if err := frame.WriteFile(filepath.Join(s.dir, file), tab); err != nil {
			return fmt.Errorf("failed to write level %d: %w", i, err)
		}
		entries = append(entries, LevelEntry{
			Position: i,
			Target:   lv.Target,
			RowCount: tab.NumRows(),
			File:     file,
		})
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM ladder_levels WHERE dataset_id = ?", datasetID); err != nil {
		return fmt.Errorf("failed to clear old levels: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM ladders WHERE dataset_id = ?", datasetID); err != nil {
		return fmt.Errorf("failed to clear old manifest: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(
		"INSERT INTO ladders (dataset_id, config_hash, total_rows, built_at) VALUES (?, ?, ?, ?)",
		datasetID, configHash, totalRows, now,
	); err != nil {
		return fmt.Errorf("failed to insert manifest: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(
			"INSERT INTO ladder_levels (dataset_id, position, target, row_count, file) VALUES (?, ?, ?, ?, ?)",
			datasetID, e.Position, int64(e.Target), e.RowCount, e.File,
		); err != nil {
			return fmt.Errorf("failed to insert level %d: %w", e.Position, err)
		}
	}

	return tx.Commit()
}

// LoadLadder reads the persisted bounded levels for a dataset, verifying the
// configuration hash. The caller appends its raw data as the final level.
// Returns ErrNotFound when nothing is persisted and ErrStaleConfig when the
// configuration changed since the build.
func (s *Store) LoadLadder(datasetID, configHash string) ([]lod.Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var storedHash string
	err := s.db.QueryRow(
		"SELECT config_hash FROM ladders WHERE dataset_id = ?", datasetID,
	).Scan(&storedHash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query manifest: %w", err)
	}
	if storedHash != configHash {
		return nil, fmt.Errorf("%w: stored %s, want %s", ErrStaleConfig, storedHash, configHash)
	}

	rows, err := s.db.Query(
		"SELECT position, target, row_count, file FROM ladder_levels WHERE dataset_id = ? ORDER BY position",
		datasetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels: %w", err)
	}
	defer rows.Close()

	var entries []LevelEntry
	for rows.Next() {
		var e LevelEntry
		var target int64
		if err := rows.Scan(&e.Position, &target, &e.RowCount, &e.File); err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		e.Target = uint64(target)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read levels: %w", err)
	}

	levels := make([]lod.Level, 0, len(entries))
	for _, e := range entries {
		tab, err := frame.ReadFile(filepath.Join(s.dir, e.File))
		if err != nil {
			if errors.Is(err, frame.ErrIncompatible) {
				return nil, fmt.Errorf("%w: %v", ErrStaleConfig, err)
			}
			return nil, fmt.Errorf("failed to read level %d: %w", e.Position, err)
		}
		if tab.NumRows() != e.RowCount {
			return nil, fmt.Errorf("level %d has %d rows, manifest says %d", e.Position, tab.NumRows(), e.RowCount)
		}
		levels = append(levels, lod.Level{Target: e.Target, View: tab.View()})
	}
	return levels, nil
}

// DeleteLadder removes a persisted ladder and its level files.
func (s *Store) DeleteLadder(datasetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT file FROM ladder_levels WHERE dataset_id = ?", datasetID)
	if err != nil {
		return fmt.Errorf("failed to query levels: %w", err)
	}
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan level: %w", err)
		}
		files = append(files, f)
	}
	rows.Close()

	if _, err := s.db.Exec("DELETE FROM ladder_levels WHERE dataset_id = ?", datasetID); err != nil {
		return fmt.Errorf("failed to delete levels: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM ladders WHERE dataset_id = ?", datasetID); err != nil {
		return fmt.Errorf("failed to delete manifest: %w", err)
	}
	for _, f := range files {
		os.Remove(filepath.Join(s.dir, f))
	}
	return nil
}
