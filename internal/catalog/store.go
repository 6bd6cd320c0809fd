// Package catalog implements the item catalog and trash mechanism over
// sqlite. The engine itself only depends on the narrow interfaces the
// scanner and resolver declare; this store is the production adapter
// behind both, and also persists the latest scan's group assignments so
// one-shot CLI invocations can resolve them later.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mediadedup/internal/models"
)

// Store handles persistence of catalog items, trash state and duplicate
// group assignments
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (and if needed creates) the catalog database
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Current schema version
const schemaVersion = 2

// migrations defines all schema migrations.
// Each migration should be idempotent (safe to run multiple times).
var migrations = []struct {
	version     int
	description string
	up          string
}{
	{
		version:     1,
		description: "Initial schema",
		up:          "", // Handled by base schema creation
	},
	{
		version:     2,
		description: "Add duplicate_bytes column to scan_history",
		up: `
			ALTER TABLE scan_history ADD COLUMN duplicate_bytes INTEGER DEFAULT 0;
		`,
	},
}

// init creates the database schema
func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		filename TEXT NOT NULL,
		size INTEGER,
		uploaded_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_items_user ON items(user_id);
	CREATE INDEX IF NOT EXISTS idx_items_deleted ON items(deleted_at);

	CREATE TABLE IF NOT EXISTS group_members (
		group_key TEXT NOT NULL,
		match_type TEXT NOT NULL,
		item_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (group_key, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_group_members_key ON group_members(group_key);

	CREATE TABLE IF NOT EXISTS scan_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		scanned_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		total_items INTEGER NOT NULL,
		total_groups INTEGER NOT NULL,
		total_duplicates INTEGER NOT NULL
	);
	`

	_, err = s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := s.migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// migrate runs pending schema migrations
func (s *Store) migrate() error {
	currentVersion := s.getSchemaVersion()

	for _, m := range migrations {
		if m.version <= currentVersion || m.up == "" {
			continue
		}

		// Check if migration is needed (column might already exist)
		if m.version == 2 {
			if s.columnExists("scan_history", "duplicate_bytes") {
				s.setSchemaVersion(m.version)
				continue
			}
		}

		if _, err := s.db.Exec(m.up); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}

		s.setSchemaVersion(m.version)
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (s *Store) getSchemaVersion() int {
	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

// setSchemaVersion records a migration as applied
func (s *Store) setSchemaVersion(version int) {
	s.db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
}

// columnExists checks if a column exists in a table
func (s *Store) columnExists(table, column string) bool {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?
	`, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339Nano

// SaveItems inserts or updates catalog entries for a user. Trash state
// is preserved on update: re-importing an item does not resurrect it.
func (s *Store) SaveItems(ctx context.Context, userID string, items []*models.MediaItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (id, user_id, kind, filename, size, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			kind = excluded.kind,
			filename = excluded.filename,
			size = excluded.size,
			uploaded_at = excluded.uploaded_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		var size any
		if it.Size >= 0 {
			size = it.Size
		}
		_, err := stmt.ExecContext(ctx, it.ID, userID, string(it.Kind), it.Filename, size, it.UploadedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("failed to insert item %s: %w", it.ID, err)
		}
	}

	return tx.Commit()
}

// ListActiveItems returns a user's non-trashed items of one kind,
// ordered by upload time for determinism. Entries without a stored size
// carry models.SizeUnknown.
func (s *Store) ListActiveItems(ctx context.Context, userID string, kind models.Kind) ([]*models.MediaItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, filename, size, uploaded_at
		FROM items
		WHERE user_id = ? AND kind = ? AND deleted_at IS NULL
		ORDER BY uploaded_at, id
	`, userID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	for rows.Next() {
		it := &models.MediaItem{}
		var kind, uploadedAt string
		var size sql.NullInt64
		if err := rows.Scan(&it.ID, &kind, &it.Filename, &size, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		it.Kind = models.Kind(kind)
		if size.Valid {
			it.Size = size.Int64
		} else {
			it.Size = models.SizeUnknown
		}
		ts, err := time.Parse(timeLayout, uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("bad uploaded_at for %s: %w", it.ID, err)
		}
		it.UploadedAt = ts
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetSize returns the stored byte length of an item. Items without a
// stored size report an error; callers fall back to the blob fetcher.
func (s *Store) GetSize(ctx context.Context, itemID string) (int64, error) {
	var size sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT size FROM items WHERE id = ?`, itemID).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("unknown item %s", itemID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query size: %w", err)
	}
	if !size.Valid {
		return 0, fmt.Errorf("no stored size for %s", itemID)
	}
	return size.Int64, nil
}

// SetSize backfills an item's byte length once a fetch determined it
func (s *Store) SetSize(ctx context.Context, itemID string, size int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE items SET size = ? WHERE id = ?`, size, itemID)
	return err
}

// SoftDelete marks an item as trashed. The retention/purge process owns
// the actual removal; nothing deleted here is permanent.
func (s *Store) SoftDelete(ctx context.Context, itemID string, kind models.Kind) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET deleted_at = ? WHERE id = ? AND kind = ? AND deleted_at IS NULL
	`, time.Now().UTC().Format(timeLayout), itemID, string(kind))
	if err != nil {
		return fmt.Errorf("failed to trash %s: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %s not found or already trashed", itemID)
	}
	return nil
}

// Restore clears an item's trash timestamp
func (s *Store) Restore(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET deleted_at = NULL WHERE id = ? AND deleted_at IS NOT NULL
	`, itemID)
	if err != nil {
		return fmt.Errorf("failed to restore %s: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %s is not in the trash", itemID)
	}
	return nil
}

// SaveGroups replaces the persisted group assignments with the given
// scan result. Positions preserve the canonical-original ordering.
func (s *Store) SaveGroups(ctx context.Context, groups []*models.DuplicateGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members`); err != nil {
		return fmt.Errorf("failed to reset groups: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO group_members (group_key, match_type, item_id, position)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, g := range groups {
		for pos, it := range g.Items {
			if _, err := stmt.ExecContext(ctx, g.Key, string(g.MatchType), it.ID, pos); err != nil {
				return fmt.Errorf("failed to insert member %s: %w", it.ID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadGroups returns the persisted duplicate groups, dropping members
// that were trashed since the scan and dissolving groups that fell
// below two members.
func (s *Store) LoadGroups(ctx context.Context) ([]*models.DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.group_key, g.match_type, i.id, i.kind, i.filename, i.size, i.uploaded_at
		FROM group_members g
		JOIN items i ON i.id = g.item_id
		WHERE i.deleted_at IS NULL
		ORDER BY g.group_key, g.position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.DuplicateGroup
	var current *models.DuplicateGroup
	for rows.Next() {
		var key, matchType, kind, uploadedAt string
		var size sql.NullInt64
		it := &models.MediaItem{}
		if err := rows.Scan(&key, &matchType, &it.ID, &kind, &it.Filename, &size, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		it.Kind = models.Kind(kind)
		if size.Valid {
			it.Size = size.Int64
		} else {
			it.Size = models.SizeUnknown
		}
		ts, err := time.Parse(timeLayout, uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("bad uploaded_at for %s: %w", it.ID, err)
		}
		it.UploadedAt = ts

		if current == nil || current.Key != key {
			current = &models.DuplicateGroup{Key: key, MatchType: models.MatchType(matchType)}
			groups = append(groups, current)
		}
		current.Items = append(current.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// A group whose members were trashed since the scan is no longer a
	// duplicate group.
	kept := groups[:0]
	for _, g := range groups {
		if len(g.Items) >= 2 {
			kept = append(kept, g)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}
	return kept, nil
}

// RecordScan records a completed scan in history
func (s *Store) RecordScan(ctx context.Context, userID string, mode models.Mode, stats models.ScanStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_history (user_id, mode, total_items, total_groups, total_duplicates, duplicate_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, string(mode), stats.TotalItems, stats.TotalGroups, stats.TotalDuplicateCount, stats.TotalDuplicateSize)
	return err
}
