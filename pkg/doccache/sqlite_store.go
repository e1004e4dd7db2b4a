package doccache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a CrateCollection backed by a single SQLite database file,
// one per compiler version (§6), so the store never needs a schema
// migration: a version bump simply opens a fresh file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) the cache database for the given
// compiler version under baseDir, typically the user's home directory per §6.
func OpenSQLiteStore(baseDir, compilerVersion string) (*SQLiteStore, error) {
	path := filepath.Join(baseDir, fmt.Sprintf("pavexc-doccache-%s.sqlite", sanitize(compilerVersion)))
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening doc cache %s: %w", path, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func sanitize(v string) string {
	return strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(v)
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS crates (
	cache_key TEXT PRIMARY KEY,
	payload   BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS access_log (
	project_fingerprint TEXT NOT NULL,
	package_id          TEXT NOT NULL,
	PRIMARY KEY (project_fingerprint, package_id)
);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(key CacheKey) (*Crate, bool, error) {
	row := s.db.QueryRow(`SELECT payload FROM crates WHERE cache_key = ?`, key.String())
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("doc cache get %s: %w", key, err)
	}
	var crate Crate
	if err := json.Unmarshal(payload, &crate); err != nil {
		return nil, false, fmt.Errorf("doc cache decode %s: %w", key, err)
	}
	return &crate, true, nil
}

func (s *SQLiteStore) Insert(key CacheKey, crate *Crate) error {
	payload, err := json.Marshal(crate)
	if err != nil {
		return fmt.Errorf("doc cache encode %s: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO crates (cache_key, payload) VALUES (?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET payload = excluded.payload`,
		key.String(), payload,
	)
	if err != nil {
		return fmt.Errorf("doc cache insert %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetAccessLog(projectFingerprint string) ([]string, error) {
	rows, err := s.db.Query(`SELECT package_id FROM access_log WHERE project_fingerprint = ?`, projectFingerprint)
	if err != nil {
		return nil, fmt.Errorf("doc cache access log read: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) PersistAccessLog(projectFingerprint string, packageIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("doc cache access log write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM access_log WHERE project_fingerprint = ?`, projectFingerprint); err != nil {
		return err
	}
	for _, id := range packageIDs {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO access_log (project_fingerprint, package_id) VALUES (?, ?)`,
			projectFingerprint, id,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
