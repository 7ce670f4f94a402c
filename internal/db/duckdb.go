package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/searchindex"
	_ "github.com/marcboeker/go-duckdb"
)

type DB struct {
	conn *sql.DB
}

func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	conn, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_crate_id START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_item_id START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_type_path_id START 1;`,

		`CREATE TABLE IF NOT EXISTS crates (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			source TEXT NOT NULL,
			doc TEXT NOT NULL,
			item_count INTEGER NOT NULL,
			imported_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crates_name ON crates (name)`,

		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY,
			crate_id INTEGER NOT NULL,
			item_index INTEGER NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			parent TEXT,
			signature TEXT,
			doc TEXT NOT NULL,
			deprecated BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_crate ON items (crate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_path ON items (path)`,

		`CREATE TABLE IF NOT EXISTS type_paths (
			id INTEGER PRIMARY KEY,
			crate_id INTEGER NOT NULL,
			type_index INTEGER NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			module_path TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_type_paths_crate ON type_paths (crate_id)`,
	}

	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("executing %q: %w", q, err)
		}
	}
	return nil
}

// --- Crate operations ---

type Crate struct {
	ID         int
	Name       string
	Source     string
	Doc        string
	ItemCount  int
	ImportedAt time.Time
}

// Import replaces the rows of every crate in ix. source records where the
// index was loaded from.
func (db *DB) Import(ix *searchindex.Index, source string) error {
	labels := make(map[string]string, ix.Len())
	for _, name := range ix.Names() {
		labels[name] = source
	}
	return db.ImportLabeled(ix, labels)
}

// ImportLabeled is Import with a per-crate source. Crates missing from
// sources are recorded with an empty source.
func (db *DB) ImportLabeled(ix *searchindex.Index, sources map[string]string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning import: %w", err)
	}
	defer tx.Rollback()

	for _, c := range ix.Crates() {
		if err := importCrate(tx, c, sources[c.Name()]); err != nil {
			return fmt.Errorf("importing crate %s: %w", c.Name(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	return nil
}

func importCrate(tx *sql.Tx, c *searchindex.Crate, source string) error {
	if _, err := tx.Exec(`DELETE FROM items WHERE crate_id IN (SELECT id FROM crates WHERE name = ?)`, c.Name()); err != nil {
		return fmt.Errorf("deleting items: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM type_paths WHERE crate_id IN (SELECT id FROM crates WHERE name = ?)`, c.Name()); err != nil {
		return fmt.Errorf("deleting type paths: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM crates WHERE name = ?`, c.Name()); err != nil {
		return fmt.Errorf("deleting crate: %w", err)
	}

	var crateID int
	err := tx.QueryRow(
		`INSERT INTO crates (id, name, source, doc, item_count) VALUES (nextval('seq_crate_id'), ?, ?, ?, ?) RETURNING id`,
		c.Name(), source, c.Doc(), c.Len(),
	).Scan(&crateID)
	if err != nil {
		return fmt.Errorf("inserting crate: %w", err)
	}

	for _, it := range c.Items() {
		var parent, signature sql.NullString
		if it.Parent != nil {
			parent = sql.NullString{String: it.Parent.Name, Valid: true}
		}
		if it.Signature != "" {
			signature = sql.NullString{String: it.Signature, Valid: true}
		}
		_, err := tx.Exec(
			`INSERT INTO items (id, crate_id, item_index, kind, name, path, parent, signature, doc, deprecated)
			 VALUES (nextval('seq_item_id'), ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			crateID, it.Index, it.Kind.String(), it.Name, it.Path(), parent, signature, it.Doc, it.Deprecated,
		)
		if err != nil {
			return fmt.Errorf("inserting item %d: %w", it.Index, err)
		}
	}

	for i, tp := range c.TypePaths() {
		var modulePath sql.NullString
		if p, ok := c.ModulePath(tp); ok {
			modulePath = sql.NullString{String: p, Valid: true}
		}
		_, err := tx.Exec(
			`INSERT INTO type_paths (id, crate_id, type_index, kind, name, module_path)
			 VALUES (nextval('seq_type_path_id'), ?, ?, ?, ?, ?)`,
			crateID, i+1, tp.Kind.String(), tp.Name, modulePath,
		)
		if err != nil {
			return fmt.Errorf("inserting type path %d: %w", i+1, err)
		}
	}
	return nil
}

func (db *DB) GetCrate(name string) (*Crate, error) {
	var c Crate
	err := db.conn.QueryRow(
		`SELECT id, name, source, doc, item_count, imported_at FROM crates WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.Source, &c.Doc, &c.ItemCount, &c.ImportedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) ListCrates() ([]Crate, error) {
	rows, err := db.conn.Query(`SELECT id, name, source, doc, item_count, imported_at FROM crates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crates []Crate
	for rows.Next() {
		var c Crate
		if err := rows.Scan(&c.ID, &c.Name, &c.Source, &c.Doc, &c.ItemCount, &c.ImportedAt); err != nil {
			return nil, err
		}
		crates = append(crates, c)
	}
	return crates, rows.Err()
}

// --- Item operations ---

type Item struct {
	ID         int
	CrateID    int
	Index      int
	Kind       string
	Name       string
	Path       string
	Parent     string
	Signature  string
	Doc        string
	Deprecated bool
}

func (db *DB) CountItems(crateID int) (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM items WHERE crate_id = ?`, crateID).Scan(&n)
	return n, err
}

// ItemsByKind returns a crate's items of one kind in index order.
func (db *DB) ItemsByKind(crateID int, kind string) ([]Item, error) {
	rows, err := db.conn.Query(
		`SELECT id, crate_id, item_index, kind, name, path, COALESCE(parent, ''), COALESCE(signature, ''), doc, deprecated
		 FROM items WHERE crate_id = ? AND kind = ? ORDER BY item_index`,
		crateID, kind,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.CrateID, &it.Index, &it.Kind, &it.Name, &it.Path, &it.Parent, &it.Signature, &it.Doc, &it.Deprecated); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// KindCounts returns item counts per kind for a crate.
func (db *DB) KindCounts(crateID int) (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT kind, COUNT(*) FROM items WHERE crate_id = ? GROUP BY kind`, crateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
