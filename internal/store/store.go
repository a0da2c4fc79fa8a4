// File path: internal/store/store.go

// Package store persists games, atoms, dependency edges, builds, and the
// external-library registry in SQLite via sqlx. Each game exclusively owns
// its atoms, edges, and builds; every query is scoped by game id.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps a pooled sqlx.DB connection to the SQLite database.
type Store struct {
	db *sqlx.DB
}

// NotFoundError marks a missing resource so transport layers can answer 404.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %q", e.Resource, e.Key)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

var errNilStore = errors.New("store not initialised")

// Open constructs a Store backed by the SQLite database at the provided
// path. Schema is migrated and the externals registry seeded on first use.
func Open(path string) (*Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		cfg.Path = trimmed
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig constructs a Store using the provided configuration.
func OpenWithConfig(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", abs, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BusyTimeout+5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureReady() error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	// journal_mode cannot change inside a transaction.
	for _, pragma := range pragmaStatements {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply pragma: %w", err)
		}
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

var pragmaStatements = []string{
	`PRAGMA journal_mode = WAL;`,
	`PRAGMA foreign_keys = ON;`,
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS games (
                id TEXT PRIMARY KEY,
                name TEXT NOT NULL UNIQUE,
                description TEXT,
                active_build_id TEXT,
                created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS atoms (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                game_id TEXT NOT NULL,
                name TEXT NOT NULL,
                type TEXT NOT NULL CHECK (type IN ('core','feature','util')),
                code TEXT NOT NULL,
                description TEXT,
                inputs TEXT NOT NULL DEFAULT '[]',
                outputs TEXT NOT NULL DEFAULT '[]',
                version INTEGER NOT NULL DEFAULT 1,
                created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                FOREIGN KEY(game_id) REFERENCES games(id) ON DELETE CASCADE,
                UNIQUE(game_id, name)
        );`,
	`CREATE TABLE IF NOT EXISTS atom_dependencies (
                game_id TEXT NOT NULL,
                atom_name TEXT NOT NULL,
                depends_on TEXT NOT NULL,
                PRIMARY KEY (game_id, atom_name, depends_on),
                FOREIGN KEY(game_id) REFERENCES games(id) ON DELETE CASCADE
        );`,
	`CREATE TABLE IF NOT EXISTS builds (
                id TEXT PRIMARY KEY,
                game_id TEXT NOT NULL,
                status TEXT NOT NULL CHECK (status IN ('building','success','error')),
                bundle_url TEXT,
                atom_count INTEGER,
                error_message TEXT,
                build_log TEXT,
                atom_snapshot TEXT,
                created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                FOREIGN KEY(game_id) REFERENCES games(id) ON DELETE CASCADE
        );`,
	`CREATE TABLE IF NOT EXISTS external_registry (
                id TEXT PRIMARY KEY,
                name TEXT NOT NULL UNIQUE,
                display_name TEXT NOT NULL,
                package_name TEXT NOT NULL,
                version TEXT NOT NULL,
                cdn_url TEXT NOT NULL,
                global_name TEXT NOT NULL,
                description TEXT,
                api_surface TEXT,
                load_type TEXT NOT NULL DEFAULT 'script',
                module_imports TEXT
        );`,
	`CREATE TABLE IF NOT EXISTS game_externals (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                game_id TEXT NOT NULL,
                registry_id TEXT NOT NULL,
                installed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                FOREIGN KEY(game_id) REFERENCES games(id) ON DELETE CASCADE,
                FOREIGN KEY(registry_id) REFERENCES external_registry(id) ON DELETE CASCADE,
                UNIQUE(game_id, registry_id)
        );`,
	`CREATE INDEX IF NOT EXISTS idx_atoms_game_name ON atoms(game_id, name);`,
	`CREATE INDEX IF NOT EXISTS idx_atoms_game_type ON atoms(game_id, type);`,
	`CREATE INDEX IF NOT EXISTS idx_deps_game_atom ON atom_dependencies(game_id, atom_name);`,
	`CREATE INDEX IF NOT EXISTS idx_deps_game_target ON atom_dependencies(game_id, depends_on);`,
	`CREATE INDEX IF NOT EXISTS idx_builds_game_created ON builds(game_id, created_at);`,
	`INSERT INTO external_registry(id, name, display_name, package_name, version, cdn_url, global_name, description, api_surface, load_type)
        SELECT 'c1a9e4f2-0000-4000-8000-000000000001', 'three_js', 'Three.js', 'three', '0.160.0',
               'https://cdn.jsdelivr.net/npm/three@0.160.0/build/three.min.js', 'THREE',
               '3D rendering library', 'THREE.Scene, THREE.PerspectiveCamera, THREE.WebGLRenderer, THREE.Mesh, THREE.BoxGeometry, THREE.MeshBasicMaterial', 'script'
        WHERE NOT EXISTS (SELECT 1 FROM external_registry WHERE name = 'three_js');`,
	`INSERT INTO external_registry(id, name, display_name, package_name, version, cdn_url, global_name, description, api_surface, load_type)
        SELECT 'c1a9e4f2-0000-4000-8000-000000000002', 'matter_js', 'Matter.js', 'matter-js', '0.19.0',
               'https://cdn.jsdelivr.net/npm/matter-js@0.19.0/build/matter.min.js', 'Matter',
               '2D physics engine', 'Matter.Engine, Matter.Render, Matter.World, Matter.Bodies, Matter.Body, Matter.Events', 'script'
        WHERE NOT EXISTS (SELECT 1 FROM external_registry WHERE name = 'matter_js');`,
	`INSERT INTO external_registry(id, name, display_name, package_name, version, cdn_url, global_name, description, api_surface, load_type, module_imports)
        SELECT 'c1a9e4f2-0000-4000-8000-000000000003', 'cannon_es', 'cannon-es', 'cannon-es', '0.20.0',
               'https://cdn.jsdelivr.net/npm/cannon-es@0.20.0/dist/cannon-es.js', 'CANNON',
               '3D physics engine, ESM only', 'CANNON.World, CANNON.Body, CANNON.Box, CANNON.Sphere, CANNON.Vec3, CANNON.Material', 'module',
               '{"cannon-es": "https://cdn.jsdelivr.net/npm/cannon-es@0.20.0/dist/cannon-es.js"}'
        WHERE NOT EXISTS (SELECT 1 FROM external_registry WHERE name = 'cannon_es');`,
}
