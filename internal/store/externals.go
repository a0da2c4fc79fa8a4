// File path: internal/store/externals.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// External is a registry entry for a third-party browser library that games
// can opt into. Installed entries are loaded ahead of the bundle.
type External struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	DisplayName string `json:"display_name" db:"display_name"`
	PackageName string `json:"package_name" db:"package_name"`
	Version     string `json:"version" db:"version"`
	CDNURL      string `json:"cdn_url" db:"cdn_url"`
	GlobalName  string `json:"global_name" db:"global_name"`
	Description string `json:"description,omitempty" db:"description"`
	APISurface  string `json:"api_surface,omitempty" db:"api_surface"`
	LoadType    string `json:"load_type" db:"load_type"`
	// ModuleImports holds the JSON import map for module-type libraries;
	// empty for plain script loads.
	ModuleImports string `json:"module_imports,omitempty" db:"module_imports"`
}

// InstalledExternal is an External plus its installation time in a game.
type InstalledExternal struct {
	External
	InstalledAt time.Time `json:"installed_at" db:"installed_at"`
}

const externalColumns = `r.id, r.name, r.display_name, r.package_name, r.version, r.cdn_url,
       r.global_name, COALESCE(r.description, '') AS description,
       COALESCE(r.api_surface, '') AS api_surface, r.load_type,
       COALESCE(r.module_imports, '') AS module_imports`

// ListRegistry returns every library available for installation.
func (s *Store) ListRegistry(ctx context.Context) ([]External, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	out := []External{}
	if err := s.db.SelectContext(ctx, &out, `
SELECT `+externalColumns+` FROM external_registry r ORDER BY r.name`); err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	return out, nil
}

// GetRegistryEntry looks up one registry entry by its short name.
func (s *Store) GetRegistryEntry(ctx context.Context, name string) (*External, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	entry := External{}
	err := s.db.GetContext(ctx, &entry, `
SELECT `+externalColumns+` FROM external_registry r WHERE r.name = ?`, name)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "external", Key: name}
	}
	if err != nil {
		return nil, fmt.Errorf("get registry entry: %w", err)
	}
	return &entry, nil
}

// InstallExternal links a registry entry into a game. Installing the same
// library twice is an error.
func (s *Store) InstallExternal(ctx context.Context, gameID, name string) (*External, error) {
	entry, err := s.GetRegistryEntry(ctx, name)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO game_externals(game_id, registry_id) VALUES (?, ?)`, gameID, entry.ID); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%s is already installed", name)
		}
		return nil, fmt.Errorf("install external: %w", err)
	}
	return entry, nil
}

// UninstallExternal removes the link between a game and a library.
func (s *Store) UninstallExternal(ctx context.Context, gameID, name string) error {
	entry, err := s.GetRegistryEntry(ctx, name)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM game_externals WHERE game_id = ? AND registry_id = ?`, gameID, entry.ID)
	if err != nil {
		return fmt.Errorf("uninstall external: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s is not installed", name)
	}
	return nil
}

// InstalledExternals returns a game's installed libraries in install order.
func (s *Store) InstalledExternals(ctx context.Context, gameID string) ([]InstalledExternal, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	out := []InstalledExternal{}
	if err := s.db.SelectContext(ctx, &out, `
SELECT `+externalColumns+`, ge.installed_at
FROM game_externals ge
JOIN external_registry r ON r.id = ge.registry_id
WHERE ge.game_id = ?
ORDER BY ge.installed_at, ge.id`, gameID); err != nil {
		return nil, fmt.Errorf("installed externals: %w", err)
	}
	return out, nil
}
