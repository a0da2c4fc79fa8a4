// File path: internal/store/games.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Game is a project scope: the isolation boundary owning atoms, edges, and
// builds. ActiveBuildID points at the most recently finalized successful
// build (last writer wins under concurrent builds).
type Game struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description,omitempty" db:"description"`
	ActiveBuildID string    `json:"active_build_id,omitempty" db:"active_build_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ActiveBuildInfo is the build summary joined onto game listings.
type ActiveBuildInfo struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	AtomCount int       `json:"atom_count"`
	CreatedAt time.Time `json:"created_at"`
}

// GameWithBuild is a game plus its active build, when one exists.
type GameWithBuild struct {
	Game
	ActiveBuild *ActiveBuildInfo `json:"active_build,omitempty"`
}

// CreateGame inserts a new game scope with a fresh id.
func (s *Store) CreateGame(ctx context.Context, name, description string) (Game, error) {
	if err := s.ensureReady(); err != nil {
		return Game{}, err
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Game{}, errors.New("game name required")
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO games(id, name, description) VALUES (?, ?, NULLIF(?, ''))`,
		id, trimmed, strings.TrimSpace(description)); err != nil {
		return Game{}, fmt.Errorf("create game %s: %w", trimmed, err)
	}
	return s.getGameByID(ctx, id)
}

// ListGames returns all games ordered by creation, each joined with its
// active build summary when present.
func (s *Store) ListGames(ctx context.Context) ([]GameWithBuild, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	rows := []gameRow{}
	if err := s.db.SelectContext(ctx, &rows, gameSelect+` ORDER BY g.created_at, g.name`); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	out := make([]GameWithBuild, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toGame())
	}
	return out, nil
}

// GetGame fetches a single game by name.
func (s *Store) GetGame(ctx context.Context, name string) (GameWithBuild, error) {
	if err := s.ensureReady(); err != nil {
		return GameWithBuild{}, err
	}
	var row gameRow
	err := s.db.GetContext(ctx, &row, gameSelect+` WHERE g.name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return GameWithBuild{}, &NotFoundError{Resource: "game", Key: name}
	}
	if err != nil {
		return GameWithBuild{}, fmt.Errorf("get game %s: %w", name, err)
	}
	return row.toGame(), nil
}

// ResolveGameID maps a game name to its id. Used by transport layers only.
func (s *Store) ResolveGameID(ctx context.Context, name string) (string, error) {
	if err := s.ensureReady(); err != nil {
		return "", err
	}
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT id FROM games WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &NotFoundError{Resource: "game", Key: name}
	}
	if err != nil {
		return "", fmt.Errorf("resolve game %s: %w", name, err)
	}
	return id, nil
}

// ValidateGameID confirms a game id exists and returns the game.
func (s *Store) ValidateGameID(ctx context.Context, gameID string) (Game, error) {
	return s.getGameByID(ctx, gameID)
}

// SetActiveBuild points the game at a finalized build. Last writer wins by
// design; concurrent successful builds race here without harm because each
// bundle remains addressable via its versioned path.
func (s *Store) SetActiveBuild(ctx context.Context, gameID, buildID string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE games SET active_build_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, buildID, gameID)
	if err != nil {
		return fmt.Errorf("set active build: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "game", Key: gameID}
	}
	return nil
}

func (s *Store) getGameByID(ctx context.Context, id string) (Game, error) {
	var row struct {
		ID            string         `db:"id"`
		Name          string         `db:"name"`
		Description   sql.NullString `db:"description"`
		ActiveBuildID sql.NullString `db:"active_build_id"`
		CreatedAt     time.Time      `db:"created_at"`
		UpdatedAt     time.Time      `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row, `
SELECT id, name, description, active_build_id, created_at, updated_at FROM games WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, &NotFoundError{Resource: "game", Key: id}
	}
	if err != nil {
		return Game{}, fmt.Errorf("get game by id: %w", err)
	}
	return Game{
		ID:            row.ID,
		Name:          row.Name,
		Description:   row.Description.String,
		ActiveBuildID: row.ActiveBuildID.String,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

const gameSelect = `
SELECT g.id, g.name, g.description, g.active_build_id, g.created_at, g.updated_at,
       b.id AS build_id, b.status AS build_status, b.atom_count AS build_atom_count, b.created_at AS build_created_at
FROM games g
LEFT JOIN builds b ON b.id = g.active_build_id`

type gameRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	Description    sql.NullString `db:"description"`
	ActiveBuildID  sql.NullString `db:"active_build_id"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	BuildID        sql.NullString `db:"build_id"`
	BuildStatus    sql.NullString `db:"build_status"`
	BuildAtomCount sql.NullInt64  `db:"build_atom_count"`
	BuildCreatedAt sql.NullTime   `db:"build_created_at"`
}

func (r gameRow) toGame() GameWithBuild {
	game := GameWithBuild{Game: Game{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description.String,
		ActiveBuildID: r.ActiveBuildID.String,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}}
	if r.BuildID.Valid {
		game.ActiveBuild = &ActiveBuildInfo{
			ID:        r.BuildID.String,
			Status:    r.BuildStatus.String,
			AtomCount: int(r.BuildAtomCount.Int64),
			CreatedAt: r.BuildCreatedAt.Time,
		}
	}
	return game
}
