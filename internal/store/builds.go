// File path: internal/store/builds.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkrell/atomforge/internal/atom"
)

// Build statuses. A build row starts in building and moves exactly once to
// success or error.
const (
	BuildStatusBuilding = "building"
	BuildStatusSuccess  = "success"
	BuildStatusError    = "error"
)

// Build is a persisted build record. Snapshot is decoded lazily via
// DecodeSnapshot because listings never need it.
type Build struct {
	ID           string    `json:"id"`
	GameID       string    `json:"game_id"`
	Status       string    `json:"status"`
	BundleURL    string    `json:"bundle_url,omitempty"`
	AtomCount    int       `json:"atom_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	BuildLog     []string  `json:"build_log,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	rawSnapshot string
}

// HasSnapshot reports whether a snapshot was captured for this build.
func (b *Build) HasSnapshot() bool {
	return b.rawSnapshot != "" && b.rawSnapshot != "null"
}

// DecodeSnapshot unmarshals the stored snapshot payload.
func (b *Build) DecodeSnapshot() (atom.Snapshot, error) {
	if !b.HasSnapshot() {
		return atom.Snapshot{}, fmt.Errorf("build %s has no snapshot", b.ID)
	}
	var snapshot atom.Snapshot
	if err := json.Unmarshal([]byte(b.rawSnapshot), &snapshot); err != nil {
		return atom.Snapshot{}, fmt.Errorf("decode snapshot for build %s: %w", b.ID, err)
	}
	return snapshot, nil
}

// InsertBuild creates a new build row in the building state and returns its
// generated id.
func (s *Store) InsertBuild(ctx context.Context, gameID string) (string, error) {
	if err := s.ensureReady(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO builds(id, game_id, status) VALUES (?, ?, ?)`, id, gameID, BuildStatusBuilding); err != nil {
		return "", fmt.Errorf("insert build: %w", err)
	}
	return id, nil
}

// AttachSnapshot persists the captured snapshot onto the build row. This runs
// immediately after capture so the snapshot survives whatever the rest of the
// pipeline does.
func (s *Store) AttachSnapshot(ctx context.Context, buildID string, snapshot atom.Snapshot) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE builds SET atom_snapshot = ? WHERE id = ?`, string(data), buildID)
	if err != nil {
		return fmt.Errorf("attach snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "build", Key: buildID}
	}
	return nil
}

// FinalizeSuccess moves a building row to success. The status guard makes the
// transition idempotent against late duplicate finalizations.
func (s *Store) FinalizeSuccess(ctx context.Context, buildID, bundleURL string, atomCount int, buildLog []string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	logJSON, err := encodeBuildLog(buildLog)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE builds SET status = ?, bundle_url = ?, atom_count = ?, build_log = ?, error_message = NULL
WHERE id = ? AND status = ?`,
		BuildStatusSuccess, bundleURL, atomCount, logJSON, buildID, BuildStatusBuilding)
	if err != nil {
		return fmt.Errorf("finalize build success: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("build %s is not in a finalizable state", buildID)
	}
	return nil
}

// FinalizeError moves a building row to error with the failure message and
// whatever log lines accumulated before the fault.
func (s *Store) FinalizeError(ctx context.Context, buildID, message string, buildLog []string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	logJSON, err := encodeBuildLog(buildLog)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE builds SET status = ?, error_message = ?, build_log = ?
WHERE id = ? AND status = ?`,
		BuildStatusError, message, logJSON, buildID, BuildStatusBuilding)
	if err != nil {
		return fmt.Errorf("finalize build error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("build %s is not in a finalizable state", buildID)
	}
	return nil
}

// InsertCheckpoint writes a completed success-status build row holding the
// given snapshot, bypassing the building state entirely. Used to preserve
// pre-rollback state that would otherwise be lost.
func (s *Store) InsertCheckpoint(ctx context.Context, gameID string, snapshot atom.Snapshot, logLine string) (string, error) {
	if err := s.ensureReady(); err != nil {
		return "", err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint snapshot: %w", err)
	}
	logJSON, err := encodeBuildLog([]string{logLine})
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO builds(id, game_id, status, atom_count, build_log, atom_snapshot)
VALUES (?, ?, ?, ?, ?, ?)`,
		id, gameID, BuildStatusSuccess, len(snapshot.Atoms), logJSON, string(data)); err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	return id, nil
}

// GetBuild fetches a build scoped to a game. A build id that exists under a
// different game is reported as not found.
func (s *Store) GetBuild(ctx context.Context, gameID, buildID string) (*Build, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	row := buildRow{}
	err := s.db.GetContext(ctx, &row, `
SELECT id, game_id, status, bundle_url, atom_count, error_message, build_log, atom_snapshot, created_at
FROM builds WHERE id = ? AND game_id = ?`, buildID, gameID)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "build", Key: buildID}
	}
	if err != nil {
		return nil, fmt.Errorf("get build: %w", err)
	}
	return row.toBuild()
}

// ListBuilds returns the newest builds for a game. Snapshots are included in
// the rows but listings typically ignore them.
func (s *Store) ListBuilds(ctx context.Context, gameID string, limit int) ([]Build, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows := []buildRow{}
	if err := s.db.SelectContext(ctx, &rows, `
SELECT id, game_id, status, bundle_url, atom_count, error_message, build_log, atom_snapshot, created_at
FROM builds WHERE game_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, gameID, limit); err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	out := make([]Build, 0, len(rows))
	for _, row := range rows {
		build, err := row.toBuild()
		if err != nil {
			return nil, err
		}
		out = append(out, *build)
	}
	return out, nil
}

func encodeBuildLog(lines []string) (string, error) {
	if lines == nil {
		lines = []string{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return "", fmt.Errorf("encode build log: %w", err)
	}
	return string(data), nil
}

type buildRow struct {
	ID           string         `db:"id"`
	GameID       string         `db:"game_id"`
	Status       string         `db:"status"`
	BundleURL    sql.NullString `db:"bundle_url"`
	AtomCount    sql.NullInt64  `db:"atom_count"`
	ErrorMessage sql.NullString `db:"error_message"`
	BuildLog     sql.NullString `db:"build_log"`
	AtomSnapshot sql.NullString `db:"atom_snapshot"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r buildRow) toBuild() (*Build, error) {
	build := &Build{
		ID:           r.ID,
		GameID:       r.GameID,
		Status:       r.Status,
		BundleURL:    r.BundleURL.String,
		AtomCount:    int(r.AtomCount.Int64),
		ErrorMessage: r.ErrorMessage.String,
		CreatedAt:    r.CreatedAt,
		rawSnapshot:  r.AtomSnapshot.String,
	}
	if r.BuildLog.Valid && r.BuildLog.String != "" {
		if err := json.Unmarshal([]byte(r.BuildLog.String), &build.BuildLog); err != nil {
			return nil, fmt.Errorf("decode build log for %s: %w", r.ID, err)
		}
	}
	return build, nil
}
