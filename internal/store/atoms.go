// File path: internal/store/atoms.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/mkrell/atomforge/internal/atom"
)

// AtomRecord is the writable shape of an atom row. Version management stays
// inside the store: first insert lands at 1, every replacement increments.
type AtomRecord struct {
	Name        string
	Type        atom.Type
	Code        string
	Description string
	Inputs      []atom.Port
	Outputs     []atom.Port
}

// ListStructure returns atom summaries for a game, optionally filtered by
// type. No code bodies are included.
func (s *Store) ListStructure(ctx context.Context, gameID, typeFilter string) ([]atom.Summary, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query := `SELECT name, type, inputs, outputs FROM atoms WHERE game_id = ?`
	args := []interface{}{gameID}
	if trimmed := strings.TrimSpace(typeFilter); trimmed != "" {
		query += ` AND type = ?`
		args = append(args, trimmed)
	}
	query += ` ORDER BY name`
	rows := []struct {
		Name    string `db:"name"`
		Type    string `db:"type"`
		Inputs  string `db:"inputs"`
		Outputs string `db:"outputs"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list structure: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Name)
	}
	depsMap, err := s.dependsOnFor(ctx, gameID, names)
	if err != nil {
		return nil, err
	}
	out := make([]atom.Summary, 0, len(rows))
	for _, row := range rows {
		summary := atom.Summary{
			Name:      row.Name,
			Type:      atom.Type(row.Type),
			DependsOn: depsMap[row.Name],
		}
		if err := decodePorts(row.Inputs, &summary.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs for %s: %w", row.Name, err)
		}
		if err := decodePorts(row.Outputs, &summary.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs for %s: %w", row.Name, err)
		}
		if summary.DependsOn == nil {
			summary.DependsOn = []string{}
		}
		out = append(out, summary)
	}
	return out, nil
}

// ReadAtoms returns full records for the names that exist. Missing names are
// silently omitted; an empty result is not an error.
func (s *Store) ReadAtoms(ctx context.Context, gameID string, names []string) ([]atom.Atom, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
SELECT name, type, code, description, inputs, outputs, version
FROM atoms WHERE game_id = ? AND name IN (?) ORDER BY name`, gameID, names)
	if err != nil {
		return nil, fmt.Errorf("read atoms query: %w", err)
	}
	rows := []atomRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("read atoms: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	found := make([]string, 0, len(rows))
	for _, row := range rows {
		found = append(found, row.Name)
	}
	depsMap, err := s.dependsOnFor(ctx, gameID, found)
	if err != nil {
		return nil, err
	}
	out := make([]atom.Atom, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toAtom(depsMap[row.Name])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ExistingNames reports which of the given names exist in the game scope.
func (s *Store) ExistingNames(ctx context.Context, gameID string, names []string) (map[string]bool, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return map[string]bool{}, nil
	}
	query, args, err := sqlx.In(`SELECT name FROM atoms WHERE game_id = ? AND name IN (?)`, gameID, names)
	if err != nil {
		return nil, fmt.Errorf("existing names query: %w", err)
	}
	found := []string{}
	if err := s.db.SelectContext(ctx, &found, query, args...); err != nil {
		return nil, fmt.Errorf("existing names: %w", err)
	}
	out := make(map[string]bool, len(found))
	for _, name := range found {
		out[name] = true
	}
	return out, nil
}

// UpsertAtom writes the atom row and replaces all of its outgoing edges in a
// single transaction, so no reader ever observes the intermediate zero-edge
// state. Insert lands at version 1; replacement increments the stored
// version. Returns the resulting version.
func (s *Store) UpsertAtom(ctx context.Context, gameID string, rec AtomRecord, dependencies []string) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	inputs, err := encodePorts(rec.Inputs)
	if err != nil {
		return 0, fmt.Errorf("encode inputs: %w", err)
	}
	outputs, err := encodePorts(rec.Outputs)
	if err != nil {
		return 0, fmt.Errorf("encode outputs: %w", err)
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin atom upsert: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO atoms(game_id, name, type, code, description, inputs, outputs)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)
ON CONFLICT(game_id, name) DO UPDATE SET
        type=excluded.type,
        code=excluded.code,
        description=excluded.description,
        inputs=excluded.inputs,
        outputs=excluded.outputs,
        version=atoms.version + 1,
        updated_at=CURRENT_TIMESTAMP`,
		gameID, rec.Name, string(rec.Type), rec.Code, strings.TrimSpace(rec.Description), inputs, outputs); err != nil {
		return 0, fmt.Errorf("upsert atom %s: %w", rec.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM atom_dependencies WHERE game_id = ? AND atom_name = ?`, gameID, rec.Name); err != nil {
		return 0, fmt.Errorf("clear dependencies for %s: %w", rec.Name, err)
	}
	for _, dep := range dependencies {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO atom_dependencies(game_id, atom_name, depends_on) VALUES (?, ?, ?)
ON CONFLICT(game_id, atom_name, depends_on) DO NOTHING`, gameID, rec.Name, dep); err != nil {
			return 0, fmt.Errorf("link dependency %s -> %s: %w", rec.Name, dep, err)
		}
	}

	var version int
	if err := tx.GetContext(ctx, &version, `
SELECT version FROM atoms WHERE game_id = ? AND name = ?`, gameID, rec.Name); err != nil {
		return 0, fmt.Errorf("read back version for %s: %w", rec.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit atom upsert: %w", err)
	}
	committed = true
	return version, nil
}

// Dependents lists atoms whose edges target the given name.
func (s *Store) Dependents(ctx context.Context, gameID, name string) ([]string, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	out := []string{}
	if err := s.db.SelectContext(ctx, &out, `
SELECT atom_name FROM atom_dependencies
WHERE game_id = ? AND depends_on = ? AND atom_name != ?
ORDER BY atom_name`, gameID, name, name); err != nil {
		return nil, fmt.Errorf("dependents of %s: %w", name, err)
	}
	return out, nil
}

// DeleteAtom removes the atom row and its outgoing edges. Callers must have
// already verified no other atom depends on it.
func (s *Store) DeleteAtom(ctx context.Context, gameID, name string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin atom delete: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `DELETE FROM atoms WHERE game_id = ? AND name = ?`, gameID, name)
	if err != nil {
		return fmt.Errorf("delete atom %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "atom", Key: name}
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM atom_dependencies WHERE game_id = ? AND atom_name = ?`, gameID, name); err != nil {
		return fmt.Errorf("delete edges of %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit atom delete: %w", err)
	}
	committed = true
	return nil
}

// SnapshotState reads the full atom and edge set for a game inside one
// transaction, producing a self-contained snapshot value. Embeddings are
// never part of a snapshot.
func (s *Store) SnapshotState(ctx context.Context, gameID string) (atom.Snapshot, error) {
	if err := s.ensureReady(); err != nil {
		return atom.Snapshot{}, err
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return atom.Snapshot{}, fmt.Errorf("begin snapshot read: %w", err)
	}
	defer tx.Rollback()

	rows := []atomRow{}
	if err := tx.SelectContext(ctx, &rows, `
SELECT name, type, code, description, inputs, outputs, version
FROM atoms WHERE game_id = ? ORDER BY name`, gameID); err != nil {
		return atom.Snapshot{}, fmt.Errorf("snapshot atoms: %w", err)
	}
	deps := []atom.Dependency{}
	if err := tx.SelectContext(ctx, &deps, `
SELECT atom_name, depends_on FROM atom_dependencies
WHERE game_id = ? ORDER BY atom_name, depends_on`, gameID); err != nil {
		return atom.Snapshot{}, fmt.Errorf("snapshot edges: %w", err)
	}

	snapshot := atom.Snapshot{
		Atoms:        make([]atom.SnapshotAtom, 0, len(rows)),
		Dependencies: deps,
	}
	for _, row := range rows {
		rec, err := row.toAtom(nil)
		if err != nil {
			return atom.Snapshot{}, err
		}
		snapshot.Atoms = append(snapshot.Atoms, atom.SnapshotAtom{
			Name:        rec.Name,
			Type:        rec.Type,
			Code:        rec.Code,
			Description: rec.Description,
			Inputs:      rec.Inputs,
			Outputs:     rec.Outputs,
		})
	}
	if snapshot.Dependencies == nil {
		snapshot.Dependencies = []atom.Dependency{}
	}
	return snapshot, nil
}

// Edges returns all dependency edges for a game in insertion-stable order.
func (s *Store) Edges(ctx context.Context, gameID string) ([]atom.Dependency, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	deps := []atom.Dependency{}
	if err := s.db.SelectContext(ctx, &deps, `
SELECT atom_name, depends_on FROM atom_dependencies
WHERE game_id = ? ORDER BY atom_name, depends_on`, gameID); err != nil {
		return nil, fmt.Errorf("edges: %w", err)
	}
	return deps, nil
}

// RestoreSnapshot replaces the live atom and edge set with the snapshot's
// contents in one transaction: delete everything scoped to the game, then
// insert snapshot atoms (fresh at version 1) and edges verbatim.
func (s *Store) RestoreSnapshot(ctx context.Context, gameID string, snapshot atom.Snapshot) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin restore: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM atom_dependencies WHERE game_id = ?`, gameID); err != nil {
		return fmt.Errorf("clear edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM atoms WHERE game_id = ?`, gameID); err != nil {
		return fmt.Errorf("clear atoms: %w", err)
	}
	for _, rec := range snapshot.Atoms {
		inputs, err := encodePorts(rec.Inputs)
		if err != nil {
			return fmt.Errorf("encode inputs for %s: %w", rec.Name, err)
		}
		outputs, err := encodePorts(rec.Outputs)
		if err != nil {
			return fmt.Errorf("encode outputs for %s: %w", rec.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO atoms(game_id, name, type, code, description, inputs, outputs)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)`,
			gameID, rec.Name, string(rec.Type), rec.Code, rec.Description, inputs, outputs); err != nil {
			return fmt.Errorf("restore atom %s: %w", rec.Name, err)
		}
	}
	for _, dep := range snapshot.Dependencies {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO atom_dependencies(game_id, atom_name, depends_on) VALUES (?, ?, ?)
ON CONFLICT(game_id, atom_name, depends_on) DO NOTHING`, gameID, dep.AtomName, dep.DependsOn); err != nil {
			return fmt.Errorf("restore edge %s -> %s: %w", dep.AtomName, dep.DependsOn, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit restore: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) dependsOnFor(ctx context.Context, gameID string, names []string) (map[string][]string, error) {
	if len(names) == 0 {
		return map[string][]string{}, nil
	}
	query, args, err := sqlx.In(`
SELECT atom_name, depends_on FROM atom_dependencies
WHERE game_id = ? AND atom_name IN (?) ORDER BY atom_name, depends_on`, gameID, names)
	if err != nil {
		return nil, fmt.Errorf("depends-on query: %w", err)
	}
	deps := []atom.Dependency{}
	if err := s.db.SelectContext(ctx, &deps, query, args...); err != nil {
		return nil, fmt.Errorf("depends-on: %w", err)
	}
	out := make(map[string][]string, len(names))
	for _, dep := range deps {
		out[dep.AtomName] = append(out[dep.AtomName], dep.DependsOn)
	}
	return out, nil
}

type atomRow struct {
	Name        string         `db:"name"`
	Type        string         `db:"type"`
	Code        string         `db:"code"`
	Description sql.NullString `db:"description"`
	Inputs      string         `db:"inputs"`
	Outputs     string         `db:"outputs"`
	Version     int            `db:"version"`
}

func (r atomRow) toAtom(dependsOn []string) (atom.Atom, error) {
	rec := atom.Atom{
		Name:        r.Name,
		Type:        atom.Type(r.Type),
		Code:        r.Code,
		Description: r.Description.String,
		Version:     r.Version,
		DependsOn:   dependsOn,
	}
	if rec.DependsOn == nil {
		rec.DependsOn = []string{}
	}
	if err := decodePorts(r.Inputs, &rec.Inputs); err != nil {
		return atom.Atom{}, fmt.Errorf("decode inputs for %s: %w", r.Name, err)
	}
	if err := decodePorts(r.Outputs, &rec.Outputs); err != nil {
		return atom.Atom{}, fmt.Errorf("decode outputs for %s: %w", r.Name, err)
	}
	return rec, nil
}

func encodePorts(ports []atom.Port) (string, error) {
	if len(ports) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ports)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodePorts(raw string, out *[]atom.Port) error {
	if strings.TrimSpace(raw) == "" {
		*out = []atom.Port{}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return err
	}
	if *out == nil {
		*out = []atom.Port{}
	}
	return nil
}
