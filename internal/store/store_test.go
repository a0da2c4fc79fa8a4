// File path: internal/store/store_test.go
package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mkrell/atomforge/internal/atom"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "atomforge_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestGame(t *testing.T, s *Store, name string) string {
	t.Helper()
	game, err := s.CreateGame(context.Background(), name, "test game")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	return game.ID
}

func TestUpsertAtomRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameID := newTestGame(t, s, "platformer")

	rec := AtomRecord{
		Name:        "math_clamp",
		Type:        atom.TypeUtil,
		Code:        "function math_clamp(v, lo, hi) { return Math.min(Math.max(v, lo), hi); }",
		Description: "clamp a number into a range",
		Inputs: []atom.Port{
			{Name: "v", Type: "number"},
			{Name: "lo", Type: "number"},
			{Name: "hi", Type: "number"},
		},
		Outputs: []atom.Port{{Name: "result", Type: "number"}},
	}
	version, err := s.UpsertAtom(ctx, gameID, rec, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected first version 1, got %d", version)
	}

	got, err := s.ReadAtoms(ctx, gameID, []string{"math_clamp"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 atom, got %d", len(got))
	}
	if got[0].Code != rec.Code {
		t.Fatalf("code mismatch: %q", got[0].Code)
	}
	if got[0].Description != rec.Description {
		t.Fatalf("description mismatch: %q", got[0].Description)
	}
	if len(got[0].Inputs) != 3 || got[0].Inputs[0].Name != "v" {
		t.Fatalf("inputs did not round-trip: %+v", got[0].Inputs)
	}
}

func TestUpsertAtomIncrementsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameID := newTestGame(t, s, "platformer")

	rec := AtomRecord{Name: "player_jump", Type: atom.TypeFeature, Code: "function player_jump() {}"}
	if _, err := s.UpsertAtom(ctx, gameID, rec, nil); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	rec.Code = "function player_jump() { velocity.y = -10; }"
	version, err := s.UpsertAtom(ctx, gameID, rec, nil)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2 after replacement, got %d", version)
	}
}

func TestUpsertAtomReplacesEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameID := newTestGame(t, s, "platformer")

	for _, name := range []string{"math_clamp", "vec2_add", "player_move"} {
		if _, err := s.UpsertAtom(ctx, gameID, AtomRecord{Name: name, Type: atom.TypeUtil, Code: "function " + name + "() {}"}, nil); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	if _, err := s.UpsertAtom(ctx, gameID,
		AtomRecord{Name: "player_move", Type: atom.TypeFeature, Code: "function player_move() {}"},
		[]string{"math_clamp"}); err != nil {
		t.Fatalf("link first edge: %v", err)
	}
	if _, err := s.UpsertAtom(ctx, gameID,
		AtomRecord{Name: "player_move", Type: atom.TypeFeature, Code: "function player_move() {}"},
		[]string{"vec2_add"}); err != nil {
		t.Fatalf("replace edges: %v", err)
	}

	edges, err := s.Edges(ctx, gameID)
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	var playerEdges []string
	for _, e := range edges {
		if e.AtomName == "player_move" {
			playerEdges = append(playerEdges, e.DependsOn)
		}
	}
	if len(playerEdges) != 1 || playerEdges[0] != "vec2_add" {
		t.Fatalf("expected edges fully replaced, got %v", playerEdges)
	}
}

func TestDeleteAtomAndDependents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameID := newTestGame(t, s, "platformer")

	if _, err := s.UpsertAtom(ctx, gameID, AtomRecord{Name: "math_clamp", Type: atom.TypeUtil, Code: "x"}, nil); err != nil {
		t.Fatalf("seed util: %v", err)
	}
	if _, err := s.UpsertAtom(ctx, gameID, AtomRecord{Name: "player_move", Type: atom.TypeFeature, Code: "x"}, []string{"math_clamp"}); err != nil {
		t.Fatalf("seed dependent: %v", err)
	}

	dependents, err := s.Dependents(ctx, gameID, "math_clamp")
	if err != nil {
		t.Fatalf("dependents: %v", err)
	}
	if len(dependents) != 1 || dependents[0] != "player_move" {
		t.Fatalf("expected [player_move], got %v", dependents)
	}

	if err := s.DeleteAtom(ctx, gameID, "player_move"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	edges, err := s.Edges(ctx, gameID)
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected outgoing edges removed with atom, got %v", edges)
	}

	err = s.DeleteAtom(ctx, gameID, "player_move")
	if !IsNotFound(err) {
		t.Fatalf("expected not found for second delete, got %v", err)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameID := newTestGame(t, s, "platformer")

	if _, err := s.UpsertAtom(ctx, gameID, AtomRecord{Name: "game_loop", Type: atom.TypeCore, Code: "function game_loop() {}"}, nil); err != nil {
		t.Fatalf("seed core: %v", err)
	}
	if _, err := s.UpsertAtom(ctx, gameID, AtomRecord{Name: "player_jump", Type: atom.TypeFeature, Code: "function player_jump() {}"}, []string{"game_loop"}); err != nil {
		t.Fatalf("seed feature: %v", err)
	}

	snapshot, err := s.SnapshotState(ctx, gameID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot.Atoms) != 2 || len(snapshot.Dependencies) != 1 {
		t.Fatalf("unexpected snapshot shape: %d atoms, %d edges", len(snapshot.Atoms), len(snapshot.Dependencies))
	}

	// Mutate past the snapshot, then restore.
	if _, err := s.UpsertAtom(ctx, gameID, AtomRecord{Name: "enemy_spawn", Type: atom.TypeFeature, Code: "x"}, nil); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if err := s.DeleteAtom(ctx, gameID, "player_jump"); err != nil {
		t.Fatalf("mutate delete: %v", err)
	}

	if err := s.RestoreSnapshot(ctx, gameID, snapshot); err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored, err := s.SnapshotState(ctx, gameID)
	if err != nil {
		t.Fatalf("re-snapshot: %v", err)
	}
	if len(restored.Atoms) != 2 {
		t.Fatalf("expected 2 atoms after restore, got %d", len(restored.Atoms))
	}
	names := []string{restored.Atoms[0].Name, restored.Atoms[1].Name}
	if names[0] != "game_loop" || names[1] != "player_jump" {
		t.Fatalf("unexpected atoms after restore: %v", names)
	}
	if len(restored.Dependencies) != 1 || restored.Dependencies[0].AtomName != "player_jump" {
		t.Fatalf("unexpected edges after restore: %v", restored.Dependencies)
	}
	atoms, err := s.ReadAtoms(ctx, gameID, []string{"game_loop"})
	if err != nil || len(atoms) != 1 {
		t.Fatalf("read restored atom: %v", err)
	}
	if atoms[0].Version != 1 {
		t.Fatalf("restored atom should start fresh at version 1, got %d", atoms[0].Version)
	}
}

func TestBuildLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameID := newTestGame(t, s, "platformer")

	buildID, err := s.InsertBuild(ctx, gameID)
	if err != nil {
		t.Fatalf("insert build: %v", err)
	}
	build, err := s.GetBuild(ctx, gameID, buildID)
	if err != nil {
		t.Fatalf("get build: %v", err)
	}
	if build.Status != BuildStatusBuilding {
		t.Fatalf("expected building status, got %s", build.Status)
	}
	if build.HasSnapshot() {
		t.Fatal("new build should have no snapshot")
	}

	snapshot := atom.Snapshot{
		Atoms:        []atom.SnapshotAtom{{Name: "game_loop", Type: atom.TypeCore, Code: "x"}},
		Dependencies: []atom.Dependency{},
	}
	if err := s.AttachSnapshot(ctx, buildID, snapshot); err != nil {
		t.Fatalf("attach snapshot: %v", err)
	}
	if err := s.FinalizeSuccess(ctx, buildID, "https://blob.example/latest.js", 1, []string{"sorted 1 atoms"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	build, err = s.GetBuild(ctx, gameID, buildID)
	if err != nil {
		t.Fatalf("get finalized build: %v", err)
	}
	if build.Status != BuildStatusSuccess || build.BundleURL == "" || build.AtomCount != 1 {
		t.Fatalf("unexpected finalized build: %+v", build)
	}
	decoded, err := build.DecodeSnapshot()
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(decoded.Atoms) != 1 || decoded.Atoms[0].Name != "game_loop" {
		t.Fatalf("snapshot did not survive finalization: %+v", decoded)
	}

	// A finalized build cannot transition again.
	if err := s.FinalizeError(ctx, buildID, "late failure", nil); err == nil {
		t.Fatal("expected second finalization to be rejected")
	}
}

func TestFinalizeErrorKeepsMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameID := newTestGame(t, s, "platformer")

	buildID, err := s.InsertBuild(ctx, gameID)
	if err != nil {
		t.Fatalf("insert build: %v", err)
	}
	if err := s.FinalizeError(ctx, buildID, "circular dependency detected", []string{"sorting atoms"}); err != nil {
		t.Fatalf("finalize error: %v", err)
	}
	build, err := s.GetBuild(ctx, gameID, buildID)
	if err != nil {
		t.Fatalf("get build: %v", err)
	}
	if build.Status != BuildStatusError {
		t.Fatalf("expected error status, got %s", build.Status)
	}
	if !strings.Contains(build.ErrorMessage, "circular dependency") {
		t.Fatalf("error message lost: %q", build.ErrorMessage)
	}
	if len(build.BuildLog) != 1 {
		t.Fatalf("partial log lost: %v", build.BuildLog)
	}
}

func TestBuildScopedToGame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameA := newTestGame(t, s, "platformer")
	gameB := newTestGame(t, s, "shooter")

	buildID, err := s.InsertBuild(ctx, gameA)
	if err != nil {
		t.Fatalf("insert build: %v", err)
	}
	if _, err := s.GetBuild(ctx, gameB, buildID); !IsNotFound(err) {
		t.Fatalf("expected cross-game lookup to report not found, got %v", err)
	}
}

func TestListBuildsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameID := newTestGame(t, s, "platformer")

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.InsertBuild(ctx, gameID)
		if err != nil {
			t.Fatalf("insert build %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	builds, err := s.ListBuilds(ctx, gameID, 2)
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("expected limit applied, got %d builds", len(builds))
	}
}

func TestExternalsInstallUninstall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameID := newTestGame(t, s, "platformer")

	registry, err := s.ListRegistry(ctx)
	if err != nil {
		t.Fatalf("list registry: %v", err)
	}
	if len(registry) < 2 {
		t.Fatalf("expected seeded registry, got %d entries", len(registry))
	}

	entry, err := s.InstallExternal(ctx, gameID, "three_js")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if entry.GlobalName != "THREE" {
		t.Fatalf("unexpected registry entry: %+v", entry)
	}
	if _, err := s.InstallExternal(ctx, gameID, "three_js"); err == nil || !strings.Contains(err.Error(), "already installed") {
		t.Fatalf("expected duplicate install error, got %v", err)
	}

	installed, err := s.InstalledExternals(ctx, gameID)
	if err != nil {
		t.Fatalf("installed: %v", err)
	}
	if len(installed) != 1 || installed[0].Name != "three_js" {
		t.Fatalf("unexpected installed set: %+v", installed)
	}

	if err := s.UninstallExternal(ctx, gameID, "three_js"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if err := s.UninstallExternal(ctx, gameID, "three_js"); err == nil || !strings.Contains(err.Error(), "not installed") {
		t.Fatalf("expected not-installed error, got %v", err)
	}
}

func TestSetActiveBuild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gameID := newTestGame(t, s, "platformer")

	buildID, err := s.InsertBuild(ctx, gameID)
	if err != nil {
		t.Fatalf("insert build: %v", err)
	}
	if err := s.SetActiveBuild(ctx, gameID, buildID); err != nil {
		t.Fatalf("set active build: %v", err)
	}
	game, err := s.GetGame(ctx, "platformer")
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if game.ActiveBuild == nil || game.ActiveBuild.ID != buildID {
		t.Fatalf("active build not reflected: %+v", game.ActiveBuild)
	}
}
