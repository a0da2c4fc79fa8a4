// File path: internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mkrell/atomforge/internal/blob"
	"github.com/mkrell/atomforge/internal/build"
	"github.com/mkrell/atomforge/internal/catalog"
	"github.com/mkrell/atomforge/internal/embed"
	"github.com/mkrell/atomforge/internal/store"
	"github.com/mkrell/atomforge/internal/vector"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{0.1, 0.2}, nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2}
	}
	return out, nil
}

type downEmbedder struct{}

func (downEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, &embed.UpstreamError{Status: http.StatusServiceUnavailable, Message: "provider down"}
}

func (downEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, &embed.UpstreamError{Status: http.StatusServiceUnavailable, Message: "provider down"}
}

type stubIndex struct {
	hits []vector.Hit
}

func (s *stubIndex) Available() bool { return true }
func (s *stubIndex) UpsertAtom(ctx context.Context, gameID, name, document string, vec []float64) error {
	return nil
}
func (s *stubIndex) DeleteAtom(ctx context.Context, gameID, name string) error { return nil }
func (s *stubIndex) Search(ctx context.Context, gameID string, vec []float64, limit int, threshold float64) ([]vector.Hit, error) {
	return s.hits, nil
}

type stubUploader struct{}

func (stubUploader) Upload(ctx context.Context, path string, data []byte, opts blob.UploadOptions) (string, error) {
	return "https://blob.test/" + path, nil
}

type noopTrigger struct{}

func (noopTrigger) Fire(ctx context.Context, gameID string) {}

func newTestServer(t *testing.T) (*Server, *stubIndex) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	index := &stubIndex{}
	cat := catalog.NewService(st, stubEmbedder{}, index, noopTrigger{})
	pipeline := build.NewPipeline(st, stubUploader{})
	rollbacker := build.NewRollbacker(st, stubEmbedder{}, index, noopTrigger{})

	srv, err := NewServer(st, cat, pipeline, rollbacker)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, index
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func createGame(t *testing.T, srv *Server, name string) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/v1/games", map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create game: status %d body %s", rec.Code, rec.Body.String())
	}
}

func upsertAtoms(t *testing.T, srv *Server, game string, atoms []map[string]interface{}) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/v1/games/"+game+"/atoms", map[string]interface{}{"atoms": atoms})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert atoms: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestGameLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	createGame(t, srv, "platformer")

	// Duplicate names are rejected.
	rec := doJSON(t, srv, http.MethodPost, "/v1/games", map[string]string{"name": "platformer"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected conflict, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/v1/games/platformer", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get game: %d", rec.Code)
	}
	var game struct {
		Name string `json:"name"`
	}
	decodeBody(t, rec, &game)
	if game.Name != "platformer" {
		t.Fatalf("unexpected game payload: %s", rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/v1/games/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown game, got %d", rec.Code)
	}
}

func TestAtomEndpoints(t *testing.T) {
	srv, index := newTestServer(t)
	createGame(t, srv, "platformer")

	upsertAtoms(t, srv, "platformer", []map[string]interface{}{
		{"name": "math_clamp", "type": "util", "code": "function math_clamp() {}",
			"inputs":  []map[string]string{{"name": "v", "type": "number"}},
			"outputs": []map[string]string{{"name": "result", "type": "number"}}},
		{"name": "player_move", "type": "feature", "code": "function player_move() {}",
			"dependencies": []string{"math_clamp"}},
	})

	rec := doJSON(t, srv, http.MethodGet, "/v1/games/platformer/structure", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("structure: %d %s", rec.Code, rec.Body.String())
	}
	var structure struct {
		Atoms []struct {
			Name      string   `json:"name"`
			DependsOn []string `json:"depends_on"`
		} `json:"atoms"`
	}
	decodeBody(t, rec, &structure)
	if len(structure.Atoms) != 2 {
		t.Fatalf("expected 2 atoms in structure, got %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "function math_clamp") {
		t.Fatal("structure view leaked code bodies")
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/games/platformer/atoms/read",
		map[string]interface{}{"atom_names": []string{"player_move"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("read atoms: %d", rec.Code)
	}
	var read struct {
		Atoms []struct {
			Name string `json:"name"`
			Code string `json:"code"`
		} `json:"atoms"`
	}
	decodeBody(t, rec, &read)
	if len(read.Atoms) != 1 || read.Atoms[0].Code == "" {
		t.Fatalf("unexpected read payload: %s", rec.Body.String())
	}

	index.hits = []vector.Hit{{Name: "player_move", Similarity: 0.7}}
	rec = doJSON(t, srv, http.MethodGet, "/v1/games/platformer/atoms/search?q=movement", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "player_move") {
		t.Fatalf("search results missing hit: %s", rec.Body.String())
	}

	// Guarded delete: 400 naming the dependent, then successful delete.
	rec = doJSON(t, srv, http.MethodDelete, "/v1/games/platformer/atoms/math_clamp", nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "player_move") {
		t.Fatalf("expected delete guard, got %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodDelete, "/v1/games/platformer/atoms/player_move", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}

	// Oversized atom is a 400.
	rec = doJSON(t, srv, http.MethodPost, "/v1/games/platformer/atoms", map[string]interface{}{
		"atoms": []map[string]interface{}{
			{"name": "huge_atom", "type": "util", "code": strings.Repeat("x", 3000)},
		},
	})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "smaller atoms") {
		t.Fatalf("expected size rejection, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestExternalsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	createGame(t, srv, "platformer")

	rec := doJSON(t, srv, http.MethodGet, "/v1/externals", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "three_js") {
		t.Fatalf("registry: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/games/platformer/externals", map[string]string{"name": "matter_js"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("install: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodPost, "/v1/games/platformer/externals", map[string]string{"name": "matter_js"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected conflict on duplicate install, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/v1/games/platformer/externals", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "matter_js") {
		t.Fatalf("installed list: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodDelete, "/v1/games/platformer/externals/matter_js", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("uninstall: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodDelete, "/v1/games/platformer/externals/matter_js", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second uninstall, got %d", rec.Code)
	}
}

func TestBuildAndRollbackEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	createGame(t, srv, "platformer")
	upsertAtoms(t, srv, "platformer", []map[string]interface{}{
		{"name": "game_loop", "type": "core", "code": "function game_loop() {}"},
	})

	rec := doJSON(t, srv, http.MethodPost, "/v1/games/platformer/builds", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger build: %d %s", rec.Code, rec.Body.String())
	}
	var buildResp struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		BundleURL string `json:"bundle_url"`
	}
	decodeBody(t, rec, &buildResp)
	if buildResp.Status != "success" || buildResp.BundleURL == "" {
		t.Fatalf("unexpected build: %s", rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/v1/games/platformer/builds", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), buildResp.ID) {
		t.Fatalf("list builds: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/v1/games/platformer/builds/%s", buildResp.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get build: %d %s", rec.Code, rec.Body.String())
	}

	// Change state, then roll back to the recorded build.
	upsertAtoms(t, srv, "platformer", []map[string]interface{}{
		{"name": "enemy_spawn", "type": "feature", "code": "function enemy_spawn() {}"},
	})
	rec = doJSON(t, srv, http.MethodPost, "/v1/games/platformer/rollback", map[string]string{"build_id": buildResp.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback: %d %s", rec.Code, rec.Body.String())
	}
	var rollback struct {
		RestoredAtoms int    `json:"restored_atoms"`
		CheckpointID  string `json:"checkpoint_id"`
	}
	decodeBody(t, rec, &rollback)
	if rollback.RestoredAtoms != 1 || rollback.CheckpointID == "" {
		t.Fatalf("unexpected rollback result: %s", rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/games/platformer/rollback", map[string]string{"build_id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 rolling back to unknown build, got %d", rec.Code)
	}
}

func TestBuildEmptyGameSucceedsWithoutArtifact(t *testing.T) {
	srv, _ := newTestServer(t)
	createGame(t, srv, "empty_game")

	rec := doJSON(t, srv, http.MethodPost, "/v1/games/empty_game/builds", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger build: %d %s", rec.Code, rec.Body.String())
	}
	var build struct {
		Status    string `json:"status"`
		AtomCount int    `json:"atom_count"`
		BundleURL string `json:"bundle_url"`
	}
	decodeBody(t, rec, &build)
	if build.Status != "success" || build.AtomCount != 0 || build.BundleURL != "" {
		t.Fatalf("unexpected empty-game build: %+v", build)
	}
}

func TestBuildErrorStateReturnedInRecord(t *testing.T) {
	srv, _ := newTestServer(t)
	createGame(t, srv, "cyclic_game")
	upsertAtoms(t, srv, "cyclic_game", []map[string]interface{}{
		{"name": "loop_a", "type": "util", "code": "function loop_a() {}"},
		{"name": "loop_b", "type": "util", "code": "function loop_b() {}", "dependencies": []string{"loop_a"}},
	})
	upsertAtoms(t, srv, "cyclic_game", []map[string]interface{}{
		{"name": "loop_a", "type": "util", "code": "function loop_a() {}", "dependencies": []string{"loop_b"}},
	})

	rec := doJSON(t, srv, http.MethodPost, "/v1/games/cyclic_game/builds", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger build: %d %s", rec.Code, rec.Body.String())
	}
	var build struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
	}
	decodeBody(t, rec, &build)
	if build.Status != "error" || !strings.Contains(build.ErrorMessage, "circular dependency") {
		t.Fatalf("expected recorded cycle error, got %+v", build)
	}
}

func TestLogsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/v1/logs?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logs: %d", rec.Code)
	}
	var payload struct {
		Logs []map[string]interface{} `json:"logs"`
	}
	decodeBody(t, rec, &payload)
}

func TestUpsertEmbeddingOutageIsBadGateway(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cat := catalog.NewService(st, downEmbedder{}, &stubIndex{}, noopTrigger{})
	srv, err := NewServer(st, cat, build.NewPipeline(st, stubUploader{}),
		build.NewRollbacker(st, downEmbedder{}, &stubIndex{}, noopTrigger{}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	createGame(t, srv, "platformer")

	rec := doJSON(t, srv, http.MethodPost, "/v1/games/platformer/atoms", map[string]interface{}{
		"atoms": []map[string]interface{}{
			{"name": "game_loop", "type": "core", "code": "function game_loop() {}"},
		},
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when the embedding provider is down, got %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodPost, "/v1/games/platformer/atoms/read",
		map[string]interface{}{"atom_names": []string{"game_loop"}})
	if rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), "function game_loop") {
		t.Fatal("atom must not land when embedding fails")
	}
}
