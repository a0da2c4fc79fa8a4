// File path: internal/api/server.go
package api

import (
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/mkrell/atomforge/internal/atom"
	"github.com/mkrell/atomforge/internal/build"
	"github.com/mkrell/atomforge/internal/catalog"
	"github.com/mkrell/atomforge/internal/common"
	"github.com/mkrell/atomforge/internal/embed"
	"github.com/mkrell/atomforge/internal/store"
)

type Server struct {
	router     chi.Router
	store      *store.Store
	catalog    *catalog.Service
	pipeline   *build.Pipeline
	rollbacker *build.Rollbacker
}

func NewServer(st *store.Store, cat *catalog.Service, pipeline *build.Pipeline, rollbacker *build.Rollbacker) (*Server, error) {
	logger := common.Logger()
	if st == nil {
		return nil, errors.New("store required")
	}
	if cat == nil {
		return nil, errors.New("catalog service required")
	}
	srv := &Server{
		router:     chi.NewRouter(),
		store:      st,
		catalog:    cat,
		pipeline:   pipeline,
		rollbacker: rollbacker,
	}
	srv.routes()
	logger.Info("api: server ready")
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	logger.Info("api: configuring routes")
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Method(http.MethodGet, "/debug/vars", expvar.Handler())
	s.router.Get("/v1/logs", s.handleLogs)

	s.router.Post("/v1/games", s.handleCreateGame)
	s.router.Get("/v1/games", s.handleListGames)
	s.router.Get("/v1/games/{game}", s.handleGetGame)

	s.router.Get("/v1/games/{game}/structure", s.handleStructure)
	s.router.Post("/v1/games/{game}/atoms", s.handleUpsertAtoms)
	s.router.Post("/v1/games/{game}/atoms/read", s.handleReadAtoms)
	s.router.Get("/v1/games/{game}/atoms/search", s.handleSearchAtoms)
	s.router.Delete("/v1/games/{game}/atoms/{name}", s.handleDeleteAtom)

	s.router.Get("/v1/externals", s.handleRegistry)
	s.router.Get("/v1/games/{game}/externals", s.handleInstalledExternals)
	s.router.Post("/v1/games/{game}/externals", s.handleInstallExternal)
	s.router.Delete("/v1/games/{game}/externals/{name}", s.handleUninstallExternal)

	s.router.Get("/v1/games/{game}/builds", s.handleListBuilds)
	s.router.Post("/v1/games/{game}/builds", s.handleTriggerBuild)
	s.router.Get("/v1/games/{game}/builds/{id}", s.handleGetBuild)
	s.router.Post("/v1/games/{game}/rollback", s.handleRollback)
}

// resolveGame maps the {game} path segment (a game name) to its id.
func (s *Server) resolveGame(r *http.Request) (string, error) {
	name := strings.TrimSpace(chi.URLParam(r, "game"))
	if name == "" {
		return "", &atom.ValidationError{Msg: "game is required"}
	}
	return s.store.ResolveGameID(r.Context(), name)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := common.LogEntries()
	limit := 200
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps known error kinds onto HTTP statuses: caller
// mistakes are 400, missing resources 404, provider failures 502,
// everything else 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var vErr *atom.ValidationError
	var uErr *embed.UpstreamError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, err)
	case store.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &uErr):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
