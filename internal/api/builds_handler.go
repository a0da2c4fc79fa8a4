// File path: internal/api/builds_handler.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/mkrell/atomforge/internal/atom"
)

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	builds, err := s.store.ListBuilds(r.Context(), gameID, parseLimit(r, 20))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"builds": builds})
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	build, err := s.store.GetBuild(r.Context(), gameID, strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// handleTriggerBuild runs the pipeline synchronously and returns the terminal
// build record. A build that ends in the error state is still a 200: the
// request was served, the outcome is in the record.
func (s *Server) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("build pipeline not configured"))
		return
	}
	build, err := s.pipeline.Run(r.Context(), gameID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

type rollbackRequest struct {
	BuildID string `json:"build_id"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.rollbacker == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("rollback not configured"))
		return
	}
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.BuildID) == "" {
		writeError(w, http.StatusBadRequest, &atom.ValidationError{Msg: "build_id is required"})
		return
	}
	result, err := s.rollbacker.Rollback(r.Context(), gameID, req.BuildID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
