// File path: internal/api/externals_handler.go
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/mkrell/atomforge/internal/atom"
)

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	registry, err := s.store.ListRegistry(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"externals": registry})
}

func (s *Server) handleInstalledExternals(w http.ResponseWriter, r *http.Request) {
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	installed, err := s.store.InstalledExternals(r.Context(), gameID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"externals": installed})
}

type installExternalRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleInstallExternal(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req installExternalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, &atom.ValidationError{Msg: "name is required"})
		return
	}
	entry, err := s.catalog.InstallExternal(r.Context(), gameID, req.Name)
	if err != nil {
		if strings.Contains(err.Error(), "already installed") {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUninstallExternal(w http.ResponseWriter, r *http.Request) {
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if err := s.catalog.UninstallExternal(r.Context(), gameID, name); err != nil {
		if strings.Contains(err.Error(), "not installed") {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"uninstalled": name})
}
