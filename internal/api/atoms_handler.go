// File path: internal/api/atoms_handler.go
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/mkrell/atomforge/internal/atom"
	"github.com/mkrell/atomforge/internal/catalog"
)

func (s *Server) handleStructure(w http.ResponseWriter, r *http.Request) {
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	structure, err := s.catalog.GetStructure(r.Context(), gameID, r.URL.Query().Get("type"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, structure)
}

type upsertAtomsRequest struct {
	Atoms []catalog.UpsertRequest `json:"atoms"`
}

func (s *Server) handleUpsertAtoms(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req upsertAtomsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := s.catalog.Upsert(r.Context(), gameID, req.Atoms)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"created": results})
}

type readAtomsRequest struct {
	AtomNames []string `json:"atom_names"`
}

func (s *Server) handleReadAtoms(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req readAtomsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	atoms, err := s.catalog.ReadAtoms(r.Context(), gameID, req.AtomNames)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if atoms == nil {
		atoms = []atom.Atom{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"atoms": atoms})
}

func (s *Server) handleSearchAtoms(w http.ResponseWriter, r *http.Request) {
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	results, err := s.catalog.Search(r.Context(), gameID, query, parseLimit(r, 5))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleDeleteAtom(w http.ResponseWriter, r *http.Request) {
	gameID, err := s.resolveGame(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if err := s.catalog.Delete(r.Context(), gameID, name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": name})
}
