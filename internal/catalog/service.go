// File path: internal/catalog/service.go
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mkrell/atomforge/internal/atom"
	"github.com/mkrell/atomforge/internal/common"
	"github.com/mkrell/atomforge/internal/embed"
	"github.com/mkrell/atomforge/internal/store"
	"github.com/mkrell/atomforge/internal/trigger"
	"github.com/mkrell/atomforge/internal/vector"
)

// matchThreshold is the minimum similarity for a semantic search hit.
const matchThreshold = 0.3

// Service owns atom reads and writes for the agent-facing surface. Writes
// keep the relational rows, dependency edges, and vector index in step, then
// request a rebuild without waiting on it.
type Service struct {
	store    *store.Store
	embedder embed.Embedder
	index    vector.Index
	trigger  trigger.Trigger
}

func NewService(st *store.Store, embedder embed.Embedder, index vector.Index, trig trigger.Trigger) *Service {
	return &Service{store: st, embedder: embedder, index: index, trigger: trig}
}

// UpsertRequest is one atom write. Dependencies may name atoms that exist
// already or atoms earlier in the same batch.
type UpsertRequest struct {
	Name         string      `json:"name"`
	Type         atom.Type   `json:"type"`
	Code         string      `json:"code"`
	Description  string      `json:"description"`
	Inputs       []atom.Port `json:"inputs"`
	Outputs      []atom.Port `json:"outputs"`
	Dependencies []string    `json:"dependencies"`
}

// UpsertResult reports what was written for one atom.
type UpsertResult struct {
	Name         string   `json:"name"`
	Signature    string   `json:"signature"`
	Version      int      `json:"version"`
	Dependencies []string `json:"dependencies"`
}

// Structure is the code map handed to the agent: every atom's shape plus the
// game's installed libraries, with no code bodies.
type Structure struct {
	Atoms     []atom.Summary            `json:"atoms"`
	Externals []store.InstalledExternal `json:"externals"`
}

// GetStructure returns the full code map for a game.
func (s *Service) GetStructure(ctx context.Context, gameID, typeFilter string) (Structure, error) {
	atoms, err := s.store.ListStructure(ctx, gameID, typeFilter)
	if err != nil {
		return Structure{}, err
	}
	externals, err := s.store.InstalledExternals(ctx, gameID)
	if err != nil {
		return Structure{}, err
	}
	if atoms == nil {
		atoms = []atom.Summary{}
	}
	if externals == nil {
		externals = []store.InstalledExternal{}
	}
	return Structure{Atoms: atoms, Externals: externals}, nil
}

// ReadAtoms returns full records for the requested names. Names that do not
// exist are omitted from the result.
func (s *Service) ReadAtoms(ctx context.Context, gameID string, names []string) ([]atom.Atom, error) {
	if len(names) == 0 {
		return nil, &atom.ValidationError{Msg: "atom_names is required"}
	}
	return s.store.ReadAtoms(ctx, gameID, names)
}

// Upsert validates and writes a batch of atoms, indexes their embeddings, and
// requests one rebuild for the whole batch.
func (s *Service) Upsert(ctx context.Context, gameID string, reqs []UpsertRequest) ([]UpsertResult, error) {
	if len(reqs) == 0 {
		return nil, &atom.ValidationError{Msg: "atoms is required"}
	}
	logger := common.Logger()

	for _, req := range reqs {
		if err := atom.ValidateName(req.Name); err != nil {
			return nil, err
		}
		if err := atom.ValidateType(req.Type); err != nil {
			return nil, err
		}
		if err := atom.ValidateCodeSize(req.Code); err != nil {
			return nil, err
		}
	}
	if err := s.validateDependencies(ctx, gameID, reqs); err != nil {
		return nil, err
	}

	// One provider call for the whole batch. A provider failure aborts the
	// write before any row lands.
	texts := make([]string, len(reqs))
	for i, req := range reqs {
		texts[i] = atom.EmbeddingText(req.Name, req.Inputs, req.Outputs, req.Description, req.Code)
	}
	vectors, err := s.embedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	results := make([]UpsertResult, 0, len(reqs))
	for i, req := range reqs {
		version, err := s.store.UpsertAtom(ctx, gameID, store.AtomRecord{
			Name:        req.Name,
			Type:        req.Type,
			Code:        req.Code,
			Description: req.Description,
			Inputs:      req.Inputs,
			Outputs:     req.Outputs,
		}, req.Dependencies)
		if err != nil {
			return nil, err
		}
		if vectors != nil && s.index != nil {
			if err := s.index.UpsertAtom(ctx, gameID, req.Name, texts[i], vectors[i]); err != nil {
				logger.Warn("catalog: vector index update failed", "atom", req.Name, "error", err)
			}
		}
		deps := req.Dependencies
		if deps == nil {
			deps = []string{}
		}
		results = append(results, UpsertResult{
			Name:         req.Name,
			Signature:    atom.FormatSignature(req.Inputs, req.Outputs),
			Version:      version,
			Dependencies: deps,
		})
	}

	if s.trigger != nil {
		s.trigger.Fire(ctx, gameID)
	}
	return results, nil
}

// Delete removes an atom once nothing depends on it, drops its index entry,
// and requests a rebuild.
func (s *Service) Delete(ctx context.Context, gameID, name string) error {
	dependents, err := s.store.Dependents(ctx, gameID, name)
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		return &atom.ValidationError{Msg: fmt.Sprintf(
			"cannot delete %s: depended on by %s", name, strings.Join(dependents, ", "))}
	}
	if err := s.store.DeleteAtom(ctx, gameID, name); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.DeleteAtom(ctx, gameID, name); err != nil {
			common.Logger().Warn("catalog: vector index delete failed", "atom", name, "error", err)
		}
	}
	if s.trigger != nil {
		s.trigger.Fire(ctx, gameID)
	}
	return nil
}

// InstallExternal adds a registry library to the game and requests a rebuild
// so the published manifest picks it up.
func (s *Service) InstallExternal(ctx context.Context, gameID, name string) (*store.External, error) {
	entry, err := s.store.InstallExternal(ctx, gameID, name)
	if err != nil {
		return nil, err
	}
	if s.trigger != nil {
		s.trigger.Fire(ctx, gameID)
	}
	return entry, nil
}

// UninstallExternal removes a library from the game and requests a rebuild.
func (s *Service) UninstallExternal(ctx context.Context, gameID, name string) error {
	if err := s.store.UninstallExternal(ctx, gameID, name); err != nil {
		return err
	}
	if s.trigger != nil {
		s.trigger.Fire(ctx, gameID)
	}
	return nil
}

// Search embeds the query and returns matching atoms with their live
// dependency edges. Results carry the version zero sentinel.
func (s *Service) Search(ctx context.Context, gameID, query string, limit int) ([]atom.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &atom.ValidationError{Msg: "query is required"}
	}
	if s.embedder == nil || s.index == nil || !s.index.Available() {
		return nil, fmt.Errorf("semantic search unavailable")
	}
	if limit <= 0 {
		limit = 5
	}
	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Search(ctx, gameID, queryVector, limit, matchThreshold)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []atom.SearchResult{}, nil
	}
	names := make([]string, 0, len(hits))
	similarity := make(map[string]float64, len(hits))
	for _, hit := range hits {
		names = append(names, hit.Name)
		similarity[hit.Name] = hit.Similarity
	}
	atoms, err := s.store.ReadAtoms(ctx, gameID, names)
	if err != nil {
		return nil, err
	}
	results := make([]atom.SearchResult, 0, len(atoms))
	for _, a := range atoms {
		a.Version = 0
		results = append(results, atom.SearchResult{Atom: a, Similarity: similarity[a.Name]})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	return results, nil
}

// validateDependencies checks every named dependency against atoms that
// already exist plus atoms earlier in the batch. Self-references are allowed;
// the sorter treats them as inert. The error lists every missing name.
func (s *Service) validateDependencies(ctx context.Context, gameID string, reqs []UpsertRequest) error {
	var all []string
	for _, req := range reqs {
		all = append(all, req.Dependencies...)
	}
	if len(all) == 0 {
		return nil
	}
	existing, err := s.store.ExistingNames(ctx, gameID, all)
	if err != nil {
		return err
	}
	inBatch := make(map[string]bool, len(reqs))
	var missing []string
	seen := make(map[string]bool)
	for _, req := range reqs {
		for _, dep := range req.Dependencies {
			if dep == req.Name {
				continue
			}
			if !existing[dep] && !inBatch[dep] && !seen[dep] {
				seen[dep] = true
				missing = append(missing, dep)
			}
		}
		inBatch[req.Name] = true
	}
	if len(missing) > 0 {
		return &atom.ValidationError{Msg: fmt.Sprintf(
			"unknown dependencies: %s", strings.Join(missing, ", "))}
	}
	return nil
}

// embedBatch generates vectors for the batch. A nil embedder (embeddings not
// configured) yields nil vectors so writes can proceed without an index; a
// provider failure is an error the caller must surface.
func (s *Service) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if s.embedder == nil {
		return nil, nil
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}
	return vectors, nil
}
