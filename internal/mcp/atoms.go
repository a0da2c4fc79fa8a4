// File path: internal/mcp/atoms.go
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mkrell/atomforge/internal/atom"
	"github.com/mkrell/atomforge/internal/catalog"
	"github.com/mkrell/atomforge/internal/store"
)

// ReadTool handles read_atoms: full source for a named subset of atoms.
type ReadTool struct {
	store   *store.Store
	catalog *catalog.Service
}

func NewReadTool(st *store.Store, cat *catalog.Service) *ReadTool {
	return &ReadTool{store: st, catalog: cat}
}

func (t *ReadTool) Definition() mcp.Tool {
	return mcp.NewTool("read_atoms",
		mcp.WithDescription(
			"Read the full source of specific atoms by name. Read only what you need: "+
				"the point of atoms is never loading the whole program.",
		),
		mcp.WithString("game",
			mcp.Required(),
			mcp.Description("Game name"),
		),
		mcp.WithArray("atom_names",
			mcp.Required(),
			mcp.Description("Names of the atoms to read"),
			mcp.Items(map[string]interface{}{"type": "string"}),
		),
	)
}

func (t *ReadTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gameName := req.GetString("game", "")
	if gameName == "" {
		return mcp.NewToolResultError("'game' is required"), nil
	}
	names := stringSliceArg(req, "atom_names")
	if len(names) == 0 {
		return mcp.NewToolResultError("'atom_names' is required"), nil
	}
	gameID, err := t.store.ResolveGameID(ctx, gameName)
	if err != nil {
		if store.IsNotFound(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	atoms, err := t.catalog.ReadAtoms(ctx, gameID, names)
	if err != nil {
		return nil, err
	}
	if len(atoms) == 0 {
		return mcp.NewToolResultText("No matching atoms found.\n"), nil
	}
	var b strings.Builder
	for _, a := range atoms {
		fmt.Fprintf(&b, "// [%s] %s %s (v%d)\n", a.Type, a.Name, atom.FormatSignature(a.Inputs, a.Outputs), a.Version)
		if a.Description != "" {
			fmt.Fprintf(&b, "// %s\n", a.Description)
		}
		if len(a.DependsOn) > 0 {
			fmt.Fprintf(&b, "// depends on: %s\n", strings.Join(a.DependsOn, ", "))
		}
		b.WriteString(a.Code)
		b.WriteString("\n\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// UpsertTool handles upsert_atoms: batched create-or-replace writes.
type UpsertTool struct {
	store   *store.Store
	catalog *catalog.Service
}

func NewUpsertTool(st *store.Store, cat *catalog.Service) *UpsertTool {
	return &UpsertTool{store: st, catalog: cat}
}

func (t *UpsertTool) Definition() mcp.Tool {
	return mcp.NewTool("upsert_atoms",
		mcp.WithDescription(
			"Create or replace atoms. Each atom is a small focused unit under 2048 bytes of "+
				"code with a snake_case name, a type (core/feature/util), typed inputs/outputs, "+
				"and the names of atoms it calls. A successful write triggers a rebuild.",
		),
		mcp.WithString("game",
			mcp.Required(),
			mcp.Description("Game name"),
		),
		mcp.WithArray("atoms",
			mcp.Required(),
			mcp.Description("Atoms to write: objects with name, type, code, description, inputs, outputs, dependencies"),
			mcp.Items(map[string]interface{}{"type": "object"}),
		),
	)
}

func (t *UpsertTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gameName := req.GetString("game", "")
	if gameName == "" {
		return mcp.NewToolResultError("'game' is required"), nil
	}
	raw, ok := req.GetArguments()["atoms"]
	if !ok {
		return mcp.NewToolResultError("'atoms' is required"), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError("'atoms' must be an array of atom objects"), nil
	}
	var reqs []catalog.UpsertRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return mcp.NewToolResultError("'atoms' must be an array of atom objects"), nil
	}
	gameID, err := t.store.ResolveGameID(ctx, gameName)
	if err != nil {
		if store.IsNotFound(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	results, err := t.catalog.Upsert(ctx, gameID, reqs)
	if err != nil {
		var vErr *atom.ValidationError
		if errors.As(err, &vErr) {
			return mcp.NewToolResultError(vErr.Error()), nil
		}
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Wrote %d atoms:\n", len(results))
	for _, res := range results {
		fmt.Fprintf(&b, "- %s %s (v%d)", res.Name, res.Signature, res.Version)
		if len(res.Dependencies) > 0 {
			fmt.Fprintf(&b, " depends on %s", strings.Join(res.Dependencies, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("Rebuild triggered.\n")
	return mcp.NewToolResultText(b.String()), nil
}

// DeleteTool handles delete_atom: removal with the dependents guard.
type DeleteTool struct {
	store   *store.Store
	catalog *catalog.Service
}

func NewDeleteTool(st *store.Store, cat *catalog.Service) *DeleteTool {
	return &DeleteTool{store: st, catalog: cat}
}

func (t *DeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_atom",
		mcp.WithDescription(
			"Delete an atom. Fails if other atoms still depend on it; update or delete "+
				"the dependents first.",
		),
		mcp.WithString("game",
			mcp.Required(),
			mcp.Description("Game name"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Atom name"),
		),
	)
}

func (t *DeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gameName := req.GetString("game", "")
	name := req.GetString("name", "")
	if gameName == "" {
		return mcp.NewToolResultError("'game' is required"), nil
	}
	if name == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}
	gameID, err := t.store.ResolveGameID(ctx, gameName)
	if err != nil {
		if store.IsNotFound(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	if err := t.catalog.Delete(ctx, gameID, name); err != nil {
		var vErr *atom.ValidationError
		if errors.As(err, &vErr) {
			return mcp.NewToolResultError(vErr.Error()), nil
		}
		if store.IsNotFound(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %s. Rebuild triggered.\n", name)), nil
}

// stringSliceArg coerces an array argument into []string, skipping entries
// that are not strings.
func stringSliceArg(req mcp.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
