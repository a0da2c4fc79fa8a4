// File path: internal/mcp/structure.go

// Package mcp exposes the atom catalog to AI coding agents over the Model
// Context Protocol. Each tool resolves the game by name and renders results
// as compact text the agent can consume without further parsing.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mkrell/atomforge/internal/atom"
	"github.com/mkrell/atomforge/internal/catalog"
	"github.com/mkrell/atomforge/internal/store"
)

// StructureTool handles get_code_structure: the full code map of a game,
// signatures and wiring only.
type StructureTool struct {
	store   *store.Store
	catalog *catalog.Service
}

func NewStructureTool(st *store.Store, cat *catalog.Service) *StructureTool {
	return &StructureTool{store: st, catalog: cat}
}

func (t *StructureTool) Definition() mcp.Tool {
	return mcp.NewTool("get_code_structure",
		mcp.WithDescription(
			"Get the complete code map of a game: every atom's name, type, signature, "+
				"and dependencies, plus installed external libraries. No code bodies. "+
				"Call this first to see what already exists before writing new atoms.",
		),
		mcp.WithString("game",
			mcp.Required(),
			mcp.Description("Game name"),
		),
		mcp.WithString("type",
			mcp.Description("Filter by atom type"),
			mcp.Enum("core", "feature", "util"),
		),
	)
}

func (t *StructureTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gameName := req.GetString("game", "")
	if gameName == "" {
		return mcp.NewToolResultError("'game' is required"), nil
	}
	gameID, err := t.store.ResolveGameID(ctx, gameName)
	if err != nil {
		if store.IsNotFound(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	structure, err := t.catalog.GetStructure(ctx, gameID, req.GetString("type", ""))
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(formatStructure(gameName, structure)), nil
}

func formatStructure(gameName string, structure catalog.Structure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Game: %s (%d atoms)\n", gameName, len(structure.Atoms))
	if len(structure.Atoms) == 0 {
		b.WriteString("No atoms yet.\n")
	}
	for _, a := range structure.Atoms {
		fmt.Fprintf(&b, "- [%s] %s %s", a.Type, a.Name, atom.FormatSignature(a.Inputs, a.Outputs))
		if len(a.DependsOn) > 0 {
			fmt.Fprintf(&b, " (depends on: %s)", strings.Join(a.DependsOn, ", "))
		}
		b.WriteString("\n")
	}
	if len(structure.Externals) > 0 {
		b.WriteString("\nInstalled externals:\n")
		for _, ext := range structure.Externals {
			fmt.Fprintf(&b, "- %s %s (global %s)\n", ext.DisplayName, ext.Version, ext.GlobalName)
		}
	}
	return b.String()
}

// ExternalsTool handles read_externals: installed libraries with their API
// surface so the agent knows what globals it may call.
type ExternalsTool struct {
	store *store.Store
}

func NewExternalsTool(st *store.Store) *ExternalsTool {
	return &ExternalsTool{store: st}
}

func (t *ExternalsTool) Definition() mcp.Tool {
	return mcp.NewTool("read_externals",
		mcp.WithDescription(
			"List the external libraries installed in a game, including the API surface "+
				"available through each library's global.",
		),
		mcp.WithString("game",
			mcp.Required(),
			mcp.Description("Game name"),
		),
	)
}

func (t *ExternalsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gameName := req.GetString("game", "")
	if gameName == "" {
		return mcp.NewToolResultError("'game' is required"), nil
	}
	gameID, err := t.store.ResolveGameID(ctx, gameName)
	if err != nil {
		if store.IsNotFound(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	installed, err := t.store.InstalledExternals(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(installed) == 0 {
		return mcp.NewToolResultText("No external libraries installed.\n"), nil
	}
	var b strings.Builder
	for _, ext := range installed {
		fmt.Fprintf(&b, "%s %s\n", ext.DisplayName, ext.Version)
		fmt.Fprintf(&b, "  global: %s\n", ext.GlobalName)
		if ext.Description != "" {
			fmt.Fprintf(&b, "  %s\n", ext.Description)
		}
		if ext.APISurface != "" {
			fmt.Fprintf(&b, "  API: %s\n", ext.APISurface)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}
