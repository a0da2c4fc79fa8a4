// File path: internal/mcp/search.go

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

// SearchTool handles semantic_search: similarity lookup over atom embeddings.
type SearchTool struct {
	store   *store.Store
	catalog *catalog.Service
}

func NewSearchTool(st *store.Store, cat *catalog.Service) *SearchTool {
	return &SearchTool{store: st, catalog: cat}
}

func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("semantic_search",
		mcp.WithDescription(
			"Search a game's atoms by meaning. Describe the behavior you are looking "+
				"for in natural language and get the closest matching atoms with their "+
				"code. Use this to find reusable atoms before writing a new one.",
		),
		mcp.WithString("game",
			mcp.Required(),
			mcp.Description("Game name"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What the atom should do, in plain language"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 5)"),
		),
	)
}

func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gameName := req.GetString("game", "")
	if gameName == "" {
		return mcp.NewToolResultError("'game' is required"), nil
	}
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	limit := intArg(req, "limit", 5)

	gameID, err := t.store.ResolveGameID(ctx, gameName)
	if err != nil {
		if store.IsNotFound(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}

	results, err := t.catalog.Search(ctx, gameID, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No atoms matched the query."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d atoms:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %.2f [%s] %s %s\n",
			i+1, r.Similarity, r.Type, r.Name, atom.FormatSignature(r.Inputs, r.Outputs))
		if r.Description != "" {
			fmt.Fprintf(&b, "    %s\n", r.Description)
		}
		fmt.Fprintf(&b, "%s\n\n", indentLines(r.Code, "    "))
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func indentLines(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
