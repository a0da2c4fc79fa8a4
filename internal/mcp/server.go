// File path: internal/mcp/server.go

package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mkrell/atomforge/internal/catalog"
	"github.com/mkrell/atomforge/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewServer wires every catalog tool into an MCP server instance. This is
// the composition root for the agent-facing surface: no business logic
// lives here, only registration.
func NewServer(st *store.Store, cat *catalog.Service) *server.MCPServer {
	s := server.NewMCPServer(
		"atomforge",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	structure := NewStructureTool(st, cat)
	s.AddTool(structure.Definition(), structure.Handle)

	read := NewReadTool(st, cat)
	s.AddTool(read.Definition(), read.Handle)

	search := NewSearchTool(st, cat)
	s.AddTool(search.Definition(), search.Handle)

	externals := NewExternalsTool(st)
	s.AddTool(externals.Definition(), externals.Handle)

	upsert := NewUpsertTool(st, cat)
	s.AddTool(upsert.Definition(), upsert.Handle)

	del := NewDeleteTool(st, cat)
	s.AddTool(del.Definition(), del.Handle)

	return s
}

// serverInstructions tells the agent how to work with the atom catalog.
func serverInstructions() string {
	return `You are writing game code as small typed units called atoms.

## WORKFLOW

1. Call get_code_structure first to see what already exists.
2. Use semantic_search to find reusable atoms before writing new ones.
3. Use read_atoms to fetch the code of the atoms you need to change.
4. Write or update atoms with upsert_atoms. Every save triggers a rebuild,
   so batch related atoms into one call.

## RULES

- Atom names are snake_case and unique within a game.
- Every atom is core, feature, or util. Exactly the atoms that start the
  game are core; game_loop or main is booted automatically.
- Code must stay under 2 KB per atom. Split anything bigger.
- Declare dependencies explicitly; an atom may only call atoms it depends on.
- Check read_externals before reaching for a library global.`
}
