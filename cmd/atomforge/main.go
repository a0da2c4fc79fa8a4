// File path: cmd/atomforge/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mkrell/atomforge/internal/api"
	"github.com/mkrell/atomforge/internal/blob"
	"github.com/mkrell/atomforge/internal/build"
	"github.com/mkrell/atomforge/internal/catalog"
	"github.com/mkrell/atomforge/internal/common"
	"github.com/mkrell/atomforge/internal/embed"
	"github.com/mkrell/atomforge/internal/mcp"
	"github.com/mkrell/atomforge/internal/store"
	"github.com/mkrell/atomforge/internal/trigger"
	"github.com/mkrell/atomforge/internal/vector"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("atomforge: .env file not loaded", "error", err)
	} else {
		logger.Info("atomforge: environment loaded from .env")
	}

	mode := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "mcp" {
		mode = "mcp"
		args = args[1:]
	}

	fs := flag.NewFlagSet("atomforge", flag.ExitOnError)
	addr := fs.String("addr", envOr("ATOMFORGE_ADDR", ":8090"), "listen address")
	dbPath := fs.String("db", envOr("ATOMFORGE_DB", defaultDBPath()), "path to the SQLite atom store")
	_ = fs.Parse(args)

	st, err := store.Open(*dbPath)
	if err != nil {
		logger.Error("atomforge: store open failed", "path", *dbPath, "error", err)
		fmt.Println("store error:", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("atomforge: store ready", "path", *dbPath)

	var embedder embed.Embedder
	embedCfg, err := embed.LoadConfig()
	if err != nil {
		logger.Error("atomforge: embedding config load failed", "error", err)
		fmt.Println("embedding config error:", err)
		os.Exit(1)
	}
	if client, err := embed.NewClient(embedCfg); err != nil {
		logger.Warn("atomforge: embeddings not configured, semantic search disabled", "error", err)
	} else {
		embedder = client
		logger.Info("atomforge: embedding client ready", "model", embedCfg.Model)
	}

	var index vector.Index
	if client, err := vector.NewFromEnv(ctx); err != nil {
		logger.Warn("atomforge: chromadb not configured", "error", err)
	} else {
		index = client
		if client.Available() {
			logger.Info("atomforge: chromadb available", "collection", client.Collection())
		} else {
			logger.Warn("atomforge: chromadb unreachable", "collection", client.Collection())
		}
		defer client.Close()
	}

	if mode == "mcp" {
		// Over stdio the HTTP pipeline is not running in-process, so saves
		// notify the build webhook when one is configured.
		var trig trigger.Trigger
		if webhook := trigger.NewWebhookFromEnv(); webhook != nil {
			trig = webhook
		}
		cat := catalog.NewService(st, embedder, index, trig)
		logger.Info("atomforge: serving MCP over stdio")
		if err := mcpserver.ServeStdio(mcp.NewServer(st, cat)); err != nil {
			logger.Error("atomforge: mcp server stopped", "error", err)
			fmt.Println("mcp server stopped:", err)
			os.Exit(1)
		}
		return
	}

	var uploader blob.Uploader
	if client, err := blob.NewFromEnv(); err != nil {
		logger.Warn("atomforge: blob storage not configured, builds will fail", "error", err)
	} else {
		uploader = client
	}

	pipeline := build.NewPipeline(st, uploader)

	// Saves rebuild in-process; the pipeline records the outcome on the
	// build row, so a fire-and-forget trigger is enough here.
	trig := trigger.Func(func(ctx context.Context, gameID string) {
		if _, err := pipeline.Run(ctx, gameID); err != nil {
			logger.Warn("atomforge: triggered build failed", "game", gameID, "error", err)
		}
	})

	cat := catalog.NewService(st, embedder, index, trig)
	rollbacker := build.NewRollbacker(st, embedder, index, trig)

	server, err := api.NewServer(st, cat, pipeline, rollbacker)
	if err != nil {
		logger.Error("atomforge: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	logger.Info("atomforge: server listening", "addr", *addr, "health", "/healthz")
	fmt.Printf("Serving on %s\n", *addr)
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("atomforge: server stopped", "error", err)
		fmt.Println("server stopped:", err)
	}
}

func defaultDBPath() string {
	return filepath.Join("data", "atomforge.db")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
