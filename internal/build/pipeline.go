// File path: internal/build/pipeline.go
package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mkrell/atomforge/internal/blob"
	"github.com/mkrell/atomforge/internal/common"
	"github.com/mkrell/atomforge/internal/common/telemetry"
	"github.com/mkrell/atomforge/internal/graph"
	"github.com/mkrell/atomforge/internal/store"
)

// Pipeline assembles bundles. Every run leaves a terminal build row behind:
// success with artifact URLs or error with the failure message and the log
// collected up to the fault.
type Pipeline struct {
	store    *store.Store
	uploader blob.Uploader
}

func NewPipeline(st *store.Store, uploader blob.Uploader) *Pipeline {
	return &Pipeline{store: st, uploader: uploader}
}

// Manifest is published next to the bundle and tells the player page which
// external libraries to load before it. bundle_url is the canonical relative
// filename, not the public URL.
type Manifest struct {
	Externals []ManifestExternal `json:"externals"`
	BundleURL string             `json:"bundle_url"`
	BuiltAt   string             `json:"built_at"`
}

// ManifestExternal is the load descriptor for one installed library.
type ManifestExternal struct {
	Name       string `json:"name"`
	CDNURL     string `json:"cdn_url"`
	GlobalName string `json:"global_name"`
	LoadType   string `json:"load_type"`
	// ModuleImports carries the library's import map verbatim when present.
	ModuleImports json.RawMessage `json:"module_imports,omitempty"`
}

// Run executes one build for the game and returns the terminal build record.
// The returned error covers only faults that prevented recording an outcome.
func (p *Pipeline) Run(ctx context.Context, gameID string) (*store.Build, error) {
	logger := common.Logger()
	started := time.Now()

	game, err := p.store.ValidateGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}

	buildID, err := p.store.InsertBuild(ctx, gameID)
	if err != nil {
		return nil, err
	}
	logger.Info("build: started", "build", buildID, "game", game.Name)

	// Once the row exists it must reach a terminal state even if the caller
	// walks away, so everything that records an outcome runs on a context
	// immune to the request's cancellation.
	finCtx := context.WithoutCancel(ctx)

	var buildLog []string
	logf := func(format string, args ...interface{}) {
		buildLog = append(buildLog, fmt.Sprintf(format, args...))
	}

	fail := func(message string) (*store.Build, error) {
		logger.Warn("build: failed", "build", buildID, "error", message)
		if ferr := p.store.FinalizeError(finCtx, buildID, message, buildLog); ferr != nil {
			return nil, ferr
		}
		telemetry.RecordBuild(store.BuildStatusError, time.Since(started))
		return p.store.GetBuild(finCtx, gameID, buildID)
	}

	// The snapshot is persisted before anything that can fail, so even a
	// broken build remains a rollback target.
	snapshot, err := p.store.SnapshotState(ctx, gameID)
	if err != nil {
		return fail(fmt.Sprintf("snapshot failed: %v", err))
	}
	if err := p.store.AttachSnapshot(ctx, buildID, snapshot); err != nil {
		return fail(fmt.Sprintf("snapshot failed: %v", err))
	}
	logf("captured snapshot of %d atoms", len(snapshot.Atoms))

	// A fresh game with nothing in it is not a failure. Finalize success
	// with no artifact so the first real save starts from a clean record.
	if len(snapshot.Atoms) == 0 {
		if err := p.store.FinalizeSuccess(finCtx, buildID, "", 0, nil); err != nil {
			return nil, err
		}
		telemetry.RecordBuild(store.BuildStatusSuccess, time.Since(started))
		logger.Info("build: succeeded", "build", buildID, "atoms", 0)
		return p.store.GetBuild(finCtx, gameID, buildID)
	}

	nodes := make([]string, 0, len(snapshot.Atoms))
	for _, a := range snapshot.Atoms {
		nodes = append(nodes, a.Name)
	}
	edges := make([]graph.Edge, 0, len(snapshot.Dependencies))
	for _, dep := range snapshot.Dependencies {
		edges = append(edges, graph.Edge{From: dep.AtomName, To: dep.DependsOn})
	}
	order, err := graph.Sort(nodes, edges)
	if err != nil {
		var cycleErr *graph.CycleError
		if errors.As(err, &cycleErr) {
			return fail(err.Error())
		}
		return fail(fmt.Sprintf("dependency sort failed: %v", err))
	}
	logf("sorted %d atoms", len(order))

	externals, err := p.store.InstalledExternals(ctx, gameID)
	if err != nil {
		return fail(fmt.Sprintf("load externals failed: %v", err))
	}

	generatedAt := time.Now()
	bundle := RenderBundle(BundleInput{
		GameName:    game.Name,
		Atoms:       snapshot.Atoms,
		Order:       order,
		Externals:   externals,
		GeneratedAt: generatedAt,
	})
	logf("rendered bundle (%d bytes)", len(bundle))

	if p.uploader == nil {
		return fail("blob storage not configured")
	}

	// Versioned artifact is immutable and cacheable; latest is the mutable
	// pointer the player loads, so it must never be cached.
	if _, err := p.uploader.Upload(ctx, fmt.Sprintf("%s/build_%s.js", game.Name, buildID), []byte(bundle), blob.UploadOptions{
		ContentType:  "application/javascript",
		CacheControl: "3600",
	}); err != nil {
		return fail(fmt.Sprintf("upload failed: %v", err))
	}
	bundleURL, err := p.uploader.Upload(ctx, fmt.Sprintf("%s/latest.js", game.Name), []byte(bundle), blob.UploadOptions{
		ContentType:  "application/javascript",
		CacheControl: "0",
		Upsert:       true,
	})
	if err != nil {
		return fail(fmt.Sprintf("upload failed: %v", err))
	}
	descriptors := make([]ManifestExternal, 0, len(externals))
	for _, ext := range externals {
		descriptor := ManifestExternal{
			Name:       ext.Name,
			CDNURL:     ext.CDNURL,
			GlobalName: ext.GlobalName,
			LoadType:   ext.LoadType,
		}
		if ext.ModuleImports != "" {
			descriptor.ModuleImports = json.RawMessage(ext.ModuleImports)
		}
		descriptors = append(descriptors, descriptor)
	}
	manifest, err := json.MarshalIndent(Manifest{
		Externals: descriptors,
		BundleURL: "latest.js",
		BuiltAt:   generatedAt.UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fail(fmt.Sprintf("render manifest failed: %v", err))
	}
	if _, err := p.uploader.Upload(ctx, fmt.Sprintf("%s/manifest.json", game.Name), manifest, blob.UploadOptions{
		ContentType:  "application/json",
		CacheControl: "0",
		Upsert:       true,
	}); err != nil {
		return fail(fmt.Sprintf("upload failed: %v", err))
	}
	logf("uploaded bundle and manifest")

	// A successful build records the sorted name sequence as its log; the
	// descriptive notes only matter when something goes wrong.
	if err := p.store.FinalizeSuccess(finCtx, buildID, bundleURL, len(snapshot.Atoms), order); err != nil {
		return nil, err
	}
	if err := p.store.SetActiveBuild(finCtx, gameID, buildID); err != nil {
		logger.Warn("build: could not set active build", "build", buildID, "error", err)
	}
	telemetry.RecordBuild(store.BuildStatusSuccess, time.Since(started))
	logger.Info("build: succeeded", "build", buildID, "atoms", len(snapshot.Atoms), "dur", time.Since(started))
	return p.store.GetBuild(finCtx, gameID, buildID)
}
