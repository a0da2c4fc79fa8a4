// File path: internal/build/rollback.go
package build

import (
	"context"
	"fmt"

	"github.com/mkrell/atomforge/internal/atom"
	"github.com/mkrell/atomforge/internal/common"
	"github.com/mkrell/atomforge/internal/common/telemetry"
	"github.com/mkrell/atomforge/internal/embed"
	"github.com/mkrell/atomforge/internal/store"
	"github.com/mkrell/atomforge/internal/trigger"
	"github.com/mkrell/atomforge/internal/vector"
)

// checkpointLogLine marks builds written solely to preserve pre-rollback
// state.
const checkpointLogLine = "auto-checkpoint before rollback"

// Rollbacker restores a game to a previous build's snapshot.
type Rollbacker struct {
	store    *store.Store
	embedder embed.Embedder
	index    vector.Index
	trigger  trigger.Trigger
}

func NewRollbacker(st *store.Store, embedder embed.Embedder, index vector.Index, trig trigger.Trigger) *Rollbacker {
	return &Rollbacker{store: st, embedder: embedder, index: index, trigger: trig}
}

// Result reports what a rollback did.
type Result struct {
	TargetBuildID string `json:"target_build_id"`
	CheckpointID  string `json:"checkpoint_id"`
	RestoredAtoms int    `json:"restored_atoms"`
}

// Rollback checkpoints the current state, replaces it with the target
// build's snapshot, reindexes the restored atoms, and requests a rebuild.
func (r *Rollbacker) Rollback(ctx context.Context, gameID, buildID string) (*Result, error) {
	logger := common.Logger()

	target, err := r.store.GetBuild(ctx, gameID, buildID)
	if err != nil {
		return nil, err
	}
	if !target.HasSnapshot() {
		return nil, &store.NotFoundError{Resource: "snapshot for build", Key: buildID}
	}
	snapshot, err := target.DecodeSnapshot()
	if err != nil {
		return nil, err
	}

	current, err := r.store.SnapshotState(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint current state: %w", err)
	}
	checkpointID, err := r.store.InsertCheckpoint(ctx, gameID, current, checkpointLogLine)
	if err != nil {
		return nil, fmt.Errorf("checkpoint current state: %w", err)
	}
	logger.Info("rollback: checkpoint saved", "game", gameID, "checkpoint", checkpointID)

	// Embeddings are regenerated before the restore so a provider outage
	// surfaces while the live state is still intact.
	texts := make([]string, len(snapshot.Atoms))
	for i, a := range snapshot.Atoms {
		texts[i] = atom.EmbeddingText(a.Name, a.Inputs, a.Outputs, a.Description, a.Code)
	}
	var vectors [][]float64
	if r.embedder != nil && len(texts) > 0 {
		vectors, err = r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			logger.Warn("rollback: embedding regeneration failed, index will lag", "error", err)
			vectors = nil
		}
	}

	if err := r.store.RestoreSnapshot(ctx, gameID, snapshot); err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}

	// Index entries for atoms that existed before but not in the snapshot.
	restored := make(map[string]bool, len(snapshot.Atoms))
	for _, a := range snapshot.Atoms {
		restored[a.Name] = true
	}
	if r.index != nil {
		for _, a := range current.Atoms {
			if !restored[a.Name] {
				if err := r.index.DeleteAtom(ctx, gameID, a.Name); err != nil {
					logger.Warn("rollback: index delete failed", "atom", a.Name, "error", err)
				}
			}
		}
		if vectors != nil {
			for i, a := range snapshot.Atoms {
				if err := r.index.UpsertAtom(ctx, gameID, a.Name, texts[i], vectors[i]); err != nil {
					logger.Warn("rollback: index update failed", "atom", a.Name, "error", err)
				}
			}
		}
	}

	if err := r.store.SetActiveBuild(ctx, gameID, buildID); err != nil {
		logger.Warn("rollback: could not set active build", "build", buildID, "error", err)
	}
	if r.trigger != nil {
		r.trigger.Fire(ctx, gameID)
	}
	telemetry.RecordRollback()
	logger.Info("rollback: completed", "game", gameID, "target", buildID, "atoms", len(snapshot.Atoms))
	return &Result{
		TargetBuildID: buildID,
		CheckpointID:  checkpointID,
		RestoredAtoms: len(snapshot.Atoms),
	}, nil
}
