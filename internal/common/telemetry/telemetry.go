// File path: internal/common/telemetry/telemetry.go
package telemetry

import (
	"context"
	"expvar"
	"strings"
	"sync"
	"time"

	"github.com/mkrell/atomforge/internal/common"
)

type spanKey struct{}

type span struct {
	name  string
	start time.Time
}

var (
	initOnce sync.Once

	buildTotal     *expvar.Map
	buildLatencyMS *expvar.Int

	embedCallsTotal  *expvar.Int
	embedFailedTotal *expvar.Int

	vectorSearchTotal     *expvar.Int
	vectorSearchLatencyMS *expvar.Int

	blobUploadTotal  *expvar.Int
	blobUploadFailed *expvar.Int

	rollbackTotal *expvar.Int
)

func ensureInit() {
	initOnce.Do(func() {
		buildTotal = expvar.NewMap("atomforge_builds_total")
		buildLatencyMS = expvar.NewInt("atomforge_build_latency_ms")

		embedCallsTotal = expvar.NewInt("atomforge_embeddings_total")
		embedFailedTotal = expvar.NewInt("atomforge_embeddings_failed")

		vectorSearchTotal = expvar.NewInt("atomforge_vector_search_total")
		vectorSearchLatencyMS = expvar.NewInt("atomforge_vector_search_latency_ms")

		blobUploadTotal = expvar.NewInt("atomforge_blob_uploads_total")
		blobUploadFailed = expvar.NewInt("atomforge_blob_uploads_failed")

		rollbackTotal = expvar.NewInt("atomforge_rollbacks_total")
	})
}

// StartSpan marks a traced section; the returned func logs its duration along
// with any extra attrs at debug level.
func StartSpan(ctx context.Context, name string) (context.Context, func(attrs ...interface{})) {
	ensureInit()
	sp := &span{name: name, start: time.Now()}
	ctx = context.WithValue(ctx, spanKey{}, sp)
	logger := common.Logger()
	logger.Debug("trace: start", "span", name)
	return ctx, func(attrs ...interface{}) {
		duration := time.Since(sp.start)
		logger.Debug("trace: end", append([]interface{}{"span", name, "dur", duration}, attrs...)...)
	}
}

// RecordBuild counts a finished pipeline run by terminal status.
func RecordBuild(status string, duration time.Duration) {
	ensureInit()
	key := strings.TrimSpace(strings.ToLower(status))
	if key == "" {
		key = "unknown"
	}
	buildTotal.Add(key, 1)
	if duration > 0 {
		buildLatencyMS.Add(duration.Milliseconds())
	}
}

// RecordEmbedding counts one embedding request.
func RecordEmbedding(err error) {
	ensureInit()
	embedCallsTotal.Add(1)
	if err != nil {
		embedFailedTotal.Add(1)
	}
}

// RecordVectorSearch counts one similarity query.
func RecordVectorSearch(duration time.Duration) {
	ensureInit()
	vectorSearchTotal.Add(1)
	if duration > 0 {
		vectorSearchLatencyMS.Add(duration.Milliseconds())
	}
}

// RecordBlobUpload counts one artifact upload.
func RecordBlobUpload(err error) {
	ensureInit()
	blobUploadTotal.Add(1)
	if err != nil {
		blobUploadFailed.Add(1)
	}
}

// RecordRollback counts one completed rollback.
func RecordRollback() {
	ensureInit()
	rollbackTotal.Add(1)
}
