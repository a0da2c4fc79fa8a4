// File path: internal/trigger/trigger.go
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mkrell/atomforge/internal/common"
)

// Trigger requests a rebuild of a game. Implementations are fire-and-forget:
// Fire never blocks the caller on the build itself and never propagates build
// failures.
type Trigger interface {
	Fire(ctx context.Context, gameID string)
}

// Func adapts an in-process build entry point into a Trigger. The build runs
// on its own goroutine with a fresh context so it survives the request that
// triggered it.
type Func func(ctx context.Context, gameID string)

func (f Func) Fire(ctx context.Context, gameID string) {
	go f(context.WithoutCancel(ctx), gameID)
}

// Webhook posts the game id to an external build endpoint.
type Webhook struct {
	httpClient *http.Client
	url        string
	authToken  string
}

// NewWebhookFromEnv reads ATOMFORGE_TRIGGER_URL and ATOMFORGE_TRIGGER_TOKEN.
// A missing URL yields a nil webhook; callers treat that as "not configured"
// and skip triggering with a warning.
func NewWebhookFromEnv() *Webhook {
	url := strings.TrimSpace(os.Getenv("ATOMFORGE_TRIGGER_URL"))
	if url == "" {
		return nil
	}
	return &Webhook{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
		authToken:  strings.TrimSpace(os.Getenv("ATOMFORGE_TRIGGER_TOKEN")),
	}
}

// Fire posts asynchronously. A nil receiver logs the skip and returns.
func (w *Webhook) Fire(ctx context.Context, gameID string) {
	logger := common.Logger()
	if w == nil {
		logger.Warn("trigger: build endpoint not configured, skipping", "game", gameID)
		return
	}
	go func() {
		body, _ := json.Marshal(map[string]string{"game_id": gameID})
		req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			logger.Warn("trigger: request build failed", "game", gameID, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if w.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+w.authToken)
		}
		resp, err := w.httpClient.Do(req)
		if err != nil {
			logger.Warn("trigger: request build failed", "game", gameID, "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			logger.Warn("trigger: build endpoint rejected request", "game", gameID, "status", resp.StatusCode)
			return
		}
		logger.Debug("trigger: build requested", "game", gameID)
	}()
}
