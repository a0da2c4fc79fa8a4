// File path: internal/blob/blob.go
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mkrell/atomforge/internal/common/telemetry"
)

// Uploader publishes build artifacts and hands back public URLs.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, opts UploadOptions) (string, error)
}

// UploadOptions control the stored object's headers.
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Upsert       bool
}

// Client uploads to an S3-compatible object store over its HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	serviceKey string
	bucket     string
}

func NewFromEnv() (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("blob storage URL not configured")
	}
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, errors.New("blob storage service key not configured")
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		bucket:     cfg.Bucket,
	}, nil
}

// Upload writes the object and returns its public URL.
func (c *Client) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) (string, error) {
	if c == nil {
		return "", errors.New("blob client not configured")
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, strings.TrimLeft(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if opts.CacheControl != "" {
		req.Header.Set("Cache-Control", opts.CacheControl)
		req.Header.Set("x-cache-control", opts.CacheControl)
	}
	if opts.Upsert {
		req.Header.Set("x-upsert", "true")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.RecordBlobUpload(err)
		return "", fmt.Errorf("blob upload %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("blob upload %s failed (status %d): %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		telemetry.RecordBlobUpload(err)
		return "", err
	}
	telemetry.RecordBlobUpload(nil)
	return c.PublicURL(path), nil
}

// PublicURL is the unauthenticated read URL for an object.
func (c *Client) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, strings.TrimLeft(path, "/"))
}

var _ Uploader = (*Client)(nil)
