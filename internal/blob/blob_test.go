// File path: internal/blob/blob_test.go
package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUploadSetsHeadersAndReturnsPublicURL(t *testing.T) {
	var gotPath, gotAuth, gotContentType, gotUpsert, gotCache string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotUpsert = r.Header.Get("x-upsert")
		gotCache = r.Header.Get("Cache-Control")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL, ServiceKey: "service-key", Bucket: "game-builds"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	url, err := client.Upload(context.Background(), "game-1/latest.js", []byte("(function(){})()"), UploadOptions{
		ContentType:  "application/javascript",
		CacheControl: "0",
		Upsert:       true,
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if gotPath != "/storage/v1/object/game-builds/game-1/latest.js" {
		t.Fatalf("unexpected upload path: %s", gotPath)
	}
	if gotAuth != "Bearer service-key" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if gotContentType != "application/javascript" || gotUpsert != "true" || gotCache != "0" {
		t.Fatalf("headers not set: type=%s upsert=%s cache=%s", gotContentType, gotUpsert, gotCache)
	}
	if string(gotBody) != "(function(){})()" {
		t.Fatalf("body not forwarded: %q", gotBody)
	}
	want := server.URL + "/storage/v1/object/public/game-builds/game-1/latest.js"
	if url != want {
		t.Fatalf("unexpected public URL: %s", url)
	}
}

func TestUploadReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("bucket not found"))
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL, ServiceKey: "service-key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Upload(context.Background(), "game-1/latest.js", []byte("x"), UploadOptions{})
	if err == nil || !strings.Contains(err.Error(), "bucket not found") {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing URL")
	}
	if _, err := New(Config{BaseURL: "http://localhost"}); err == nil {
		t.Fatal("expected error for missing service key")
	}
}
