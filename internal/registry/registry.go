// Package registry resolves model artifacts (quantized weights, tokenizer
// manifests) from a configurable model repository, caching them to disk so
// repeated loads don't re-download. The reference client speaks a
// HuggingFace-Hub-compatible resolve URL; any equivalent repository works
// since engines depend only on the Client interface.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Client fetches repo_id/revision/file from a model registry, caching it
// locally and returning the cached file's path.
type Client interface {
	Fetch(ctx context.Context, repoID, revision, file string) (localPath string, err error)
}

// HTTPClient resolves files against a HuggingFace-Hub-style REST API:
// GET {BaseURL}/{repoID}/resolve/{revision}/{file}
type HTTPClient struct {
	BaseURL  string
	CacheDir string
	HTTP     *http.Client
}

// NewHTTPClient creates an HTTPClient with sane defaults.
func NewHTTPClient(baseURL, cacheDir string) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, CacheDir: cacheDir, HTTP: http.DefaultClient}
}

// Fetch resolves from the local cache if present, else downloads and caches.
func (c *HTTPClient) Fetch(ctx context.Context, repoID, revision, file string) (string, error) {
	cachePath := filepath.Join(c.CacheDir, repoID, revision, file)
	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}

	url := fmt.Sprintf("%s/%s/resolve/%s/%s", c.BaseURL, repoID, revision, file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("registry: build request: %w", err)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry: fetch %s: unexpected status %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0700); err != nil {
		return "", fmt.Errorf("registry: create cache dir: %w", err)
	}

	tmp := cachePath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("registry: create cache file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("registry: write cache file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("registry: close cache file: %w", err)
	}
	if err := os.Rename(tmp, cachePath); err != nil {
		return "", fmt.Errorf("registry: finalize cache file: %w", err)
	}
	return cachePath, nil
}

// StaticClient serves a fixed in-memory file, for tests and for bundling a
// default model without a network round-trip.
type StaticClient struct {
	CacheDir string
	Content  []byte
}

// Fetch writes Content to a cache path (once) and returns it.
func (c *StaticClient) Fetch(_ context.Context, repoID, revision, file string) (string, error) {
	cachePath := filepath.Join(c.CacheDir, repoID, revision, file)
	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0700); err != nil {
		return "", fmt.Errorf("registry: create cache dir: %w", err)
	}
	if err := os.WriteFile(cachePath, c.Content, 0600); err != nil {
		return "", fmt.Errorf("registry: write cache file: %w", err)
	}
	return cachePath, nil
}
