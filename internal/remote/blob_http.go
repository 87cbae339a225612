package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBlobStore talks to the hosted object storage over its REST surface
type HTTPBlobStore struct {
	baseURL string
	bucket  string
	apiKey  string
	client  *http.Client
}

// NewHTTPBlobStore creates a blob client for a single bucket
func NewHTTPBlobStore(baseURL, bucket, apiKey string) *HTTPBlobStore {
	return &HTTPBlobStore{
		baseURL: baseURL,
		bucket:  bucket,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Upload writes data to path, overwriting any existing object. Overwrite
// makes retried uploads after a partial failure safe.
func (s *HTTPBlobStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	url := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	return nil
}

// PublicURL returns the CDN-facing URL for an uploaded object
func (s *HTTPBlobStore) PublicURL(path string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", s.baseURL, s.bucket, path)
}

// Download fetches an object's bytes
func (s *HTTPBlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
