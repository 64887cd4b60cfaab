package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"rentflow/evidence"
)

// HTTPUploader performs the direct-to-storage PUT against a presigned URL.
// It distinguishes transport failures from a missing integrity token so the
// caller can tell the user whether the object likely exists in storage.
type HTTPUploader struct {
	client *http.Client
}

func NewHTTPUploader(client *http.Client) *HTTPUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUploader{client: client}
}

// Put uploads the bytes with the grant's headers plus the file's own
// content type and returns the ETag from the storage response.
func (u *HTTPUploader) Put(ctx context.Context, grant evidence.Grant, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, grant.URL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("storage: build upload request: %w", err)
	}
	for name, value := range grant.Headers {
		req.Header.Set(name, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", evidence.ErrUploadFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: storage responded %d", evidence.ErrUploadFailed, resp.StatusCode)
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return "", evidence.ErrVerificationFailed
	}
	return etag, nil
}
