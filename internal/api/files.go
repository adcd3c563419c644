package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"chariot/internal/model"
)

// Download fetches a stored file's contents. Global files (shared
// enrichment data) need the global flag.
func (c *Client) Download(ctx context.Context, name string, global bool) ([]byte, error) {
	params := map[string]string{"name": name}
	if global {
		params["global"] = "true"
	}
	return c.do(ctx, http.MethodGet, "/file", params, nil)
}

// DownloadTo writes a stored file under dir, deriving the local filename
// from the remote name with unsafe characters replaced. Returns the path
// written.
func (c *Client) DownloadTo(ctx context.Context, name, dir string) (string, error) {
	data, err := c.Download(ctx, name, false)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, model.SanitizeFilename(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// Upload stores a local file under the given remote name. The /file
// endpoint hands back a presigned URL; the actual bytes go there, not
// through the backend.
func (c *Client) Upload(ctx context.Context, localPath, remoteName string) error {
	if remoteName == "" {
		remoteName = localPath
	}
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	var presigned struct {
		URL string `json:"url"`
	}
	data, err := c.do(ctx, http.MethodPut, "/file", map[string]string{"name": remoteName}, nil)
	if err != nil {
		return err
	}
	if err := decode(data, &presigned); err != nil {
		return err
	}
	if presigned.URL == "" {
		return fmt.Errorf("no presigned URL in upload response")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presigned.URL, bytes.NewReader(content))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload to presigned URL failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
