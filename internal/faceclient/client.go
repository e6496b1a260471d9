// Package faceclient calls the external face-verification sidecar.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// VerifyResult is the sidecar's answer for a pair of face images.
// Distance is nil when the model only returns a boolean verdict.
type VerifyResult struct {
	Verified bool     `json:"verified"`
	Distance *float64 `json:"distance"`
	Model    string   `json:"model,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

// Client calls the face verification service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits every call with a positive
// mock result for development without the sidecar running.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face models can be slow on first load
		},
	}
}

// Verify posts both JPEGs to the sidecar and returns its verdict.
func (c *Client) Verify(ctx context.Context, probePath, refPath string) (*VerifyResult, error) {
	if c.Skip {
		d := 0.28
		return &VerifyResult{Verified: true, Distance: &d, Model: "mock"}, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := attachFile(w, "probe", probePath); err != nil {
		return nil, err
	}
	if err := attachFile(w, "reference", refPath); err != nil {
		return nil, err
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(body))
	}

	var out VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}

func attachFile(w *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s image: %w", field, err)
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("attach %s image: %w", field, err)
	}
	return nil
}
