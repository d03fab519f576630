// Package sidecar is the HTTP client shared by the model sidecars (diarization, transcription,
// voice embedding, re-ranking). Sidecars accept multipart audio or JSON bodies, answer JSON and
// expose GET /health.
package sidecar

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

	"github.com/hyperjump/koe/internal/apperr"
)

const defaultTimeout = 300 * time.Second

// Config holds the address of one sidecar.
type Config struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Client talks to one sidecar.
type Client struct {
	name   string
	cfg    Config
	client *http.Client
}

// New creates a client. name is used in error messages; defaultURL applies when cfg.BaseURL is empty.
func New(name, defaultURL string, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{name: name, cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Name returns the sidecar name.
func (c *Client) Name() string { return c.name }

// BaseURL returns the configured address.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// IsAvailable checks if the sidecar is reachable.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// PostAudio uploads the file at audioPath as form field "audio" together with fields,
// and decodes the JSON response into out.
func (c *Client) PostAudio(ctx context.Context, endpoint, audioPath string, fields map[string]string, out any) error {
	audioData, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("read audio file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return fmt.Errorf("write audio data: %w", err)
	}
	for k, v := range fields {
		if v != "" {
			_ = writer.WriteField(k, v)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}
	return c.do(ctx, endpoint, writer.FormDataContentType(), &buf, out)
}

// PostJSON sends in as a JSON body and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, endpoint, "application/json", bytes.NewReader(body), out)
}

func (c *Client) do(ctx context.Context, endpoint, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.ErrCapability, err, "%s request", c.name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.New(apperr.ErrCapability, "%s error (status %d): %s", c.name, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.ErrCapability, err, "decode %s response", c.name)
	}
	return nil
}
