package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/pipeline"
)

// apiClient talks to a running koe server. Going through the server avoids opening the
// stores twice (the keyword index holds a file lock).
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// apiError is a non-success response.
type apiError struct {
	Status  int
	Message string
	Stage   string
}

func (e *apiError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Stage, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// do sends body as JSON and decodes a want-status response into out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}, want int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		var payload struct {
			Error string `json:"error"`
			Stage string `json:"stage"`
		}
		if json.Unmarshal(b, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Stage = payload.Stage
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	var out models.QueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Answer(ctx context.Context, question string) (*models.AnswerResponse, error) {
	var out models.AnswerResponse
	body := map[string]string{"question": question}
	if err := c.do(ctx, http.MethodPost, "/api/v1/answer", body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the server status and its watched directories.
func (c *apiClient) Status(ctx context.Context) (*pipeline.Status, []string, error) {
	var out struct {
		Status           *pipeline.Status `json:"status"`
		WatchDirectories []string         `json:"watch_directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out, http.StatusOK); err != nil {
		return nil, nil, err
	}
	if out.Status == nil {
		return nil, nil, fmt.Errorf("decode response: missing status")
	}
	return out.Status, out.WatchDirectories, nil
}

func (c *apiClient) WatchAdd(ctx context.Context, path string) error {
	body := map[string]interface{}{"path": path, "sync": true}
	return c.do(ctx, http.MethodPost, "/api/v1/watch/directories", body, nil, http.StatusCreated)
}

func (c *apiClient) WatchRemove(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), nil, nil, http.StatusOK)
}

func (c *apiClient) WatchList(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/watch/directories", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Directories, nil
}
