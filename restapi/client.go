package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brunoscheufler/notepad/store"
)

// HostGateway talks to the host storage API. It implements store.Gateway, so a note
// store can persist through a running `notepad serve`.
type HostGateway struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ store.Gateway       = (*HostGateway)(nil)
	_ store.HealthChecker = (*HostGateway)(nil)
)

// APIError is returned for responses with a 4xx or 5xx status
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether repeating the request could succeed. Client errors other
// than timeouts and rate limits will fail the same way again.
func (e *APIError) Temporary() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func NewHostGateway(baseURL string) *HostGateway {
	return &HostGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HostGateway) doRequest(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

func (c *HostGateway) FetchAll(ctx context.Context) ([]store.Note, error) {
	var notes []store.Note
	if err := c.doRequest(ctx, http.MethodGet, "/notes", nil, &notes); err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []store.Note{}
	}
	return notes, nil
}

func (c *HostGateway) PersistAll(ctx context.Context, notes []store.Note) error {
	if notes == nil {
		notes = []store.Note{}
	}
	return c.doRequest(ctx, http.MethodPut, "/notes", notes, nil)
}

func (c *HostGateway) GetNote(ctx context.Context, id string) (*store.Note, error) {
	var note store.Note
	err := c.doRequest(ctx, http.MethodGet, "/notes/"+url.PathEscape(id), nil, &note)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, store.ErrNoteNotFound
		}
		return nil, err
	}
	return &note, nil
}

func (c *HostGateway) HealthCheck(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/healthz", nil, nil)
}
