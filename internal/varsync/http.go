package varsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPSource pulls variables from the HTTP variable endpoint served by
// internal/http.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a source for the server at baseURL.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{baseURL: baseURL, client: client}
}

// Variables implements Source.
func (h *HTTPSource) Variables(ctx context.Context, names []string) (Snapshot, error) {
	query := url.Values{}
	for _, n := range names {
		query.Add("name", n)
	}
	endpoint := h.baseURL + "/api/v1/variables"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to get variables: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return Snapshot{}, ErrNotReady
	case http.StatusNotFound:
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnknownVariable, names)
	default:
		return Snapshot{}, fmt.Errorf("variable server returned %d", resp.StatusCode)
	}

	var snapshot Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode variables: %w", err)
	}
	return snapshot, nil
}
