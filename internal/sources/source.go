package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned when the upstream has no data for the query.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx upstream reply.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Status)
}

// httpSource is the shared GET-and-decode plumbing of the upstream clients.
type httpSource struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func newHTTPSource(baseURL, defaultURL, userAgent string, timeout time.Duration) httpSource {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultURL
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = "toolgate/0.1"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return httpSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

func (s httpSource) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{Status: resp.StatusCode, URL: endpoint}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
