package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxHTTPLookupBytes = 1 << 20

// HTTPLookup queries a real integration endpoint with GET <base>?q=<input>.
type HTTPLookup struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPLookup creates an HTTPLookup. token is sent as a bearer token when set.
func NewHTTPLookup(baseURL, token string, timeout time.Duration) (*HTTPLookup, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid lookup base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultWebsiteTimeout
	}
	return &HTTPLookup{
		baseURL: u.String(),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Lookup performs the request and returns the response body as text.
func (h *HTTPLookup) Lookup(ctx context.Context, input string) (string, error) {
	u, _ := url.Parse(h.baseURL)
	q := u.Query()
	q.Set("q", input)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPLookupBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return string(body), nil
}
