// Package prober checks whether an article exists before a render job is
// ever constructed, so a missing title fails fast with a 404 instead of
// occupying a queue slot (spec.md §1, §6).
package prober

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds a single existence check.
const DefaultTimeout = 5 * time.Second

// Client issues MediaWiki Action API existence checks. It stays on the
// standard library's http.Client deliberately: a single idempotent GET
// with no retry, auth, or body encoding concerns does not need a
// third-party HTTP client (see DESIGN.md).
type Client struct {
	httpClient *http.Client
}

// New constructs a Client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

type queryResponse struct {
	Query struct {
		Pages map[string]struct {
			Missing interface{} `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
}

// Exists reports whether title exists on domain's wiki, via the
// MediaWiki Action API's "does this title exist" idiom.
func (c *Client) Exists(ctx context.Context, domain, title string) (bool, error) {
	endpoint := fmt.Sprintf(
		"https://%s/w/api.php?action=query&titles=%s&format=json",
		domain, url.QueryEscape(title),
	)
	return c.existsAt(ctx, endpoint)
}

// existsAt issues the existence check against an arbitrary endpoint,
// factored out of Exists so tests can point it at an httptest server
// instead of a real wiki domain.
func (c *Client) existsAt(ctx context.Context, endpoint string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("probe request to %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("decode probe response from %s: %w", endpoint, err)
	}

	for _, page := range parsed.Query.Pages {
		if page.Missing != nil {
			return false, nil
		}
	}
	// A titles= query with no matching page at all still yields a
	// non-empty "pages" map keyed by a negative pseudo-ID with "missing"
	// set; an empty map is therefore unexpected, not evidence of
	// existence, and is treated as "not found".
	return len(parsed.Query.Pages) > 0, nil
}
