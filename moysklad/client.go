/*
Package moysklad is a thin authenticated client for the MoySklad remap API.

PURPOSE:
  Wraps the handful of read operations the synchronizers need: paginated
  entity listing (retaildemand, supply, stock report) and resolution of
  href references returned inside documents (positions, assortment, owner).

AUTHENTICATION:
  HTTP basic auth, configured once at construction. All requests share a
  single http.Client so connections are reused across a sync pass.

PAGINATION CONTRACT:
  FetchPage returns the raw rows of one page plus HasMore, which is true
  when the page came back full. Callers advance offset by the page limit
  and stop on the first short page. A total count that is an exact multiple
  of the limit therefore costs one extra request that returns zero rows.

ERRORS:
  Any network failure or non-2xx status becomes a *TransportError. The
  client never retries; the synchronizer that owns the pass decides whether
  to abort.

SEE ALSO:
  - types.go: row shapes used by the ingest package
  - ingest/: the three synchronizers driving this client
*/
package moysklad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the production remap API root.
const DefaultBaseURL = "https://api.moysklad.ru/api/remap/1.2/"

// Client is an authenticated MoySklad API session.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// New creates a client. An empty baseURL selects DefaultBaseURL.
func New(baseURL, username, password string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Page is one page of a listing response.
type Page struct {
	Rows    []json.RawMessage
	HasMore bool
}

// listEnvelope matches the common {rows: [...]} listing shape.
type listEnvelope struct {
	Rows []json.RawMessage `json:"rows"`
}

// FetchPage lists one page of a resource, filtered. The filter string is
// passed through as the MoySklad `filter` query parameter.
func (c *Client) FetchPage(ctx context.Context, resource, filter string, limit, offset int) (*Page, error) {
	q := url.Values{}
	if filter != "" {
		q.Set("filter", filter)
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var env listEnvelope
	if err := c.getJSON(ctx, c.baseURL+resource+"?"+q.Encode(), &env); err != nil {
		return nil, err
	}
	return &Page{Rows: env.Rows, HasMore: len(env.Rows) == limit}, nil
}

// Resolve fetches a referenced sub-resource into out. Absolute hrefs are
// fetched as-is; anything else is joined to the configured base URL.
func (c *Client) Resolve(ctx context.Context, href string, out any) error {
	if href == "" {
		return &TransportError{URL: href, Err: errors.New("empty href")}
	}
	u := href
	if !strings.HasPrefix(href, "http") {
		u = c.baseURL + strings.TrimPrefix(href, "/")
	}
	return c.getJSON(ctx, u, out)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &TransportError{URL: rawURL, Err: err}
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a little of the body for the log line; MoySklad errors are JSON.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransportError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// TransportError is any remote call failure: network error, non-2xx status,
// or an undecodable body. StatusCode is zero when no response arrived.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("moysklad: GET %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("moysklad: GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err represents a remote call failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
