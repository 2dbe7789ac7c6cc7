// Package mediaserver is the HTTP client for the remote catalog API.
package mediaserver

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/mmcdole/lull/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "lull/1.0"
	maxBodySize    = 64 << 20
	maxPages       = 1000

	PathCategories   = "/v1/categories"
	PathTracks       = "/v1/tracks"
	PathHomeSections = "/v1/home"
)

// Client implements domain.CatalogClient.
type Client struct {
	baseURL    string
	token      string
	clientID   string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.CatalogClient = (*Client)(nil)

// NewClient creates a catalog client. token may be empty for public catalogs.
func NewClient(baseURL, token, clientID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		clientID: clientID,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

// FetchCategories returns every category on the server.
func (c *Client) FetchCategories(ctx context.Context, etag string) (domain.Snapshot[domain.Category], error) {
	var snap domain.Snapshot[domain.Category]
	items, complete, newTag, err := fetchAll[categoryDTO](ctx, c, PathCategories, etag)
	if err != nil {
		return snap, err
	}
	snap.Items = mapCategories(items, c.baseURL)
	// Dropped rows must not turn into local deletes.
	snap.Complete = complete && len(snap.Items) == len(items)
	snap.ETag = newTag
	return snap, nil
}

// FetchTracks returns every track on the server.
func (c *Client) FetchTracks(ctx context.Context, etag string) (domain.Snapshot[domain.Track], error) {
	var snap domain.Snapshot[domain.Track]
	items, complete, newTag, err := fetchAll[trackDTO](ctx, c, PathTracks, etag)
	if err != nil {
		return snap, err
	}
	snap.Items = mapTracks(items, c.baseURL)
	snap.Complete = complete && len(snap.Items) == len(items)
	snap.ETag = newTag
	return snap, nil
}

// FetchHomeSections returns the home screen layout.
func (c *Client) FetchHomeSections(ctx context.Context, etag string) ([]domain.HomeSection, string, error) {
	items, _, newTag, err := fetchAll[homeSectionDTO](ctx, c, PathHomeSections, etag)
	if err != nil {
		return nil, "", err
	}
	return mapHomeSections(items), newTag, nil
}

// fetchAll reads a listing, following "next" links when the server pages it.
// complete is false when the server announced more items than it returned.
func fetchAll[T any](ctx context.Context, c *Client, path, etag string) (items []T, complete bool, newTag string, err error) {
	next := path
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			c.logger.Warn("catalog listing exceeded page limit", "path", path, "pages", page)
			return items, false, newTag, nil
		}

		// Only the first page is conditional; the ETag covers the listing.
		tag := ""
		if page == 0 {
			tag = etag
		}
		body, respTag, err := c.doRequest(ctx, next, tag)
		if err != nil {
			return nil, false, "", err
		}
		if page == 0 {
			newTag = respTag
		}

		pageItems, total, link, err := parseListing[T](body)
		if err != nil {
			c.logger.Error("catalog parse error", "path", next, "error", err, "bodyLen", len(body))
			return nil, false, "", fmt.Errorf("failed to parse %s: %w", path, err)
		}
		items = append(items, pageItems...)
		if total > 0 && len(items) >= total {
			link = ""
		}
		if link == "" {
			complete = total <= 0 || len(items) >= total
			if !complete {
				c.logger.Warn("catalog listing is incomplete", "path", path, "got", len(items), "total", total)
			}
			return items, complete, newTag, nil
		}
		next = link
	}
	return items, true, newTag, nil
}

// parseListing accepts either a bare JSON array or a paged envelope.
func parseListing[T any](body []byte) (items []T, total int, next string, err error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(body, &items)
		return items, 0, "", err
	}
	var env struct {
		Items []T    `json:"items"`
		Total int    `json:"total"`
		Next  string `json:"next"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, "", err
	}
	return env.Items, env.Total, env.Next, nil
}

// doRequest performs an authenticated GET and returns the decoded body and ETag.
func (c *Client) doRequest(ctx context.Context, path, etag string) ([]byte, string, error) {
	reqURL, err := c.resolve(path)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br, gzip")
	req.Header.Set("User-Agent", userAgent)
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	c.logger.Debug("catalog request", "url", reqURL, "conditional", etag != "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		c.logger.Warn("catalog request failed", "url", reqURL, "error", err)
		return nil, "", fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, etag, domain.ErrNotModified
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, "", domain.ErrAuthFailed
	case resp.StatusCode == http.StatusBadGateway ||
		resp.StatusCode == http.StatusServiceUnavailable ||
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, "", fmt.Errorf("%w: status %d", domain.ErrServerOffline, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		c.logger.Error("catalog request error", "url", reqURL, "status", resp.StatusCode)
		return nil, "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.Header.Get("ETag"), nil
}

// readBody undoes Content-Encoding. Setting Accept-Encoding ourselves turns off
// the transport's transparent gzip, so both encodings are handled here.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}

	body, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodySize {
		return nil, errors.New("response body too large")
	}
	return body, nil
}

// resolve turns a path or absolute "next" link into a request URL on the server.
func (c *Client) resolve(ref string) (string, error) {
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	u, err := base.Parse(strings.TrimPrefix(ref, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", ref, err)
	}
	if u.Host != base.Host {
		return "", fmt.Errorf("refusing to follow link to another host: %s", u.Host)
	}
	return u.String(), nil
}
