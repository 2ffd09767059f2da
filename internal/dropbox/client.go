// Package dropbox is a minimal client for the Dropbox HTTP API v2 covering the
// calls the portfolio needs: folder listing, file download, thumbnails and
// temporary links.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"portfolioproxy/internal/metrics"
	"portfolioproxy/pkg/types"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com"
	DefaultContentURL = "https://content.dropboxapi.com"
	TokenURL          = "https://api.dropboxapi.com/oauth2/token"

	DefaultTimeout = 15 * time.Second

	// download and thumbnail bodies larger than this are rejected
	maxBodySize = 32 << 20
)

// ErrAuth marks failures to obtain an access token
var ErrAuth = errors.New("dropbox: authentication failed")

// APIError is returned for any non-2xx response
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dropbox %s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("dropbox %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// IsNotFound reports whether err is a 409 path/not_found style API error
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusConflict && strings.Contains(apiErr.Body, "not_found")
}

// Config holds client settings
type Config struct {
	APIURL     string
	ContentURL string
	Timeout    time.Duration
}

// Client talks to the Dropbox API with bearer tokens taken from a TokenSource
type Client struct {
	apiURL     string
	contentURL string
	tokens     oauth2.TokenSource
	client     *http.Client
}

// New creates a client. Empty config fields fall back to the public Dropbox endpoints.
func New(cfg Config, tokens oauth2.TokenSource) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.ContentURL == "" {
		cfg.ContentURL = DefaultContentURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		contentURL: strings.TrimRight(cfg.ContentURL, "/"),
		tokens:     tokens,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// NewTokenSource returns a cached, auto-refreshing token source for a long-lived refresh token
func NewTokenSource(ctx context.Context, clientID, clientSecret, refreshToken, tokenURL string) oauth2.TokenSource {
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

// ListFolderResult is one page of a folder listing
type ListFolderResult struct {
	Entries []types.FolderEntry `json:"entries"`
	Cursor  string              `json:"cursor"`
	HasMore bool                `json:"has_more"`
}

// ListFolder returns the first page of a non-recursive listing of path.
// The account root is addressed by the empty string.
func (c *Client) ListFolder(ctx context.Context, path string) (*ListFolderResult, error) {
	arg := map[string]any{
		"path":                           path,
		"recursive":                      false,
		"include_non_downloadable_files": false,
	}
	var out ListFolderResult
	if err := c.rpc(ctx, "files/list_folder", arg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFolderContinue fetches the page following cursor
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) (*ListFolderResult, error) {
	var out ListFolderResult
	if err := c.rpc(ctx, "files/list_folder/continue", map[string]string{"cursor": cursor}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download returns the full content of the file at path
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	return c.content(ctx, "files/download", map[string]string{"path": path})
}

// Thumbnail returns a JPEG thumbnail of the image at path. size is a Dropbox
// size tag such as "w640h480".
func (c *Client) Thumbnail(ctx context.Context, path, size string) ([]byte, error) {
	arg := map[string]any{
		"resource": map[string]string{".tag": "path", "path": path},
		"format":   "jpeg",
		"size":     size,
		"mode":     "strict",
	}
	return c.content(ctx, "files/get_thumbnail_v2", arg)
}

// TemporaryLink returns a short-lived direct download URL for path
func (c *Client) TemporaryLink(ctx context.Context, path string) (string, error) {
	var out struct {
		Link string `json:"link"`
	}
	if err := c.rpc(ctx, "files/get_temporary_link", map[string]string{"path": path}, &out); err != nil {
		return "", err
	}
	return out.Link, nil
}

func (c *Client) authorize(req *http.Request) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// rpc performs an RPC-style call: JSON argument in the body, JSON result in the body
func (c *Client) rpc(ctx context.Context, endpoint string, arg, out any) error {
	body, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("failed to encode %s argument: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/2/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return err
	}

	data, err := c.do(req, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// content performs a content-style call: argument in the Dropbox-API-Arg header, raw bytes in the response
func (c *Client) content(ctx context.Context, endpoint string, arg any) ([]byte, error) {
	header, err := headerJSON(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s argument: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+"/2/"+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Dropbox-API-Arg", header)
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	return c.do(req, endpoint)
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest(endpoint, 0, time.Since(start))
		return nil, fmt.Errorf("dropbox %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	metrics.RecordRemoteRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("dropbox %s: failed to read response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return data, nil
}

// headerJSON encodes v as JSON with every non-ASCII rune escaped, as HTTP headers require
func headerJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		raw = raw[size:]
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
			continue
		}
		fmt.Fprintf(&b, `\u%04x`, r)
	}
	return b.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
