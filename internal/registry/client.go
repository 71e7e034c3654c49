// Package registry talks to a Hugging Face compatible model registry and
// scans the local models directory.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"ghostd/internal/modelref"
)

const (
	// DefaultMetadataTimeout bounds listing requests. Artifact transfers are
	// bounded only by the caller's context.
	DefaultMetadataTimeout = 30 * time.Second
	defaultUserAgent       = "ghostd"
)

var sha256Hex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Client is a minimal registry client. The zero value is not usable; call New.
type Client struct {
	BaseURL         string
	HTTPClient      *http.Client
	UserAgent       string
	Token           string
	MetadataTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another registry host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.BaseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.HTTPClient = h
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option { return func(c *Client) { c.UserAgent = ua } }

// WithToken sends a bearer token with every request (gated repositories).
func WithToken(tok string) Option { return func(c *Client) { c.Token = tok } }

// WithMetadataTimeout overrides DefaultMetadataTimeout; 0 disables it.
func WithMetadataTimeout(d time.Duration) Option {
	return func(c *Client) { c.MetadataTimeout = d }
}

// New returns a client for the default registry, adjusted by opts.
func New(opts ...Option) *Client {
	c := &Client{
		BaseURL:         modelref.DefaultBaseURL,
		HTTPClient:      &http.Client{},
		UserAgent:       defaultUserAgent,
		MetadataTimeout: DefaultMetadataTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type modelInfo struct {
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

// ListFiles returns the filenames published in a repository.
func (c *Client) ListFiles(ctx context.Context, repository string) ([]string, error) {
	url := fmt.Sprintf("%s/api/models/%s", c.BaseURL, repository)
	if c.MetadataTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.MetadataTimeout)
		defer cancel()
	}
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info modelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &TransportError{Op: "list", URL: url, Err: fmt.Errorf("decode model info: %w", err)}
	}
	names := make([]string, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		names = append(names, s.RFilename)
	}
	return names, nil
}

// Response is an open artifact transfer. The caller must close Body.
type Response struct {
	Body io.ReadCloser
	// ContentLength is nil when the server did not announce a size.
	ContentLength *uint64
	// ExpectedSHA256 is set only when the server advertised a sha256 digest.
	ExpectedSHA256 string
	// ETag is the raw content identifier the server advertised, if any.
	ETag string
}

// Fetch starts downloading the artifact ref points at. ref must be resolved.
func (c *Client) Fetch(ctx context.Context, ref modelref.Reference) (*Response, error) {
	url := ref.URL(c.BaseURL)
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	out := &Response{Body: resp.Body}
	if resp.ContentLength >= 0 {
		n := uint64(resp.ContentLength)
		out.ContentLength = &n
	}
	out.ETag = linkedETag(resp.Header)
	if sha256Hex.MatchString(out.ETag) {
		out.ExpectedSHA256 = out.ETag
	}
	return out, nil
}

// linkedETag returns the LFS object id the registry reports for a file,
// normalized to lower case without quotes.
func linkedETag(h http.Header) string {
	v := h.Get("X-Linked-Etag")
	if v == "" {
		v = h.Get("X-Xet-Hash")
	}
	v = strings.TrimPrefix(strings.TrimSpace(v), "W/")
	return strings.ToLower(strings.Trim(v, `"`))
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Op: "request", URL: url, Err: err}
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "get", URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, &TransportError{Op: "get", URL: url, Status: resp.StatusCode}
	}
	return resp, nil
}
