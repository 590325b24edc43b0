// Package httpclient probes and downloads documents over plain net/http.
// Bodies are streamed to the caller so large files never sit in memory.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/fetcher/transport"
)

// Config controls the client.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBytes caps a single download. Zero means unlimited.
	MaxBytes int64
	// Client overrides the default compression-free client.
	Client *http.Client
	Logger *zap.Logger
}

// Client implements crawler.Prober and crawler.Downloader.
type Client struct {
	http      *http.Client
	userAgent string
	maxBytes  int64
	logger    *zap.Logger
}

var (
	_ crawler.Prober     = (*Client)(nil)
	_ crawler.Downloader = (*Client)(nil)
)

// New builds a Client.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := cfg.Client
	if hc == nil {
		hc = transport.NewClient(transport.New(transport.Config{DisableCompression: true, Logger: logger}), cfg.Timeout)
	}
	return &Client{
		http:      hc,
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		logger:    logger.Named("httpclient"),
	}
}

// Probe issues a HEAD request and returns whatever validators the server sent.
func (c *Client) Probe(ctx context.Context, rawURL string) (crawler.Validators, error) {
	resp, err := c.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return crawler.Validators{}, err
	}
	defer c.closeBody(rawURL, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return crawler.Validators{}, &crawler.StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return validatorsFrom(resp), nil
}

// Download issues a GET request and hands the open body to the caller.
// HTML answers for non-HTML URLs are rejected as ErrUnexpectedContentType;
// bodies larger than MaxBytes fail with ErrTooLarge while reading.
func (c *Client) Download(ctx context.Context, rawURL string) (crawler.Download, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return crawler.Download{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.closeBody(rawURL, resp.Body)
		return crawler.Download{}, &crawler.StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	v := validatorsFrom(resp)
	if isHTML(v.ContentType) && !expectsHTML(rawURL) {
		c.closeBody(rawURL, resp.Body)
		return crawler.Download{}, fmt.Errorf("GET %s: %w: %s", rawURL, crawler.ErrUnexpectedContentType, v.ContentType)
	}
	body := resp.Body
	if c.maxBytes > 0 {
		if resp.ContentLength > c.maxBytes {
			c.closeBody(rawURL, resp.Body)
			return crawler.Download{}, fmt.Errorf("GET %s: %w: %d bytes", rawURL, crawler.ErrTooLarge, resp.ContentLength)
		}
		body = &limitedBody{rc: resp.Body, remaining: c.maxBytes}
	}
	return crawler.Download{Body: body, Validators: v}, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new %s request: %w", method, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept-Encoding", "identity")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

func (c *Client) closeBody(rawURL string, body io.Closer) {
	if err := body.Close(); err != nil {
		c.logger.Debug("Failed to close response body", zap.String("url", rawURL), zap.Error(err))
	}
}

func validatorsFrom(resp *http.Response) crawler.Validators {
	v := crawler.Validators{
		ContentLength: resp.Header.Get("Content-Length"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ETag:          resp.Header.Get("ETag"),
		ContentType:   resp.Header.Get("Content-Type"),
	}
	if v.ContentLength == "" && resp.ContentLength >= 0 && resp.Request != nil && resp.Request.Method == http.MethodGet {
		v.ContentLength = strconv.FormatInt(resp.ContentLength, 10)
	}
	return v
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func expectsHTML(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return false
}

// limitedBody fails once more than remaining bytes have been read.
type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, crawler.ErrTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.rc.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, crawler.ErrTooLarge
	}
	return n, err
}

func (l *limitedBody) Close() error {
	return l.rc.Close()
}
