// Package transport builds the HTTP transports shared by the page fetcher,
// the document downloader and the robots.txt client.
package transport

import (
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config tunes the pooled transport.
type Config struct {
	// DisableCompression keeps Content-Length and the body bytes identical to
	// what the server stores, which matters for validators and digests.
	DisableCompression bool
	Logger             *zap.Logger
}

// New returns a pooled transport wrapped so robots.txt requests survive
// transient TLS stalls.
func New(cfg Config) http.RoundTripper {
	return &RobotsRetryTransport{
		Base:   newHTTPTransport(cfg.DisableCompression),
		Logger: cfg.Logger,
	}
}

// NewClient returns an http.Client over rt with the given overall timeout.
func NewClient(rt http.RoundTripper, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Transport: rt, Timeout: timeout}
}

func newHTTPTransport(disableCompression bool) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    disableCompression,
	}
}
