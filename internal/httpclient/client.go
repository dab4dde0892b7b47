package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Default transport tuning for service-to-service calls. Workers hold
// few connections open for a long time, so the pool is kept small and
// idle connections are recycled.
const (
	DefaultDialTimeout   = 30 * time.Second
	defaultKeepAlive     = 30 * time.Second
	defaultMaxIdleConns  = 100
	defaultIdleTimeout   = 90 * time.Second
	defaultTLSHandshake  = 10 * time.Second
	defaultExpectTimeout = 1 * time.Second
)

// Options allows customization of the client transport.
type Options struct {
	DialTimeout *time.Duration // Default: 30s
}

// New returns an *http.Client with a tuned transport and the given
// overall request timeout. A zero timeout means no client-side limit;
// callers then bound requests with contexts.
func New(timeout time.Duration) *http.Client {
	return NewWithOptions(timeout, Options{})
}

// NewWithOptions returns an *http.Client with custom transport options.
func NewWithOptions(timeout time.Duration, opts Options) *http.Client {
	dialTimeout := DefaultDialTimeout
	if opts.DialTimeout != nil {
		dialTimeout = *opts.DialTimeout
	}

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: defaultKeepAlive,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          defaultMaxIdleConns,
			IdleConnTimeout:       defaultIdleTimeout,
			TLSHandshakeTimeout:   defaultTLSHandshake,
			ExpectContinueTimeout: defaultExpectTimeout,
		},
	}
}

// IsLocalhostURL reports whether the URL's host is a loopback address
// or a localhost name. Used to decide when plain HTTP is acceptable.
func IsLocalhostURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return IsLoopbackHost(u.Hostname())
}

// IsLoopbackHost checks hostname/IP forms of localhost.
func IsLoopbackHost(hostname string) bool {
	if hostname == "" {
		return false
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}
