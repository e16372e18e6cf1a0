package common

import (
	_ "embed"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

//go:embed VERSION
var version string

// Version returns the trimmed build version.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is sent on every portal request.
func UserAgent() string {
	return "MeterBridge/" + Version()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper. Portals answer with HTML unless the
// request looks like an XHR so Accept and X-Requested-With are defaulted.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/plain, */*")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "de-DE,de;q=0.9")
	}
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: UserAgent(),
		},
		Timeout: timeout,
	}
}

// NewCookieJar returns a cookie jar that scopes cookies by registrable domain.
func NewCookieJar() http.CookieJar {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New never returns an error today
		panic(err)
	}
	return jar
}

// WithJar returns a shallow copy of client that uses jar. The transport is
// shared so connections are reused across sessions.
func WithJar(client *http.Client, jar http.CookieJar) *http.Client {
	c := *client
	c.Jar = jar
	return &c
}
