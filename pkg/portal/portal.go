// Package portal implements the HTTP surfaces of the supported metering
// portals. Every request carries the cookies of the session it was issued
// under and reports a rejected session as types.ErrUnauthorized.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/meterbridge/meterbridge/pkg/common"
	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/types"
)

const maxBodySize = 32 << 20

// sessionClient performs portal requests with per session cookie jars.
type sessionClient struct {
	name    string
	client  *http.Client
	baseURL *url.URL
	// loginMarkers are matched against the host and path of the final
	// response URL.
	loginMarkers []string
	// htmlIsLogin treats an HTML answer to a JSON endpoint as a login page.
	htmlIsLogin bool

	mu         sync.Mutex
	generation uint64
	jarClient  *http.Client
}

func newSessionClient(name string, client *http.Client, baseURL string, markers []string) (*sessionClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s base url: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s base url: %q", name, baseURL)
	}
	return &sessionClient{
		name:         name,
		client:       client,
		baseURL:      u,
		loginMarkers: markers,
	}, nil
}

// forSession returns a client whose jar holds the session's cookies. The jar
// is kept for as long as the session generation is current so cookies the
// portal rotates are sent back.
func (c *sessionClient) forSession(sess types.Session) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jarClient != nil && c.generation == sess.Generation {
		return c.jarClient
	}
	jar := common.NewCookieJar()
	cookies := sess.State.Cookies()
	hc := make([]*http.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		hc = append(hc, ck.HTTPCookie())
	}
	jar.SetCookies(c.baseURL.JoinPath("/"), hc)
	c.jarClient = common.WithJar(c.client, jar)
	c.generation = sess.Generation
	return c.jarClient
}

func (c *sessionClient) url(path string, query url.Values) string {
	u := c.baseURL.String() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *sessionClient) isLogin(u *url.URL) bool {
	target := strings.ToLower(u.Host + u.Path)
	for _, m := range c.loginMarkers {
		if strings.Contains(target, m) {
			return true
		}
	}
	return false
}

// do sends req under sess and decodes the JSON response into dest.
func (c *sessionClient) do(sess types.Session, req *http.Request, dest any) error {
	ctx := req.Context()
	resp, err := c.forSession(sess).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s returned status %d", types.ErrUnauthorized, c.name, resp.StatusCode)
	}
	if c.isLogin(resp.Request.URL) {
		log.Ctx(ctx).DebugContext(ctx, "redirected to login", slog.String("portal", c.name), slog.String("url", resp.Request.URL.Redacted()))
		return fmt.Errorf("%w: %s redirected to login", types.ErrUnauthorized, c.name)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", c.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return err
	}
	if c.htmlIsLogin {
		if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "text/html" {
			return fmt.Errorf("%w: %s answered with an html page", types.ErrUnauthorized, c.name)
		}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode portal response",
			slog.String("portal", c.name),
			slog.Any("error", err),
			slog.String("body", snippet(body)),
		)
		return fmt.Errorf("%w: %s: %w", types.ErrMalformedResponse, c.name, err)
	}
	return nil
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// flexString decodes JSON strings, numbers and null into a string.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

// flexFloat decodes JSON numbers, numeric strings and null into a float.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = 0
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flexFloat(v)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	str = strings.TrimSpace(str)
	if str == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(str, ",", ".", 1), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

func newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return req, nil
}
