package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/meterbridge/meterbridge/pkg/common"
	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/types"
	"golang.org/x/net/html"
)

// ErrCredentialsRejected is returned when the portal shows the login page
// again after the form was posted.
var ErrCredentialsRejected = errors.New("portal rejected credentials")

// FormLogin logs in by posting the portal's HTML login form, keeping hidden
// fields such as CSRF tokens, and collecting the resulting cookies.
type FormLogin struct {
	Client        *http.Client
	LoginPath     string
	UsernameField string
	PasswordField string
	// ExtraFields are set on the form after the hidden fields are copied.
	ExtraFields map[string]string
	// WarmupPath is fetched after a successful post; some portals only set
	// the token cookie on their first application page.
	WarmupPath string
	// LoginMarker identifies the login page in a URL.
	LoginMarker string
	TokenCookie string
}

type loginForm struct {
	action string
	method string
	fields url.Values

	hasPassword bool
}

// Authenticate implements Authenticator.
func (f *FormLogin) Authenticate(ctx context.Context, creds Credentials) (types.SessionState, error) {
	if creds.Username == "" {
		return types.SessionState{}, errors.New("missing username")
	}
	if creds.Password == "" {
		return types.SessionState{}, errors.New("missing password")
	}
	base, err := url.Parse(creds.BaseURL)
	if err != nil {
		return types.SessionState{}, fmt.Errorf("invalid base url: %w", err)
	}

	jar := common.NewCookieJar()
	client := common.WithJar(f.Client, jar)

	loginURL := base.JoinPath(f.LoginPath)
	log.Ctx(ctx).DebugContext(ctx, "fetching login form", slog.String("url", loginURL.String()))
	page, pageURL, err := f.get(ctx, client, loginURL.String())
	if err != nil {
		return types.SessionState{}, fmt.Errorf("failed to load login page: %w", err)
	}

	form, err := f.findForm(page)
	if err != nil {
		return types.SessionState{}, err
	}
	// credentials must never end up in a URL
	if form.method != http.MethodPost {
		return types.SessionState{}, fmt.Errorf("login form uses method %s, only POST is supported", form.method)
	}
	form.fields.Set(f.UsernameField, creds.Username)
	form.fields.Set(f.PasswordField, creds.Password)
	for k, v := range f.ExtraFields {
		form.fields.Set(k, v)
	}

	action, err := pageURL.Parse(form.action)
	if err != nil {
		return types.SessionState{}, fmt.Errorf("invalid form action %q: %w", form.action, err)
	}

	req, err := http.NewRequestWithContext(ctx, form.method, action.String(), strings.NewReader(form.fields.Encode()))
	if err != nil {
		return types.SessionState{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := client.Do(req)
	if err != nil {
		return types.SessionState{}, fmt.Errorf("failed to post login form: %w", err)
	}
	_, err = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err != nil {
		return types.SessionState{}, fmt.Errorf("failed to read login response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return types.SessionState{}, fmt.Errorf("login post returned status %d", resp.StatusCode)
	}
	if f.isLoginURL(resp.Request.URL) {
		return types.SessionState{}, ErrCredentialsRejected
	}

	if f.WarmupPath != "" {
		_, warmURL, err := f.get(ctx, client, base.JoinPath(f.WarmupPath).String())
		if err != nil {
			return types.SessionState{}, fmt.Errorf("failed to load warmup page: %w", err)
		}
		if f.isLoginURL(warmURL) {
			return types.SessionState{}, ErrCredentialsRejected
		}
	}

	var cookies []types.Cookie
	for _, c := range jar.Cookies(base.JoinPath("/")) {
		cookies = append(cookies, types.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: base.Hostname(),
			Path:   "/",
			Secure: base.Scheme == "https",
		})
	}
	state := types.NewSessionState(cookies, f.TokenCookie)
	if _, ok := state.Token(); f.TokenCookie != "" && !ok {
		return types.SessionState{}, fmt.Errorf("login did not set the %s cookie", f.TokenCookie)
	}
	log.Ctx(ctx).DebugContext(ctx, "form login success", slog.Int("cookies", len(cookies)))
	return state, nil
}

func (f *FormLogin) isLoginURL(u *url.URL) bool {
	return f.LoginMarker != "" && strings.Contains(u.Path, f.LoginMarker)
}

func (f *FormLogin) get(ctx context.Context, client *http.Client, u string) (*html.Node, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, resp.Request.URL, nil
}

// findForm returns the first form that has the password field.
func (f *FormLogin) findForm(doc *html.Node) (loginForm, error) {
	var forms []*loginForm
	var walk func(n *html.Node, cur *loginForm)
	walk = func(n *html.Node, cur *loginForm) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "form":
				cur = &loginForm{
					action: attr(n, "action"),
					method: strings.ToUpper(attr(n, "method")),
					fields: url.Values{},
				}
				if cur.method == "" {
					cur.method = "POST"
				}
				forms = append(forms, cur)
			case "input":
				if cur == nil {
					break
				}
				name := attr(n, "name")
				if name == f.PasswordField {
					cur.hasPassword = true
				}
				if name != "" && strings.EqualFold(attr(n, "type"), "hidden") {
					cur.fields.Set(name, attr(n, "value"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, cur)
		}
	}
	walk(doc, nil)
	for _, form := range forms {
		if form.hasPassword {
			return *form, nil
		}
	}
	return loginForm{}, fmt.Errorf("no login form with field %q found", f.PasswordField)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
