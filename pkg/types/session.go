package types

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Cookie is a single cookie as captured from a browser context.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// HTTPCookie converts the cookie for use with a cookie jar.
func (c Cookie) HTTPCookie() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}
	if hc.Path == "" {
		hc.Path = "/"
	}
	// browsers use -1 for session cookies
	if c.Expires > 0 {
		hc.Expires = time.Unix(int64(c.Expires), 0)
	}
	return hc
}

// SessionState is an immutable set of portal cookies plus the request signing
// token derived from one of them. It is replaced wholesale, never edited.
type SessionState struct {
	cookies     []Cookie
	tokenCookie string
	token       string
}

// NewSessionState builds a state from cookies and derives the signing token
// from the cookie named tokenCookie. Cookie values are URL unescaped the way
// browsers send XSRF tokens back as headers.
func NewSessionState(cookies []Cookie, tokenCookie string) SessionState {
	s := SessionState{
		cookies:     append([]Cookie(nil), cookies...),
		tokenCookie: tokenCookie,
	}
	if tokenCookie == "" {
		return s
	}
	for _, c := range s.cookies {
		if c.Name != tokenCookie || c.Value == "" {
			continue
		}
		if v, err := url.QueryUnescape(c.Value); err == nil {
			s.token = v
		} else {
			s.token = c.Value
		}
		break
	}
	return s
}

// Cookies returns a copy of the cookies.
func (s SessionState) Cookies() []Cookie {
	return append([]Cookie(nil), s.cookies...)
}

// Token returns the derived signing token and whether one was found.
func (s SessionState) Token() (string, bool) {
	return s.token, s.token != ""
}

// RawTokenCookie returns the undecoded value of the token cookie.
func (s SessionState) RawTokenCookie() string {
	for _, c := range s.cookies {
		if c.Name == s.tokenCookie {
			return c.Value
		}
	}
	return ""
}

// IsZero reports whether the state holds no cookies at all.
func (s SessionState) IsZero() bool {
	return len(s.cookies) == 0
}

// storageState mirrors the snapshot written by browser automation tools so a
// state produced by an external login helper round-trips unchanged.
type storageState struct {
	Cookies []Cookie          `json:"cookies"`
	Origins []json.RawMessage `json:"origins"`
}

// EncodeSessionState serializes the state as a storage-state snapshot.
func EncodeSessionState(s SessionState) ([]byte, error) {
	st := storageState{
		Cookies: s.cookies,
		Origins: []json.RawMessage{},
	}
	if st.Cookies == nil {
		st.Cookies = []Cookie{}
	}
	return json.Marshal(st)
}

// DecodeSessionState parses a storage-state snapshot.
func DecodeSessionState(b []byte, tokenCookie string) (SessionState, error) {
	var st storageState
	if err := json.Unmarshal(b, &st); err != nil {
		return SessionState{}, fmt.Errorf("failed to decode session state: %w", err)
	}
	return NewSessionState(st.Cookies, tokenCookie), nil
}

// Session is a SessionState tagged with the generation the session manager
// assigned when it was installed. Generations only ever increase.
type Session struct {
	State      SessionState
	Generation uint64
}
