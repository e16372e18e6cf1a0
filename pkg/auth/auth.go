// Package auth contains the authentication actors that turn portal
// credentials into a SessionState. Portals use browser-style logins so these
// are slow and are only invoked by the session manager.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/levenlabs/go-lflag"
	"github.com/meterbridge/meterbridge/pkg/types"
)

// Credentials are handed to an Authenticator.
type Credentials struct {
	Username string
	Password string
	BaseURL  string
}

// Authenticator performs a full login and returns the resulting session.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (types.SessionState, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, creds Credentials) (types.SessionState, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, creds Credentials) (types.SessionState, error) {
	return f(ctx, creds)
}

// Configured registers the <prefix>-auth-* flags and returns the selected
// authenticator. form is used when the method is "form" and may be nil for
// portals without a plain HTML login.
func Configured(prefix, defaultMethod, tokenCookie string, form *FormLogin) Authenticator {
	method := lflag.String(prefix+"-auth-method", defaultMethod, "How to log in to "+prefix+" (available: form, command)")
	command := lflag.String(prefix+"-auth-command", "", "Command that logs in to "+prefix+" and prints a storage-state JSON snapshot on stdout")

	var a struct{ Authenticator }

	lflag.Do(func() {
		switch *method {
		case "form":
			if form == nil {
				panic(fmt.Sprintf("%s does not support form login, use %s-auth-method=command", prefix, prefix))
			}
			a.Authenticator = form
		case "command":
			fields := strings.Fields(*command)
			if len(fields) == 0 {
				panic(fmt.Sprintf("%s-auth-command is required when %s-auth-method=command", prefix, prefix))
			}
			a.Authenticator = &Command{
				Path:        fields[0],
				Args:        fields[1:],
				TokenCookie: tokenCookie,
			}
		default:
			panic(fmt.Sprintf("unknown %s auth method: %s", prefix, *method))
		}
	})

	return &a
}
