package provider

import (
	"context"
	"errors"
)

// ErrNoSession is returned by a CookieSource when the browser holds no
// session for the requested domain. Web strategies treat it as
// fallback-eligible.
var ErrNoSession = errors.New("no browser session found")

// CookieSource yields a browser-derived session cookie value for a
// domain. Cookie file parsing internals live behind this boundary; the
// strategies only consume the resulting value.
type CookieSource interface {
	SessionCookie(ctx context.Context, domain string) (string, error)
}
