package mechanism

import (
	"net/http"
	"strings"

	"github.com/muhlemmer/httpforwarded"
)

// baseURL resolves the effective scheme and host of the request,
// honoring RFC 7239 Forwarded and the older X-Forwarded-* headers
// when the application sits behind a proxy. The first (closest to
// the client) forwarded entry wins.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host

	if fwd, err := httpforwarded.ParseFromRequest(r); err == nil && len(fwd) > 0 {
		if v := fwd["proto"]; len(v) > 0 {
			scheme = v[0]
		}
		if v := fwd["host"]; len(v) > 0 {
			host = v[0]
		}
		return scheme + "://" + host
	}
	if v := r.Header.Get("X-Forwarded-Proto"); v != "" {
		scheme = v
	}
	if v := r.Header.Get("X-Forwarded-Host"); v != "" {
		host = v
	}
	return scheme + "://" + host
}

// effectiveURL is the full URL the client requested, including the
// query string, reconstructed from the effective base URL.
func effectiveURL(r *http.Request) string {
	return baseURL(r) + r.URL.RequestURI()
}

func (m *Mechanism) resolveRedirectURI(r *http.Request) string {
	return strings.ReplaceAll(m.cfg.RedirectURI, BaseURLPlaceholder, baseURL(r))
}
