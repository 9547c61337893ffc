package mechanism

import (
	"net/http"

	"github.com/eclipse-ee4j/soteria-sub000/pkg/rp"
)

// Logout terminates the authenticated session. The local session is
// always invalidated. Depending on configuration the provider is
// notified through its end_session endpoint, the user agent is sent
// to the configured post-logout location, or a fresh authentication
// dialog is started.
func (m *Mechanism) Logout(w http.ResponseWriter, r *http.Request) (*Result, error) {
	ctx := m.logCtx(r.Context())
	ctx, span := Tracer.Start(ctx, "Logout")
	defer span.End()
	r = r.WithContext(ctx)

	var octx *Context
	if session, ok := m.sessions.Lookup(r); ok {
		octx, _ = sessionContext(session)
		session.Invalidate()
	}

	cfg := m.cfg.Logout
	if cfg.NotifyProvider && octx != nil {
		redirectURI := m.resolveRedirectURI(r)
		party, err := m.relyingParty(ctx, redirectURI)
		if err == nil && party.GetEndSessionEndpoint() != "" {
			endSessionURL, err := rp.EndSession(ctx, party, octx.IDToken, cfg.RedirectURI, "")
			if err == nil {
				http.Redirect(w, r, endSessionURL.String(), http.StatusFound)
				return &Result{Status: StatusInProgress, Redirected: true}, nil
			}
			m.log(ctx).WarnContext(ctx, "end_session request failed, falling back to local logout", "error", err.Error())
		}
	}
	if cfg.RedirectURI != "" {
		http.Redirect(w, r, cfg.RedirectURI, http.StatusFound)
		return &Result{Status: StatusInProgress, Redirected: true}, nil
	}
	return m.challenge(w, r, m.resolveRedirectURI(r))
}
