package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/eclipse-ee4j/soteria-sub000/pkg/oidc"
)

// Provider is a minimal fake OpenID provider for tests: it serves
// discovery, a JWKS document, a scripted token endpoint and an
// end_session endpoint, and signs ID tokens with its key set.
type Provider struct {
	srv      *httptest.Server
	Keys     *KeySet
	ClientID string

	// UserinfoResponse is served by the userinfo endpoint when set.
	UserinfoResponse *oidc.UserInfo

	mu                 sync.Mutex
	tokenResponses     []scriptedResponse
	TokenRequests      []url.Values
	EndSessionRequests []url.Values
	discoveryHits      int
	userinfoHits       int
}

type scriptedResponse struct {
	status int
	body   any
}

func NewProvider(tb testing.TB, clientID string) *Provider {
	p := &Provider{
		Keys:     NewKeySet(),
		ClientID: clientID,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(oidc.DiscoveryEndpoint, p.discovery)
	mux.HandleFunc("/keys", p.jwks)
	mux.HandleFunc("/oauth/token", p.token)
	mux.HandleFunc("/userinfo", p.userinfo)
	mux.HandleFunc("/end_session", p.endSession)
	p.srv = httptest.NewServer(mux)
	tb.Cleanup(p.srv.Close)
	return p
}

func (p *Provider) URL() string          { return p.srv.URL }
func (p *Provider) Client() *http.Client { return p.srv.Client() }

func (p *Provider) discovery(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.discoveryHits++
	p.mu.Unlock()
	json.NewEncoder(w).Encode(&oidc.DiscoveryConfiguration{
		Issuer:                p.srv.URL,
		AuthorizationEndpoint: p.srv.URL + "/authorize",
		TokenEndpoint:         p.srv.URL + "/oauth/token",
		UserinfoEndpoint:      p.srv.URL + "/userinfo",
		EndSessionEndpoint:    p.srv.URL + "/end_session",
		JwksURI:               p.srv.URL + "/keys",
	})
}

func (p *Provider) jwks(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(p.Keys.WebKeySet())
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.TokenRequests = append(p.TokenRequests, r.PostForm)
	var response scriptedResponse
	if len(p.tokenResponses) > 0 {
		response = p.tokenResponses[0]
		p.tokenResponses = p.tokenResponses[1:]
	} else {
		response = scriptedResponse{
			status: http.StatusBadRequest,
			body:   oidc.NewError("invalid_grant", "no scripted token response left", ""),
		}
	}
	p.mu.Unlock()

	w.Header().Set("content-type", "application/json")
	w.WriteHeader(response.status)
	json.NewEncoder(w).Encode(response.body)
}

func (p *Provider) userinfo(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.userinfoHits++
	response := p.UserinfoResponse
	p.mu.Unlock()
	if response == nil {
		http.Error(w, "no userinfo response configured", http.StatusNotFound)
		return
	}
	w.Header().Set("content-type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (p *Provider) endSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.EndSessionRequests = append(p.EndSessionRequests, r.Form)
	p.mu.Unlock()
	if redirect := r.Form.Get("post_logout_redirect_uri"); redirect != "" {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// EnqueueTokens scripts the next token endpoint response.
func (p *Provider) EnqueueTokens(response *oidc.AccessTokenResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenResponses = append(p.tokenResponses, scriptedResponse{status: http.StatusOK, body: response})
}

// EnqueueTokenError scripts a failing token endpoint response.
func (p *Provider) EnqueueTokenError(status int, err *oidc.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenResponses = append(p.tokenResponses, scriptedResponse{status: status, body: err})
}

// TokenRequestCount returns how many token requests were served.
func (p *Provider) TokenRequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TokenRequests)
}

// DiscoveryHits returns how many discovery requests were served.
func (p *Provider) DiscoveryHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryHits
}

// UserinfoHits returns how many userinfo requests were served.
func (p *Provider) UserinfoHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userinfoHits
}

// SignIDToken issues an ID token for this provider: issuer and
// audience are filled in, the rest comes from the arguments.
func (p *Provider) SignIDToken(subject, nonce, atHash string, expiration time.Time, opts ...IDTokenOpt) string {
	token, _ := p.Keys.NewIDToken(p.srv.URL, subject, []string{p.ClientID}, expiration, nonce, p.ClientID, atHash, opts...)
	return token
}
