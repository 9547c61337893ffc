package mechanism

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/zitadel/logging"

	"github.com/eclipse-ee4j/soteria-sub000/internal/otel"
	httphelper "github.com/eclipse-ee4j/soteria-sub000/pkg/http"
	"github.com/eclipse-ee4j/soteria-sub000/pkg/oidc"
	"github.com/eclipse-ee4j/soteria-sub000/pkg/rp"
)

var Tracer = otel.Tracer("github.com/eclipse-ee4j/soteria-sub000/pkg/mechanism")

// Status is the outcome of one Authenticate invocation.
type Status int

const (
	// StatusNotDone means the request is not authenticated and the
	// resource does not require it. Proceed anonymously.
	StatusNotDone Status = iota

	// StatusInProgress means a redirect was written and the
	// authentication dialog continues on a later request.
	StatusInProgress

	// StatusSuccess means the caller is authenticated. The Result
	// carries the Subject to register for this request.
	StatusSuccess

	// StatusFailure means authentication failed. The request must
	// not reach the protected resource.
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusNotDone:
		return "not_done"
	case StatusInProgress:
		return "in_progress"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	}
	return "unknown"
}

// Subject is the authenticated caller derived from the validated
// tokens.
type Subject struct {
	Name    string
	Groups  []string
	Context *Context
}

// Result is the outcome of Authenticate. Redirected reports whether
// a redirect response has already been written, so callers know not
// to write their own.
type Result struct {
	Status     Status
	Subject    *Subject
	NewLogin   bool
	Redirected bool
}

var (
	// ErrStateMissing is returned on a callback with no stored
	// state to validate against.
	ErrStateMissing = errors.New("state could not be validated, no stored state found")

	// ErrStateMismatch is returned when the state on the callback
	// differs from the stored one.
	ErrStateMismatch = errors.New("state on the callback does not match the stored state")

	// ErrNonceMissing is returned on a callback when nonce use is
	// enabled but no stored nonce is found.
	ErrNonceMissing = errors.New("no stored nonce found to validate the id_token against")

	// ErrNoRefreshToken is returned when a token expired, auto
	// refresh is on, but the provider issued no refresh token.
	ErrNoRefreshToken = errors.New("token expired and no refresh token available")

	// ErrTokenExpired is returned when a token expired and the
	// logout-on-expiry policy terminates the session.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionInvalidated is returned when the session vanished
	// while a refresh was waiting for the session lock.
	ErrSessionInvalidated = errors.New("session was invalidated during refresh")
)

// nonceHashCtxKey transports the expected nonce hash of the current
// callback to the verifier's nonce source.
type nonceHashCtxKey struct{}

func contextWithNonceHash(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, nonceHashCtxKey{}, hash)
}

func nonceHashFromContext(ctx context.Context) string {
	hash, _ := ctx.Value(nonceHashCtxKey{}).(string)
	return hash
}

// Mechanism drives the Authorization Code flow for inbound requests:
// it challenges unauthenticated requests, consumes the provider
// callback, maintains the authenticated session and refreshes or
// terminates it when tokens expire.
type Mechanism struct {
	cfg         Config
	sessions    SessionStore
	storage     Storage
	state       StateManager
	nonce       NonceManager
	extraParams [][2]string

	httpClient *http.Client
	logger     *slog.Logger
	rpOptions  []rp.Option

	mu      sync.Mutex
	parties map[string]rp.RelyingParty
}

// MechanismOption configures a Mechanism beyond its Config.
type MechanismOption func(*Mechanism) error

// WithSessionStore replaces the in-memory session store, typically
// with one bridging the host application's own session management.
func WithSessionStore(sessions SessionStore) MechanismOption {
	return func(m *Mechanism) error {
		m.sessions = sessions
		return nil
	}
}

// WithMechanismLogger sets the fallback logger used when the request
// context carries none.
func WithMechanismLogger(logger *slog.Logger) MechanismOption {
	return func(m *Mechanism) error {
		m.logger = logger
		return nil
	}
}

// WithMechanismHTTPClient sets the client used for all calls to the
// provider.
func WithMechanismHTTPClient(client *http.Client) MechanismOption {
	return func(m *Mechanism) error {
		m.httpClient = client
		return nil
	}
}

// WithRelyingPartyOptions appends options passed through to the
// underlying relying party construction.
func WithRelyingPartyOptions(opts ...rp.Option) MechanismOption {
	return func(m *Mechanism) error {
		m.rpOptions = append(m.rpOptions, opts...)
		return nil
	}
}

// NewMechanism validates the config, applies defaults and wires the
// cross-request storage. Construction does not talk to the provider,
// discovery runs lazily on first use and is cached.
func NewMechanism(cfg Config, opts ...MechanismOption) (*Mechanism, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Mechanism{
		cfg:         cfg,
		extraParams: cfg.extraParamPairs(),
		httpClient:  httphelper.DefaultHTTPClient,
		parties:     make(map[string]rp.RelyingParty),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.sessions == nil {
		sessionOpts := []MemorySessionStoreOpt{}
		if cfg.InsecureCookies {
			sessionOpts = append(sessionOpts, WithInsecureSessionCookie())
		}
		m.sessions = NewMemorySessionStore(sessionOpts...)
	}
	if cfg.UseSession {
		m.storage = &SessionStorage{Sessions: m.sessions}
	} else {
		cookieOpts := []httphelper.CookieHandlerOpt{}
		if cfg.InsecureCookies {
			cookieOpts = append(cookieOpts, httphelper.WithUnsecure())
		}
		m.storage = &CookieStorage{
			Cookies: httphelper.NewCookieHandler(cfg.CookieHashKey, cfg.CookieEncryptKey, cookieOpts...),
		}
	}
	m.state = StateManager{storage: m.storage}
	m.nonce = NonceManager{storage: m.storage}
	return m, nil
}

// relyingParty returns the relying party for the resolved redirect
// URI, constructing it on first use. Instances are cached because
// the redirect URI is effectively constant per deployment, it only
// varies with the request when the ${baseURL} placeholder is used
// behind multiple hosts.
func (m *Mechanism) relyingParty(ctx context.Context, redirectURI string) (rp.RelyingParty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if party, ok := m.parties[redirectURI]; ok {
		return party, nil
	}

	opts := []rp.Option{
		rp.WithHTTPClient(m.httpClient),
		rp.WithJWKSTimeouts(m.cfg.JWKSConnectTimeout, m.cfg.JWKSReadTimeout),
		rp.WithVerifierOpts(rp.WithVerifierNonce(nonceHashFromContext)),
	}
	if m.logger != nil {
		opts = append(opts, rp.WithLogger(m.logger))
	}
	endpoints := rp.Endpoints{
		UserinfoURL:   m.cfg.UserinfoEndpoint,
		JKWsURL:       m.cfg.JwksURI,
		EndSessionURL: m.cfg.EndSessionEndpoint,
	}
	endpoints.AuthURL = m.cfg.AuthorizationEndpoint
	endpoints.TokenURL = m.cfg.TokenEndpoint
	if m.cfg.staticEndpoints() {
		opts = append(opts, rp.WithStaticEndpoints(endpoints))
	} else {
		opts = append(opts, rp.WithEndpoints(endpoints))
	}
	opts = append(opts, m.rpOptions...)

	// the issuer for id_token validation is the provider URI, or the
	// dedicated issuer field when discovery is skipped entirely
	issuer := m.cfg.ProviderURI
	if issuer == "" {
		issuer = m.cfg.Issuer
	}
	party, err := rp.NewRelyingPartyOIDC(ctx, issuer, m.cfg.ClientID, m.cfg.ClientSecret,
		redirectURI, m.cfg.Scopes, opts...)
	if err != nil {
		return nil, err
	}
	m.parties[redirectURI] = party
	return party, nil
}

// Authenticate runs the per-request state machine. protected tells
// the mechanism whether the requested resource requires an
// authenticated caller. A request without a state parameter is
// always a normal request, never an error.
func (m *Mechanism) Authenticate(w http.ResponseWriter, r *http.Request, protected bool) (*Result, error) {
	ctx := m.logCtx(r.Context())
	ctx, span := Tracer.Start(ctx, "Authenticate")
	defer span.End()
	r = r.WithContext(ctx)

	redirectURI := m.resolveRedirectURI(r)
	if m.isCallback(r, redirectURI) {
		return m.authenticateCallback(w, r, redirectURI)
	}
	if session, ok := m.sessions.Lookup(r); ok {
		if octx, ok := sessionContext(session); ok {
			return m.authenticateExisting(w, r, redirectURI, session, octx)
		}
	}
	if !protected {
		return &Result{Status: StatusNotDone}, nil
	}
	return m.challenge(w, r, redirectURI)
}

// isCallback reports whether the request is the provider redirecting
// back: it carries a state parameter and targets the redirect URI.
func (m *Mechanism) isCallback(r *http.Request, redirectURI string) bool {
	if !r.URL.Query().Has("state") {
		return false
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	return r.URL.Path == u.Path
}

// challenge starts the authentication dialog: store state, nonce and
// the original request, then send the user agent to the provider.
func (m *Mechanism) challenge(w http.ResponseWriter, r *http.Request, redirectURI string) (*Result, error) {
	ctx, span := Tracer.Start(r.Context(), "challenge")
	defer span.End()

	party, err := m.relyingParty(ctx, redirectURI)
	if err != nil {
		return &Result{Status: StatusFailure}, err
	}

	state := m.state.New()
	m.state.Store(w, r, state)

	opts := []rp.AuthURLOpt{
		rp.AuthURLOpt(rp.WithURLParam("response_type", m.cfg.ResponseType)),
	}
	if m.cfg.UseNonce {
		nonce := m.nonce.New()
		m.nonce.Store(w, r, nonce)
		opts = append(opts, rp.WithNonce(NonceHash(nonce)))
	}
	if m.cfg.RedirectToOriginalResource {
		m.storage.Store(w, r, originalRequestKey, effectiveURL(r), loginFlowMaxAge)
	}
	if m.cfg.ResponseMode != "" {
		opts = append(opts, rp.WithResponseMode(oidc.ResponseMode(m.cfg.ResponseMode)))
	}
	if m.cfg.Display != "" {
		opts = append(opts, rp.WithDisplay(oidc.Display(m.cfg.Display)))
	}
	if len(m.cfg.Prompt) > 0 {
		opts = append(opts, rp.WithPrompt(m.cfg.Prompt...))
	}
	for _, kv := range m.extraParams {
		opts = append(opts, rp.AuthURLOpt(rp.WithURLParam(kv[0], kv[1])))
	}

	m.log(ctx).DebugContext(ctx, "redirecting to authorization endpoint", "state", state)
	http.Redirect(w, r, rp.AuthURL(state, party, opts...), http.StatusFound)
	return &Result{Status: StatusInProgress, Redirected: true}, nil
}

// authenticateCallback consumes the provider redirect: validate
// state, exchange the code, verify the tokens and establish the
// authenticated session.
func (m *Mechanism) authenticateCallback(w http.ResponseWriter, r *http.Request, redirectURI string) (*Result, error) {
	ctx, span := Tracer.Start(r.Context(), "authenticateCallback")
	defer span.End()

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		m.state.Remove(w, r)
		m.nonce.Remove(w, r)
		return &Result{Status: StatusFailure},
			oidc.NewError(errParam, query.Get("error_description"), query.Get("state"))
	}

	stored, ok := m.state.Get(r)
	if !ok {
		return &Result{Status: StatusFailure}, ErrStateMissing
	}
	if stored != query.Get("state") {
		return &Result{Status: StatusFailure}, ErrStateMismatch
	}
	m.state.Remove(w, r)

	if m.cfg.UseNonce {
		nonce, ok := m.nonce.Get(r)
		if !ok {
			return &Result{Status: StatusFailure}, ErrNonceMissing
		}
		// single use, remove regardless of the verification outcome
		defer m.nonce.Remove(w, r)
		ctx = contextWithNonceHash(ctx, NonceHash(nonce))
	}

	party, err := m.relyingParty(ctx, redirectURI)
	if err != nil {
		return &Result{Status: StatusFailure}, err
	}
	tokens, err := rp.CodeExchange[*oidc.IDTokenClaims](ctx, query.Get("code"), party)
	if err != nil {
		return &Result{Status: StatusFailure}, err
	}
	octx, err := newContext(tokens)
	if err != nil {
		return &Result{Status: StatusFailure}, err
	}

	session := m.sessions.Get(w, r)
	session.Set(contextKey, octx)
	m.log(ctx).InfoContext(ctx, "caller authenticated", "sub", octx.Subject())

	if m.cfg.RedirectToOriginalResource {
		if original, ok := m.storage.Get(r, originalRequestKey); ok {
			m.storage.Remove(w, r, originalRequestKey)
			if original != effectiveURL(r) {
				http.Redirect(w, r, original, http.StatusFound)
				return &Result{Status: StatusInProgress, NewLogin: true, Redirected: true}, nil
			}
		}
	}
	return &Result{Status: StatusSuccess, Subject: m.subject(octx), NewLogin: true}, nil
}

// authenticateExisting re-registers the caller of an authenticated
// session, refreshing or terminating it when a token expired.
func (m *Mechanism) authenticateExisting(w http.ResponseWriter, r *http.Request, redirectURI string, session Session, octx *Context) (*Result, error) {
	ctx, span := Tracer.Start(r.Context(), "authenticateExisting")
	defer span.End()

	now := time.Now()
	accessExpired := octx.AccessTokenExpired(now, m.cfg.TokenMinValidity)
	identityExpired := octx.IdentityTokenExpired(now, m.cfg.TokenMinValidity)
	if !accessExpired && !identityExpired {
		return &Result{Status: StatusSuccess, Subject: m.subject(octx)}, nil
	}

	if m.cfg.TokenAutoRefresh {
		return m.refresh(ctx, w, r, redirectURI, session)
	}
	if (accessExpired && m.cfg.Logout.AccessTokenExpiry) ||
		(identityExpired && m.cfg.Logout.IdentityTokenExpiry) {
		return m.logoutAndFail(w, r, session, ErrTokenExpired)
	}
	// stale tokens are tolerated by configuration
	return &Result{Status: StatusSuccess, Subject: m.subject(octx)}, nil
}

// refresh exchanges the refresh token under the per-session lock.
// One refresh renews both tokens; requests racing for the lock see
// the renewed context and skip their own exchange.
func (m *Mechanism) refresh(ctx context.Context, w http.ResponseWriter, r *http.Request, redirectURI string, session Session) (*Result, error) {
	ctx, span := Tracer.Start(ctx, "refresh")
	defer span.End()

	lock := session.RefreshLock()
	lock.Lock()
	defer lock.Unlock()

	octx, ok := sessionContext(session)
	if !ok {
		return &Result{Status: StatusFailure}, ErrSessionInvalidated
	}
	now := time.Now()
	if !octx.AccessTokenExpired(now, m.cfg.TokenMinValidity) &&
		!octx.IdentityTokenExpired(now, m.cfg.TokenMinValidity) {
		return &Result{Status: StatusSuccess, Subject: m.subject(octx)}, nil
	}
	if octx.RefreshToken == "" {
		return m.logoutAndFail(w, r, session, ErrNoRefreshToken)
	}

	party, err := m.relyingParty(ctx, redirectURI)
	if err != nil {
		return &Result{Status: StatusFailure}, err
	}
	tokens, err := rp.RefreshTokens[*oidc.IDTokenClaims](ctx, party, octx.RefreshToken, octx.IDTokenClaims)
	if err != nil {
		return m.logoutAndFail(w, r, session, err)
	}
	refreshed, err := refreshedContext(octx, tokens)
	if err != nil {
		return m.logoutAndFail(w, r, session, err)
	}
	session.Set(contextKey, refreshed)
	m.log(ctx).DebugContext(ctx, "tokens refreshed", "sub", refreshed.Subject())
	return &Result{Status: StatusSuccess, Subject: m.subject(refreshed)}, nil
}

// refreshedContext merges the refresh response with the previous
// context: the response might carry neither a new ID token nor a new
// refresh token, the previous ones then stay in effect.
func refreshedContext(previous *Context, tokens *oidc.Tokens[*oidc.IDTokenClaims]) (*Context, error) {
	if tokens.IDToken == "" {
		tokens.IDToken = previous.IDToken
		tokens.IDTokenClaims = previous.IDTokenClaims
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = previous.RefreshToken
	}
	return newContext(tokens)
}

// Userinfo fetches the userinfo claims for an authenticated context
// through the relying party of the current request. The claims are
// fetched once and cached on the context.
func (m *Mechanism) Userinfo(ctx context.Context, r *http.Request, octx *Context) (*oidc.UserInfo, error) {
	party, err := m.relyingParty(ctx, m.resolveRedirectURI(r))
	if err != nil {
		return nil, err
	}
	return octx.Userinfo(ctx, party)
}

func (m *Mechanism) subject(octx *Context) *Subject {
	return &Subject{
		Name:    octx.CallerName(m.cfg.CallerNameClaim),
		Groups:  octx.CallerGroups(m.cfg.CallerGroupsClaim),
		Context: octx,
	}
}

// logoutAndFail terminates the local session and reports the failure
// to the caller. Unlike Logout it writes no redirect, the failed
// request is answered by the host application.
func (m *Mechanism) logoutAndFail(w http.ResponseWriter, r *http.Request, session Session, cause error) (*Result, error) {
	session.Invalidate()
	m.log(r.Context()).InfoContext(r.Context(), "session terminated", "cause", cause.Error())
	return &Result{Status: StatusFailure}, cause
}

func (m *Mechanism) logCtx(ctx context.Context) context.Context {
	if _, ok := logging.FromContext(ctx); ok {
		return ctx
	}
	if m.logger == nil {
		return ctx
	}
	return logging.ToContext(ctx, m.logger)
}

// log returns the request logger, the configured fallback, or the
// process default, in that order.
func (m *Mechanism) log(ctx context.Context) *slog.Logger {
	if logger, ok := logging.FromContext(ctx); ok {
		return logger
	}
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

// subjectCtxKey carries the authenticated Subject to handlers behind
// the middleware.
type subjectCtxKey struct{}

// SubjectFromContext returns the Subject registered for the request,
// if any.
func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	subject, ok := ctx.Value(subjectCtxKey{}).(*Subject)
	return subject, ok
}

// Middleware adapts the mechanism to a net/http middleware chain.
// On success the Subject is available via SubjectFromContext.
func (m *Mechanism) Middleware(protected bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := m.Authenticate(w, r, protected)
			if err != nil {
				m.log(r.Context()).WarnContext(r.Context(), "authentication failed", "error", err.Error())
			}
			switch result.Status {
			case StatusSuccess:
				ctx := context.WithValue(r.Context(), subjectCtxKey{}, result.Subject)
				next.ServeHTTP(w, r.WithContext(ctx))
			case StatusNotDone:
				next.ServeHTTP(w, r)
			case StatusInProgress:
				// redirect already written
			case StatusFailure:
				if !result.Redirected {
					http.Error(w, "authentication failed", http.StatusUnauthorized)
				}
			}
		})
	}
}
