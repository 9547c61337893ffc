package mechanism

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ee4j/soteria-sub000/internal/testutil"
	"github.com/eclipse-ee4j/soteria-sub000/pkg/oidc"
	"github.com/eclipse-ee4j/soteria-sub000/pkg/rp"
)

const testClientID = "web-app"

func newTestMechanism(t *testing.T, provider *testutil.Provider, mutate func(*Config)) *Mechanism {
	t.Helper()
	cfg := Config{
		ProviderURI:     provider.URL(),
		ClientID:        testClientID,
		ClientSecret:    "secret",
		RedirectURI:     BaseURLPlaceholder + "/callback",
		UseNonce:        true,
		UseSession:      true,
		InsecureCookies: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewMechanism(cfg, WithMechanismHTTPClient(provider.Client()))
	require.NoError(t, err)
	return m
}

// cookieJar replays cookies across the requests of one simulated
// user agent.
type cookieJar struct {
	cookies map[string]*http.Cookie
}

func newCookieJar() *cookieJar {
	return &cookieJar{cookies: make(map[string]*http.Cookie)}
}

func (j *cookieJar) update(rec *httptest.ResponseRecorder) {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge < 0 {
			delete(j.cookies, cookie.Name)
			continue
		}
		j.cookies[cookie.Name] = cookie
	}
}

func (j *cookieJar) request(target string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	for _, cookie := range j.cookies {
		r.AddCookie(cookie)
	}
	return r
}

// login drives the full authentication dialog: challenge, scripted
// code exchange, callback. It returns the callback result and the
// ID token issued by the provider.
func login(t *testing.T, m *Mechanism, provider *testutil.Provider, jar *cookieJar, expiresIn uint64, refreshToken string, opts ...testutil.IDTokenOpt) (*Result, string) {
	t.Helper()

	rec := httptest.NewRecorder()
	result, err := m.Authenticate(rec, jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, result.Status)
	require.True(t, result.Redirected)
	require.Equal(t, http.StatusFound, rec.Code)
	jar.update(rec)

	authURL, err := url.Parse(rec.Result().Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	nonce := authURL.Query().Get("nonce")
	require.NotEmpty(t, state)
	require.NotEmpty(t, nonce)

	accessToken := "access-" + state
	idToken := provider.SignIDToken("tim", nonce, testutil.AtHash(accessToken), time.Now().Add(time.Hour), opts...)
	provider.EnqueueTokens(&oidc.AccessTokenResponse{
		AccessToken:  accessToken,
		TokenType:    oidc.BearerToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
		IDToken:      idToken,
	})

	rec = httptest.NewRecorder()
	callback := jar.request("http://app.local/callback?state=" + url.QueryEscape(state) + "&code=auth-code")
	result, err = m.Authenticate(rec, callback, true)
	require.NoError(t, err)
	jar.update(rec)
	return result, idToken
}

func TestAuthenticateFlow(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, nil)
	jar := newCookieJar()

	// the challenge carries the client and resolved redirect URI
	rec := httptest.NewRecorder()
	result, err := m.Authenticate(rec, jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, result.Status)
	jar.update(rec)

	authURL, err := url.Parse(rec.Result().Header.Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL.String(), provider.URL()+"/authorize"))
	query := authURL.Query()
	assert.Equal(t, testClientID, query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "http://app.local/callback", query.Get("redirect_uri"))
	state := query.Get("state")
	nonce := query.Get("nonce")
	require.NotEmpty(t, state)
	require.NotEmpty(t, nonce)

	accessToken := "the-access-token"
	idToken := provider.SignIDToken("tim", nonce, testutil.AtHash(accessToken), time.Now().Add(time.Hour),
		func(c *oidc.IDTokenClaims) {
			c.Claims = map[string]any{
				"preferred_username": "tim@corp",
				"groups":             []any{"admin", "dev"},
			}
		})
	provider.EnqueueTokens(&oidc.AccessTokenResponse{
		AccessToken:  accessToken,
		TokenType:    oidc.BearerToken,
		RefreshToken: "the-refresh-token",
		ExpiresIn:    3600,
		IDToken:      idToken,
	})

	rec = httptest.NewRecorder()
	callback := jar.request("http://app.local/callback?state=" + url.QueryEscape(state) + "&code=auth-code")
	result, err = m.Authenticate(rec, callback, true)
	require.NoError(t, err)
	jar.update(rec)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.True(t, result.NewLogin)
	require.NotNil(t, result.Subject)
	assert.Equal(t, "tim@corp", result.Subject.Name)
	assert.Equal(t, []string{"admin", "dev"}, result.Subject.Groups)
	assert.Equal(t, "tim", result.Subject.Context.Subject())

	form := provider.TokenRequests[0]
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "auth-code", form.Get("code"))

	// the session now answers without talking to the provider
	result, err = m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.False(t, result.NewLogin)
	assert.Equal(t, 1, provider.TokenRequestCount())
}

func TestAuthenticateCallbackStateMissing(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, nil)

	r := httptest.NewRequest(http.MethodGet, "http://app.local/callback?state=spoofed&code=x", nil)
	result, err := m.Authenticate(httptest.NewRecorder(), r, true)
	require.ErrorIs(t, err, ErrStateMissing)
	assert.Equal(t, StatusFailure, result.Status)
}

func TestAuthenticateCallbackStateMismatch(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, nil)
	jar := newCookieJar()

	rec := httptest.NewRecorder()
	_, err := m.Authenticate(rec, jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	jar.update(rec)

	result, err := m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/callback?state=wrong&code=x"), true)
	require.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, StatusFailure, result.Status)
	assert.Zero(t, provider.TokenRequestCount())
}

func TestAuthenticateCallbackProviderError(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, nil)
	jar := newCookieJar()

	rec := httptest.NewRecorder()
	_, err := m.Authenticate(rec, jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	jar.update(rec)

	result, err := m.Authenticate(httptest.NewRecorder(),
		jar.request("http://app.local/callback?state=x&error=access_denied&error_description=user+cancelled"), true)
	require.Error(t, err)
	assert.Equal(t, StatusFailure, result.Status)
	target := new(oidc.Error)
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "user cancelled", target.Description)
}

func TestAuthenticateCallbackNonceMismatch(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, nil)
	jar := newCookieJar()

	rec := httptest.NewRecorder()
	_, err := m.Authenticate(rec, jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	jar.update(rec)

	authURL, err := url.Parse(rec.Result().Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")

	// the provider binds the id_token to a different login flow
	idToken := provider.SignIDToken("tim", NonceHash("a-foreign-nonce"), "", time.Now().Add(time.Hour))
	provider.EnqueueTokens(&oidc.AccessTokenResponse{
		AccessToken: "access-token",
		TokenType:   oidc.BearerToken,
		ExpiresIn:   3600,
		IDToken:     idToken,
	})

	rec = httptest.NewRecorder()
	callback := jar.request("http://app.local/callback?state=" + url.QueryEscape(state) + "&code=auth-code")
	result, err := m.Authenticate(rec, callback, true)
	require.ErrorIs(t, err, oidc.ErrNonceInvalid)
	assert.Equal(t, StatusFailure, result.Status)
	jar.update(rec)

	// the nonce is single use, it is removed even though
	// verification failed
	_, ok := m.nonce.Get(jar.request("http://app.local/callback"))
	assert.False(t, ok)
}

func TestAuthenticateUnprotected(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, nil)

	rec := httptest.NewRecorder()
	result, err := m.Authenticate(rec, httptest.NewRequest(http.MethodGet, "http://app.local/public", nil), false)
	require.NoError(t, err)
	assert.Equal(t, StatusNotDone, result.Status)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRedirectToOriginalResource(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, func(cfg *Config) {
		cfg.RedirectToOriginalResource = true
	})
	jar := newCookieJar()

	original := "http://app.local/deep/page?x=1"
	rec := httptest.NewRecorder()
	_, err := m.Authenticate(rec, jar.request(original), true)
	require.NoError(t, err)
	jar.update(rec)

	authURL, err := url.Parse(rec.Result().Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	nonce := authURL.Query().Get("nonce")

	accessToken := "access-token"
	idToken := provider.SignIDToken("tim", nonce, testutil.AtHash(accessToken), time.Now().Add(time.Hour))
	provider.EnqueueTokens(&oidc.AccessTokenResponse{
		AccessToken: accessToken,
		TokenType:   oidc.BearerToken,
		ExpiresIn:   3600,
		IDToken:     idToken,
	})

	rec = httptest.NewRecorder()
	result, err := m.Authenticate(rec, jar.request("http://app.local/callback?state="+url.QueryEscape(state)+"&code=auth-code"), true)
	require.NoError(t, err)
	jar.update(rec)

	// the callback sends the user agent back to where it started
	assert.Equal(t, StatusInProgress, result.Status)
	assert.True(t, result.NewLogin)
	assert.True(t, result.Redirected)
	assert.Equal(t, original, rec.Result().Header.Get("Location"))

	result, err = m.Authenticate(httptest.NewRecorder(), jar.request(original), true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
}

func TestTokenAutoRefresh(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, func(cfg *Config) {
		cfg.TokenAutoRefresh = true
	})
	jar := newCookieJar()

	// expires_in of one second is below the minimum validity, the
	// access token counts as expired on the very next request
	result, _ := login(t, m, provider, jar, 1, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	refreshedIDToken := provider.SignIDToken("tim", "", "", time.Now().Add(time.Hour))
	provider.EnqueueTokens(&oidc.AccessTokenResponse{
		AccessToken:  "refreshed-access",
		TokenType:    oidc.BearerToken,
		RefreshToken: "refresh-2",
		ExpiresIn:    3600,
		IDToken:      refreshedIDToken,
	})

	result, err := m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "refreshed-access", result.Subject.Context.AccessToken)
	assert.Equal(t, "refresh-2", result.Subject.Context.RefreshToken)
	require.Equal(t, 2, provider.TokenRequestCount())

	form := provider.TokenRequests[1]
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "refresh-1", form.Get("refresh_token"))

	// one refresh renewed both tokens, the next request is served
	// from the session
	result, err = m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 2, provider.TokenRequestCount())
}

func TestRefreshKeepsPreviousTokens(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, func(cfg *Config) {
		cfg.TokenAutoRefresh = true
	})
	jar := newCookieJar()

	result, idToken := login(t, m, provider, jar, 1, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	// a response without id_token and refresh_token keeps the
	// previous ones in effect
	provider.EnqueueTokens(&oidc.AccessTokenResponse{
		AccessToken: "refreshed-access",
		TokenType:   oidc.BearerToken,
		ExpiresIn:   3600,
	})

	result, err := m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, idToken, result.Subject.Context.IDToken)
	assert.Equal(t, "refresh-1", result.Subject.Context.RefreshToken)
}

func TestRefreshFailureTerminatesSession(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, func(cfg *Config) {
		cfg.TokenAutoRefresh = true
	})
	jar := newCookieJar()

	result, _ := login(t, m, provider, jar, 1, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	// nothing scripted, the provider rejects the refresh
	result, err := m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/secure"), true)
	require.Error(t, err)
	assert.Equal(t, StatusFailure, result.Status)
	target := new(oidc.Error)
	assert.ErrorAs(t, err, &target)

	// the session is gone, the next request starts over
	rec := httptest.NewRecorder()
	result, err = m.Authenticate(rec, jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, result.Status)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, func(cfg *Config) {
		cfg.TokenAutoRefresh = true
	})
	jar := newCookieJar()

	result, _ := login(t, m, provider, jar, 1, "")
	require.Equal(t, StatusSuccess, result.Status)

	result, err := m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/secure"), true)
	require.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, 1, provider.TokenRequestCount())
}

func TestExpiredTokenLogout(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, func(cfg *Config) {
		cfg.Logout.AccessTokenExpiry = true
	})
	jar := newCookieJar()

	result, _ := login(t, m, provider, jar, 1, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	result, err := m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/secure"), true)
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, StatusFailure, result.Status)

	rec := httptest.NewRecorder()
	result, err = m.Authenticate(rec, jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, result.Status)
}

func TestExpiredTokenTolerated(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, nil)
	jar := newCookieJar()

	result, _ := login(t, m, provider, jar, 1, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	// neither auto refresh nor logout on expiry is configured, the
	// stale token is tolerated
	result, err := m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 1, provider.TokenRequestCount())
}

func TestLogoutNotifyProvider(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, func(cfg *Config) {
		cfg.Logout = LogoutConfig{
			NotifyProvider: true,
			RedirectURI:    "http://app.local/bye",
		}
	})
	jar := newCookieJar()

	result, idToken := login(t, m, provider, jar, 3600, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	rec := httptest.NewRecorder()
	result, err := m.Logout(rec, jar.request("http://app.local/logout"))
	require.NoError(t, err)
	jar.update(rec)
	assert.Equal(t, StatusInProgress, result.Status)
	assert.True(t, result.Redirected)
	assert.Equal(t, "http://app.local/bye", rec.Result().Header.Get("Location"))

	require.Len(t, provider.EndSessionRequests, 1)
	form := provider.EndSessionRequests[0]
	assert.Equal(t, idToken, form.Get("id_token_hint"))
	assert.Equal(t, "http://app.local/bye", form.Get("post_logout_redirect_uri"))

	// the session is terminated, the next request starts over
	result, err = m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/secure"), true)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, result.Status)
}

func TestLogoutLocal(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, func(cfg *Config) {
		cfg.Logout = LogoutConfig{RedirectURI: "http://app.local/bye"}
	})
	jar := newCookieJar()

	result, _ := login(t, m, provider, jar, 3600, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	rec := httptest.NewRecorder()
	result, err := m.Logout(rec, jar.request("http://app.local/logout"))
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, result.Status)
	assert.Equal(t, "http://app.local/bye", rec.Result().Header.Get("Location"))
	assert.Empty(t, provider.EndSessionRequests)
}

func TestLogoutWithoutRedirectChallenges(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, nil)

	rec := httptest.NewRecorder()
	result, err := m.Logout(rec, httptest.NewRequest(http.MethodGet, "http://app.local/logout", nil))
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, result.Status)
	location := rec.Result().Header.Get("Location")
	assert.True(t, strings.HasPrefix(location, provider.URL()+"/authorize"))
}

func TestUserinfo(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	provider.UserinfoResponse = &oidc.UserInfo{
		Subject:       "tim",
		UserInfoEmail: oidc.UserInfoEmail{Email: "tim@corp.example", EmailVerified: true},
	}
	m := newTestMechanism(t, provider, nil)
	jar := newCookieJar()

	result, _ := login(t, m, provider, jar, 3600, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	r := jar.request("http://app.local/secure")
	info, err := m.Userinfo(r.Context(), r, result.Subject.Context)
	require.NoError(t, err)
	assert.Equal(t, "tim@corp.example", info.Email)

	// claims are fetched once per context
	again, err := m.Userinfo(r.Context(), r, result.Subject.Context)
	require.NoError(t, err)
	assert.Same(t, info, again)
	assert.Equal(t, 1, provider.UserinfoHits())
}

func TestUserinfoSubjectMismatch(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	provider.UserinfoResponse = &oidc.UserInfo{Subject: "mallory"}
	m := newTestMechanism(t, provider, nil)
	jar := newCookieJar()

	result, _ := login(t, m, provider, jar, 3600, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	r := jar.request("http://app.local/secure")
	_, err := m.Userinfo(r.Context(), r, result.Subject.Context)
	require.ErrorIs(t, err, rp.ErrUserInfoSubNotMatching)
}

func TestStaticEndpointsWithoutProviderURI(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, func(cfg *Config) {
		cfg.ProviderURI = ""
		cfg.Issuer = provider.URL()
		cfg.AuthorizationEndpoint = provider.URL() + "/authorize"
		cfg.TokenEndpoint = provider.URL() + "/oauth/token"
		cfg.UserinfoEndpoint = provider.URL() + "/userinfo"
		cfg.EndSessionEndpoint = provider.URL() + "/end_session"
		cfg.JwksURI = provider.URL() + "/keys"
	})
	jar := newCookieJar()

	result, _ := login(t, m, provider, jar, 3600, "refresh-1")
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "tim", result.Subject.Name)

	// everything came from the configured endpoints
	assert.Zero(t, provider.DiscoveryHits())
}

func TestConcurrentRefresh(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, func(cfg *Config) {
		cfg.TokenAutoRefresh = true
	})
	jar := newCookieJar()

	result, _ := login(t, m, provider, jar, 1, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	// one scripted response, the session lock must make the second
	// request reuse the outcome of the first
	refreshedIDToken := provider.SignIDToken("tim", "", "", time.Now().Add(time.Hour))
	provider.EnqueueTokens(&oidc.AccessTokenResponse{
		AccessToken:  "refreshed-access",
		TokenType:    oidc.BearerToken,
		RefreshToken: "refresh-2",
		ExpiresIn:    3600,
		IDToken:      refreshedIDToken,
	})

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Authenticate(httptest.NewRecorder(), jar.request("http://app.local/secure"), true)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, StatusSuccess, results[i].Status)
	}
	assert.Equal(t, 2, provider.TokenRequestCount())
}

func TestMiddleware(t *testing.T) {
	provider := testutil.NewProvider(t, testClientID)
	m := newTestMechanism(t, provider, nil)
	jar := newCookieJar()

	var seen *Subject
	handler := m.Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// unauthenticated, the middleware redirects and never calls the
	// handler
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, jar.request("http://app.local/secure"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Nil(t, seen)

	result, _ := login(t, m, provider, jar, 3600, "refresh-1")
	require.Equal(t, StatusSuccess, result.Status)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, jar.request("http://app.local/secure"))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "tim", seen.Name)
}
