package mechanism

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eclipse-ee4j/soteria-sub000/pkg/oidc"
)

// BaseURLPlaceholder in the redirect URI is replaced with the
// effective scheme and host of the current request.
const BaseURLPlaceholder = "${baseURL}"

const (
	defaultRedirectURI       = BaseURLPlaceholder + "/Callback"
	defaultCallerNameClaim   = "preferred_username"
	defaultCallerGroupsClaim = "groups"
	defaultJWKSTimeout       = 500 * time.Millisecond
	defaultTokenMinValidity  = 10 * time.Second
)

var defaultScopes = []string{"openid", "email", "profile"}

// ErrConfigInvalid is wrapped by all configuration errors reported
// at construction time.
var ErrConfigInvalid = errors.New("invalid openid configuration")

// LogoutConfig controls what happens when a session ends.
type LogoutConfig struct {
	// NotifyProvider redirects to the provider's end_session
	// endpoint on logout, with the ID token as hint.
	NotifyProvider bool

	// RedirectURI is where the user agent ends up after logout,
	// sent as post_logout_redirect_uri when the provider is
	// notified, used directly otherwise. Empty means a new
	// authentication redirect is issued instead.
	RedirectURI string

	// AccessTokenExpiry and IdentityTokenExpiry make the expiry of
	// the respective token terminate the session when auto refresh
	// is off.
	AccessTokenExpiry   bool
	IdentityTokenExpiry bool
}

// Config is the static client configuration of the mechanism.
// NewMechanism applies the documented defaults to zero fields.
type Config struct {
	// ProviderURI is the issuer. Discovery runs against it unless
	// all static endpoints below are set.
	ProviderURI  string
	ClientID     string
	ClientSecret string

	// RedirectURI may contain the ${baseURL} placeholder.
	// Default "${baseURL}/Callback".
	RedirectURI string

	// Scopes default to openid, email, profile. The openid scope
	// is added when missing.
	Scopes []string

	// ResponseType of the authorization request. Only the code
	// flow is supported. Default "code".
	ResponseType string

	ResponseMode string
	Display      string
	Prompt       []string

	// ExtraParams are additional authorization request parameters
	// in key=value form.
	ExtraParams []string

	// UseNonce enables replay protection via the nonce claim.
	UseNonce bool

	// UseSession selects session-backed storage for state, nonce
	// and original request. When false, encrypted cookies carry
	// them instead and the cookie keys below are required.
	UseSession       bool
	CookieHashKey    []byte
	CookieEncryptKey []byte
	// InsecureCookies drops the Secure cookie attribute, for
	// plain-http development setups only.
	InsecureCookies bool

	JWKSConnectTimeout time.Duration
	JWKSReadTimeout    time.Duration

	CallerNameClaim   string
	CallerGroupsClaim string

	// TokenAutoRefresh refreshes expired tokens transparently
	// using the refresh token.
	TokenAutoRefresh bool

	// TokenMinValidity is the remaining lifetime under which a
	// token already counts as expired. Default 10s.
	TokenMinValidity time.Duration

	// RedirectToOriginalResource replays the originally requested
	// URL after a successful callback.
	RedirectToOriginalResource bool

	Logout LogoutConfig

	// Static endpoints. When authorization, token and jwks are all
	// set, discovery is skipped; ProviderURI may then be left empty
	// and Issuer names the expected id_token issuer instead.
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserinfoEndpoint      string
	EndSessionEndpoint    string
	JwksURI               string
}

func (c *Config) applyDefaults() {
	if c.RedirectURI == "" {
		c.RedirectURI = defaultRedirectURI
	}
	if len(c.Scopes) == 0 {
		c.Scopes = defaultScopes
	}
	if c.ResponseType == "" {
		c.ResponseType = string(oidc.ResponseTypeCode)
	}
	if !contains(c.Scopes, "openid") {
		c.Scopes = append([]string{"openid"}, c.Scopes...)
	}
	if c.CallerNameClaim == "" {
		c.CallerNameClaim = defaultCallerNameClaim
	}
	if c.CallerGroupsClaim == "" {
		c.CallerGroupsClaim = defaultCallerGroupsClaim
	}
	if c.JWKSConnectTimeout == 0 {
		c.JWKSConnectTimeout = defaultJWKSTimeout
	}
	if c.JWKSReadTimeout == 0 {
		c.JWKSReadTimeout = defaultJWKSTimeout
	}
	if c.TokenMinValidity == 0 {
		c.TokenMinValidity = defaultTokenMinValidity
	}
}

func (c *Config) staticEndpoints() bool {
	return c.AuthorizationEndpoint != "" && c.TokenEndpoint != "" && c.JwksURI != ""
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrConfigInvalid)
	}
	if c.ProviderURI == "" && !(c.staticEndpoints() && c.Issuer != "") {
		return fmt.Errorf("%w: provider uri is required unless static endpoints and an issuer are set", ErrConfigInvalid)
	}
	if c.ResponseType != "" && c.ResponseType != string(oidc.ResponseTypeCode) {
		return fmt.Errorf("%w: response type %q is not supported", ErrConfigInvalid, c.ResponseType)
	}
	if !c.UseSession && (len(c.CookieHashKey) == 0 || len(c.CookieEncryptKey) == 0) {
		return fmt.Errorf("%w: cookie keys are required when the session is not used", ErrConfigInvalid)
	}
	for _, param := range c.ExtraParams {
		if !strings.Contains(param, "=") {
			return fmt.Errorf("%w: extra parameter %q is not in key=value form", ErrConfigInvalid, param)
		}
	}
	return nil
}

// extraParamPairs splits the configured extra parameters on the
// first equals sign. validate has already rejected malformed ones.
func (c *Config) extraParamPairs() [][2]string {
	pairs := make([][2]string, 0, len(c.ExtraParams))
	for _, param := range c.ExtraParams {
		key, value, _ := strings.Cut(param, "=")
		pairs = append(pairs, [2]string{key, value})
	}
	return pairs
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
