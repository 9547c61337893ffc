package mechanism

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eclipse-ee4j/soteria-sub000/pkg/oidc"
	"github.com/eclipse-ee4j/soteria-sub000/pkg/rp"
)

// session attribute holding the authenticated OpenID context
const contextKey = "oidc.context"

// ErrNoTokenExpiry is returned when neither the token response nor
// an embedded exp claim provides an access token lifetime.
var ErrNoTokenExpiry = errors.New("access token carries no expiry, neither expires_in nor exp present")

// Context is the OpenID context of an authenticated session: the
// validated tokens, their expiries, and lazily fetched userinfo.
// A Context is immutable after creation; a refresh replaces it.
type Context struct {
	IDToken       string
	IDTokenClaims *oidc.IDTokenClaims

	AccessToken string
	// AccessTokenClaims is nil when the access token is opaque.
	AccessTokenClaims *oidc.AccessTokenClaims
	TokenType         string
	RefreshToken      string

	accessExpiry   time.Time
	identityExpiry time.Time

	mu       sync.Mutex
	userinfo *oidc.UserInfo
}

// newContext validates the expiry sources of the token response and
// builds the session context. The access token is parsed as a JWT on
// a best effort basis, an opaque token is not an error.
func newContext(tokens *oidc.Tokens[*oidc.IDTokenClaims]) (*Context, error) {
	c := &Context{
		IDToken:        tokens.IDToken,
		IDTokenClaims:  tokens.IDTokenClaims,
		AccessToken:    tokens.AccessToken,
		TokenType:      tokens.TokenType,
		RefreshToken:   tokens.RefreshToken,
		identityExpiry: tokens.IDTokenClaims.GetExpiration(),
	}
	var claims oidc.AccessTokenClaims
	if _, err := oidc.ParseToken(tokens.AccessToken, &claims); err == nil {
		c.AccessTokenClaims = &claims
	}

	switch {
	case !tokens.Expiry.IsZero():
		c.accessExpiry = tokens.Expiry
	case c.AccessTokenClaims != nil && !c.AccessTokenClaims.GetExpiration().IsZero():
		c.accessExpiry = c.AccessTokenClaims.GetExpiration()
	default:
		return nil, ErrNoTokenExpiry
	}
	return c, nil
}

// Subject returns the subject of the validated ID token.
func (c *Context) Subject() string {
	return c.IDTokenClaims.GetSubject()
}

// AccessTokenExpired reports whether the access token has less than
// minValidity of lifetime left.
func (c *Context) AccessTokenExpired(now time.Time, minValidity time.Duration) bool {
	return !now.Add(minValidity).Before(c.accessExpiry)
}

// IdentityTokenExpired reports whether the ID token has less than
// minValidity of lifetime left.
func (c *Context) IdentityTokenExpired(now time.Time, minValidity time.Duration) bool {
	return !now.Add(minValidity).Before(c.identityExpiry)
}

// Userinfo fetches the userinfo claims for this context on first
// use and caches them for the lifetime of the context.
func (c *Context) Userinfo(ctx context.Context, relyingParty rp.RelyingParty) (*oidc.UserInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userinfo != nil {
		return c.userinfo, nil
	}
	info, err := rp.Userinfo[*oidc.UserInfo](ctx, c.AccessToken, c.TokenType, c.Subject(), relyingParty)
	if err != nil {
		return nil, err
	}
	c.userinfo = info
	return info, nil
}

// claim looks a named claim up in the ID token first, then in the
// access token when that is a JWT.
func (c *Context) claim(name string) (any, bool) {
	if v, ok := c.IDTokenClaims.Claims[name]; ok {
		return v, true
	}
	if c.AccessTokenClaims != nil {
		if v, ok := c.AccessTokenClaims.Claims[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// CallerName resolves the principal name from the configured claim,
// falling back to the token subject.
func (c *Context) CallerName(claimName string) string {
	if v, ok := c.claim(claimName); ok {
		if name, ok := v.(string); ok && name != "" {
			return name
		}
	}
	return c.Subject()
}

// CallerGroups resolves the group memberships from the configured
// claim. A single string claim is treated as a one-element list.
func (c *Context) CallerGroups(claimName string) []string {
	v, ok := c.claim(claimName)
	if !ok {
		return nil
	}
	switch groups := v.(type) {
	case string:
		if groups == "" {
			return nil
		}
		return []string{groups}
	case []any:
		out := make([]string, 0, len(groups))
		for _, g := range groups {
			if s, ok := g.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return groups
	}
	return nil
}

func sessionContext(session Session) (*Context, bool) {
	value, ok := session.Get(contextKey)
	if !ok {
		return nil, false
	}
	octx, ok := value.(*Context)
	return octx, ok
}
