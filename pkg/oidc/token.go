package oidc

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/oauth2"
)

const (
	// BearerToken is the token_type the engine accepts and sends.
	BearerToken = "Bearer"
)

// TokenClaims holds the registered JWT claims shared by
// ID tokens and JWT-formatted access tokens.
type TokenClaims struct {
	Issuer          string   `json:"iss,omitempty"`
	Subject         string   `json:"sub,omitempty"`
	Audience        Audience `json:"aud,omitempty"`
	Expiration      Time     `json:"exp,omitempty"`
	IssuedAt        Time     `json:"iat,omitempty"`
	NotBefore       Time     `json:"nbf,omitempty"`
	Nonce           string   `json:"nonce,omitempty"`
	AuthorizedParty string   `json:"azp,omitempty"`
	JWTID           string   `json:"jti,omitempty"`

	// SignatureAlg is set by the signature verifier after
	// a successful check, it is not part of the wire format.
	SignatureAlg jose.SignatureAlgorithm `json:"-"`
}

func (c *TokenClaims) GetIssuer() string                              { return c.Issuer }
func (c *TokenClaims) GetSubject() string                             { return c.Subject }
func (c *TokenClaims) GetAudience() []string                          { return c.Audience }
func (c *TokenClaims) GetExpiration() time.Time                       { return c.Expiration.AsTime() }
func (c *TokenClaims) GetIssuedAt() time.Time                         { return c.IssuedAt.AsTime() }
func (c *TokenClaims) GetNotBefore() time.Time                        { return c.NotBefore.AsTime() }
func (c *TokenClaims) GetNonce() string                               { return c.Nonce }
func (c *TokenClaims) GetAuthorizedParty() string                     { return c.AuthorizedParty }
func (c *TokenClaims) GetSignatureAlgorithm() jose.SignatureAlgorithm { return c.SignatureAlg }
func (c *TokenClaims) SetSignatureAlgorithm(algorithm jose.SignatureAlgorithm) {
	c.SignatureAlg = algorithm
}

// IDTokenClaims is the parsed payload of an ID Token.
// Claims carries the complete raw claim set, so callers can read
// custom claims such as the caller-groups claim.
type IDTokenClaims struct {
	TokenClaims
	AccessTokenHash string `json:"at_hash,omitempty"`

	Claims map[string]any `json:"-"`
}

func (c *IDTokenClaims) GetAccessTokenHash() string { return c.AccessTokenHash }

func (c *IDTokenClaims) UnmarshalJSON(data []byte) error {
	return unmarshalJSONMulti(data, (*itcAlias)(c), &c.Claims)
}

func (c *IDTokenClaims) MarshalJSON() ([]byte, error) {
	return mergeAndMarshalClaims((*itcAlias)(c), c.Claims)
}

// itcAlias breaks the marshaler recursion on IDTokenClaims.
type itcAlias IDTokenClaims

// AccessTokenClaims is the parsed payload of a JWT-formatted
// access token. Opaque access tokens have no claims.
type AccessTokenClaims struct {
	TokenClaims
	Scopes SpaceDelimitedArray `json:"scope,omitempty"`

	Claims map[string]any `json:"-"`
}

func (c *AccessTokenClaims) UnmarshalJSON(data []byte) error {
	return unmarshalJSONMulti(data, (*atcAlias)(c), &c.Claims)
}

func (c *AccessTokenClaims) MarshalJSON() ([]byte, error) {
	return mergeAndMarshalClaims((*atcAlias)(c), c.Claims)
}

type atcAlias AccessTokenClaims

// AccessTokenResponse is the JSON document returned by the
// token endpoint for both the code and the refresh exchange.
type AccessTokenResponse struct {
	AccessToken  string              `json:"access_token,omitempty" schema:"access_token,omitempty"`
	TokenType    string              `json:"token_type,omitempty" schema:"token_type,omitempty"`
	RefreshToken string              `json:"refresh_token,omitempty" schema:"refresh_token,omitempty"`
	ExpiresIn    uint64              `json:"expires_in,omitempty" schema:"expires_in,omitempty"`
	IDToken      string              `json:"id_token,omitempty" schema:"id_token,omitempty"`
	Scope        SpaceDelimitedArray `json:"scope,omitempty" schema:"scope,omitempty"`
	State        string              `json:"state,omitempty" schema:"state,omitempty"`
}

// Tokens aggregates the outcome of a successful exchange:
// the oauth2 token pair plus the verified ID token.
type Tokens[C IDClaims] struct {
	*oauth2.Token
	IDTokenClaims C
	IDToken       string
}

// ClaimHash computes a token-binding hash as used by the
// `at_hash` claim: the left half of the digest matching the
// signature algorithm strength, raw base64url encoded.
func ClaimHash(claim string, sigAlgorithm jose.SignatureAlgorithm) (string, error) {
	hash, err := GetHashAlgorithm(sigAlgorithm)
	if err != nil {
		return "", err
	}

	return HashString(hash, claim, true), nil
}

func GetHashAlgorithm(sigAlgorithm jose.SignatureAlgorithm) (hash.Hash, error) {
	switch sigAlgorithm {
	case jose.RS256, jose.ES256, jose.PS256, jose.HS256:
		return sha256.New(), nil
	case jose.RS384, jose.ES384, jose.PS384, jose.HS384:
		return sha512.New384(), nil
	case jose.RS512, jose.ES512, jose.PS512, jose.HS512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, sigAlgorithm)
	}
}

func HashString(hash hash.Hash, s string, firstHalf bool) string {
	hash.Write([]byte(s)) // hash documents that Write will never return an error
	size := hash.Size()
	if firstHalf {
		size = size / 2
	}
	sum := hash.Sum(nil)[:size]
	return base64.RawURLEncoding.EncodeToString(sum)
}

func (a *AccessTokenResponse) UnmarshalJSON(data []byte) error {
	type Alias AccessTokenResponse
	aux := &struct {
		ExpiresIn json.Number `json:"expires_in,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.ExpiresIn != "" {
		exp, err := aux.ExpiresIn.Float64()
		if err != nil {
			return err
		}
		a.ExpiresIn = uint64(exp)
	}
	return nil
}
