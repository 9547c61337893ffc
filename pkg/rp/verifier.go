package rp

import (
	"context"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/eclipse-ee4j/soteria-sub000/pkg/oidc"
)

// IDTokenVerifier holds the fixed configuration of the ID token
// check chain.
type IDTokenVerifier oidc.Verifier

// NewIDTokenVerifier returns a verifier suitable for ID token verification.
func NewIDTokenVerifier(issuer, clientID string, keySet oidc.KeySet, options ...VerifierOption) *IDTokenVerifier {
	v := &IDTokenVerifier{
		Issuer:   issuer,
		ClientID: clientID,
		KeySet:   keySet,
		Offset:   time.Minute,
		Nonce: func(_ context.Context) string {
			return ""
		},
	}

	for _, opts := range options {
		opts(v)
	}

	return v
}

// VerifierOption is the type for providing dynamic options to the IDTokenVerifier
type VerifierOption func(*IDTokenVerifier)

// WithIssuedAtOffset mitigates the risk of iat to be in the future
// because of clock skews with the ability to add an offset to the current time
func WithIssuedAtOffset(offset time.Duration) VerifierOption {
	return func(v *IDTokenVerifier) {
		v.Offset = offset
	}
}

// WithIssuedAtMaxAge provides the ability to define the maximum duration between iat and now
func WithIssuedAtMaxAge(maxAge time.Duration) VerifierOption {
	return func(v *IDTokenVerifier) {
		v.MaxAgeIAT = maxAge
	}
}

// WithVerifierNonce sets the function used to look up the expected
// nonce hash during verification. An empty return disables the
// nonce check.
func WithVerifierNonce(nonce func(context.Context) string) VerifierOption {
	return func(v *IDTokenVerifier) {
		v.Nonce = nonce
	}
}

// WithSupportedSigningAlgorithms overwrites the default RS256 signing algorithm
func WithSupportedSigningAlgorithms(algs ...string) VerifierOption {
	return func(v *IDTokenVerifier) {
		v.SupportedSignAlgs = algs
	}
}

// VerifyTokens implement the Token Response Validation as defined in OIDC specification
// https://openid.net/specs/openid-connect-core-1_0.html#TokenResponseValidation
func VerifyTokens[C oidc.IDClaims](ctx context.Context, accessToken, idToken string, v *IDTokenVerifier) (claims C, err error) {
	ctx, span := Tracer.Start(ctx, "VerifyTokens")
	defer span.End()

	var nilClaims C

	claims, err = VerifyIDToken[C](ctx, idToken, v)
	if err != nil {
		return nilClaims, err
	}
	if err := VerifyAccessToken(accessToken, claims.GetAccessTokenHash(), claims.GetSignatureAlgorithm()); err != nil {
		return nilClaims, err
	}
	return claims, nil
}

// VerifyIDToken validates the id token according to
// https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func VerifyIDToken[C oidc.Claims](ctx context.Context, token string, v *IDTokenVerifier) (claims C, err error) {
	ctx, span := Tracer.Start(ctx, "VerifyIDToken")
	defer span.End()

	var nilClaims C

	payload, err := oidc.ParseToken(token, &claims)
	if err != nil {
		return nilClaims, err
	}

	if err := oidc.CheckSubject(claims); err != nil {
		return nilClaims, err
	}

	if err = oidc.CheckIssuer(claims, v.Issuer); err != nil {
		return nilClaims, err
	}

	if err = oidc.CheckAudience(claims, v.ClientID); err != nil {
		return nilClaims, err
	}

	if err = oidc.CheckAuthorizedParty(claims, v.ClientID); err != nil {
		return nilClaims, err
	}

	if err = oidc.CheckSignature(ctx, token, payload, claims, v.SupportedSignAlgs, v.KeySet); err != nil {
		return nilClaims, err
	}

	if err = oidc.CheckExpiration(claims, v.Offset); err != nil {
		return nilClaims, err
	}

	if err = oidc.CheckIssuedAt(claims, v.MaxAgeIAT, v.Offset); err != nil {
		return nilClaims, err
	}

	if err = oidc.CheckNotBefore(claims, v.Offset); err != nil {
		return nilClaims, err
	}

	if expected := v.Nonce(ctx); expected != "" {
		if err = oidc.CheckNonce(claims, expected); err != nil {
			return nilClaims, err
		}
	}

	return claims, nil
}

// VerifyRefreshedIDToken validates an ID token received through the
// refresh exchange. Instead of the nonce check, the claims must be
// consistent with the previously held ID token: issuer, subject,
// audience and authorized party must not change, and iat must be
// present.
// https://openid.net/specs/openid-connect-core-1_0.html#RefreshTokenResponse
func VerifyRefreshedIDToken[C oidc.IDClaims](ctx context.Context, token string, previous oidc.IDClaims, v *IDTokenVerifier) (claims C, err error) {
	ctx, span := Tracer.Start(ctx, "VerifyRefreshedIDToken")
	defer span.End()

	var nilClaims C

	payload, err := oidc.ParseToken(token, &claims)
	if err != nil {
		return nilClaims, err
	}

	if err = oidc.CheckSignature(ctx, token, payload, claims, v.SupportedSignAlgs, v.KeySet); err != nil {
		return nilClaims, err
	}

	if err = oidc.CheckExpiration(claims, v.Offset); err != nil {
		return nilClaims, err
	}

	// CheckIssuedAt rejects a zero iat.
	if err = oidc.CheckIssuedAt(claims, v.MaxAgeIAT, v.Offset); err != nil {
		return nilClaims, err
	}

	if err = checkRefreshConsistency(claims, previous); err != nil {
		return nilClaims, err
	}

	return claims, nil
}

// ErrRefreshInconsistent is returned when a refreshed ID token
// asserts a different identity than the token it replaces.
var ErrRefreshInconsistent = errors.New("refreshed id_token claims are inconsistent with the previous id_token")

func checkRefreshConsistency(claims oidc.Claims, previous oidc.IDClaims) error {
	if claims.GetIssuer() != previous.GetIssuer() {
		return fmt.Errorf("%w: issuer changed", ErrRefreshInconsistent)
	}
	if claims.GetSubject() != previous.GetSubject() {
		return fmt.Errorf("%w: subject changed", ErrRefreshInconsistent)
	}
	if !equalAudience(claims.GetAudience(), previous.GetAudience()) {
		return fmt.Errorf("%w: audience changed", ErrRefreshInconsistent)
	}
	if claims.GetAuthorizedParty() != previous.GetAuthorizedParty() {
		return fmt.Errorf("%w: azp changed", ErrRefreshInconsistent)
	}
	return nil
}

func equalAudience(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// VerifyAccessToken validates the access token according to
// https://openid.net/specs/openid-connect-core-1_0.html#CodeFlowTokenValidation
func VerifyAccessToken(accessToken, atHash string, sigAlgorithm jose.SignatureAlgorithm) error {
	if atHash == "" {
		return nil
	}

	actual, err := oidc.ClaimHash(accessToken, sigAlgorithm)
	if err != nil {
		return err
	}
	if actual != atHash {
		return oidc.ErrAtHash
	}
	return nil
}
