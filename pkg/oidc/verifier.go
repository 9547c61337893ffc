package oidc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// Claims is implemented by all verified token claim sets.
type Claims interface {
	GetIssuer() string
	GetSubject() string
	GetAudience() []string
	GetExpiration() time.Time
	GetIssuedAt() time.Time
	GetNotBefore() time.Time
	GetNonce() string
	GetAuthorizedParty() string
	GetSignatureAlgorithm() jose.SignatureAlgorithm
	SetSignatureAlgorithm(algorithm jose.SignatureAlgorithm)
}

// IDClaims is implemented by claim sets of ID tokens.
type IDClaims interface {
	Claims
	GetAccessTokenHash() string
}

var (
	ErrParse                   = errors.New("parse error")
	ErrIssuerInvalid           = errors.New("issuer does not match")
	ErrSubjectMissing          = errors.New("subject claim is missing or empty")
	ErrAudience                = errors.New("audience is not valid")
	ErrAzpMissing              = errors.New("authorized party is not set. If Token is valid for multiple audiences, azp must not be empty")
	ErrAzpInvalid              = errors.New("authorized party is not valid")
	ErrSignatureMissing        = errors.New("token does not contain a signature")
	ErrSignatureMultiple       = errors.New("token contains multiple signatures")
	ErrSignatureUnsupportedAlg = errors.New("signature algorithm not supported")
	ErrSignatureInvalidPayload = errors.New("signature does not match payload")
	ErrUnsupportedAlgorithm    = errors.New("unsupported signing algorithm")
	ErrExpired                 = errors.New("token has expired")
	ErrIatMissing              = errors.New("issuedAt of token is missing")
	ErrIatInFuture             = errors.New("issuedAt of token is in the future")
	ErrIatToOld                = errors.New("issuedAt of token is too old")
	ErrNbfInFuture             = errors.New("token is not valid yet (nbf)")
	ErrNonceInvalid            = errors.New("nonce does not match")
	ErrAtHash                  = errors.New("at_hash does not correspond to access token")

	// ErrEncryptedToken fails closed: decryption is not
	// implemented, so a JWE can never be accepted.
	ErrEncryptedToken = fmt.Errorf("%w: encrypted tokens are not supported", ErrUnsupportedAlgorithm)
)

// Verifier caches the fixed configuration of a claims verification
// chain. The single concrete checks are exported functions, so the
// different verifier variants can compose them explicitly.
type Verifier struct {
	Issuer            string
	MaxAgeIAT         time.Duration
	Offset            time.Duration
	ClientID          string
	SupportedSignAlgs []string
	KeySet            KeySet
	Nonce             func(ctx context.Context) string
}

// ParseToken decodes the payload of a compact serialized JWS into
// claims and returns the raw payload for later signature checking.
// Encrypted (JWE) tokens fail closed, decryption is not implemented.
func ParseToken(tokenString string, claims any) ([]byte, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) == 5 {
		return nil, ErrEncryptedToken
	}
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: token contains an invalid number of segments", ErrParse)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed jwt payload: %v", ErrParse, err)
	}
	err = json.Unmarshal(payload, claims)
	return payload, err
}

func CheckSubject(claims Claims) error {
	if claims.GetSubject() == "" {
		return ErrSubjectMissing
	}
	return nil
}

func CheckIssuer(claims Claims, issuer string) error {
	if claims.GetIssuer() != issuer {
		return fmt.Errorf("%w, expected: %s, got: %s", ErrIssuerInvalid, issuer, claims.GetIssuer())
	}
	return nil
}

func CheckAudience(claims Claims, clientID string) error {
	audience := claims.GetAudience()
	if len(audience) == 0 {
		return fmt.Errorf("%w: audience is missing", ErrAudience)
	}
	for _, aud := range audience {
		if aud == clientID {
			return nil
		}
	}
	return fmt.Errorf("%w: audience must contain client_id %q", ErrAudience, clientID)
}

func CheckAuthorizedParty(claims Claims, clientID string) error {
	if len(claims.GetAudience()) > 1 {
		if claims.GetAuthorizedParty() == "" {
			return ErrAzpMissing
		}
	}
	if azp := claims.GetAuthorizedParty(); azp != "" && azp != clientID {
		return fmt.Errorf("%w: azp %q must be equal to client_id %q", ErrAzpInvalid, azp, clientID)
	}
	return nil
}

func CheckSignature(ctx context.Context, token string, payload []byte, claims Claims, supportedSigAlgs []string, set KeySet) error {
	jws, err := jose.ParseSigned(token, supportedSignatureAlgorithms(supportedSigAlgs))
	if err != nil {
		if strings.Contains(err.Error(), "unexpected signature algorithm") {
			return fmt.Errorf("%w (%v)", ErrSignatureUnsupportedAlg, err)
		}
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(jws.Signatures) == 0 {
		return ErrSignatureMissing
	}
	if len(jws.Signatures) > 1 {
		return ErrSignatureMultiple
	}
	sig := jws.Signatures[0]

	signedPayload, err := set.VerifySignature(ctx, jws)
	if err != nil {
		return fmt.Errorf("%w (%v)", ErrSignatureInvalidPayload, err)
	}
	if !bytes.Equal(signedPayload, payload) {
		return ErrSignatureInvalidPayload
	}

	claims.SetSignatureAlgorithm(jose.SignatureAlgorithm(sig.Header.Algorithm))
	return nil
}

func supportedSignatureAlgorithms(algs []string) []jose.SignatureAlgorithm {
	if len(algs) == 0 {
		algs = []string{"RS256"}
	}
	out := make([]jose.SignatureAlgorithm, len(algs))
	for i, alg := range algs {
		out[i] = jose.SignatureAlgorithm(alg)
	}
	return out
}

func CheckExpiration(claims Claims, offset time.Duration) error {
	expiration := claims.GetExpiration().Round(time.Second)
	if !time.Now().Add(-offset).Before(expiration) {
		return ErrExpired
	}
	return nil
}

func CheckIssuedAt(claims Claims, maxAgeIAT, offset time.Duration) error {
	issuedAt := claims.GetIssuedAt().Round(time.Second)
	if issuedAt.IsZero() {
		return ErrIatMissing
	}
	nowWithOffset := time.Now().Add(offset).Round(time.Second)
	if issuedAt.After(nowWithOffset) {
		return fmt.Errorf("%w: (iat: %v, now with offset: %v)", ErrIatInFuture, issuedAt, nowWithOffset)
	}
	if maxAgeIAT == 0 {
		return nil
	}
	maxAge := time.Now().Add(-maxAgeIAT).Round(time.Second)
	if issuedAt.Before(maxAge) {
		return fmt.Errorf("%w: must not be older than %v, but was %v (%v too old)", ErrIatToOld, maxAge, issuedAt, maxAge.Sub(issuedAt))
	}
	return nil
}

func CheckNotBefore(claims Claims, offset time.Duration) error {
	notBefore := claims.GetNotBefore().Round(time.Second)
	if notBefore.IsZero() {
		return nil
	}
	if notBefore.After(time.Now().Add(offset).Round(time.Second)) {
		return ErrNbfInFuture
	}
	return nil
}

// CheckNonce compares the token nonce claim with the expected
// value. When nonce usage is enabled, both sides must be present
// and equal; a missing value on either side is a fatal mismatch.
func CheckNonce(claims Claims, expected string) error {
	if claims.GetNonce() != expected || expected == "" {
		return fmt.Errorf("%w: expected %q but was %q", ErrNonceInvalid, expected, claims.GetNonce())
	}
	return nil
}
