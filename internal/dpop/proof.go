// Package dpop signs and validates DPoP proofs (RFC 9449): short-lived
// JWTs proving possession of the key a request is bound to.
package dpop

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
)

const proofType = "dpop+jwt"

// Claims is the payload of a DPoP proof.
type Claims struct {
	ID        string `json:"jti"`
	Method    string `json:"htm"`
	URL       string `json:"htu"`
	IssuedAt  int64  `json:"iat"`
	TokenHash string `json:"ath,omitempty"`
}

type signOptions struct {
	accessToken string
	now         func() time.Time
}

type SignOption func(*signOptions)

// WithAccessToken binds the proof to an access token via the ath claim.
func WithAccessToken(token string) SignOption {
	return func(o *signOptions) { o.accessToken = token }
}

// WithClock overrides the iat clock, for tests.
func WithClock(now func() time.Time) SignOption {
	return func(o *signOptions) { o.now = now }
}

// Sign produces a compact DPoP proof for one request. The signing key
// is embedded in the header as a public JWK.
func Sign(key *ecdsa.PrivateKey, method, rawurl string, opts ...SignOption) (string, error) {
	o := signOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	htu, err := normalizeHTU(rawurl)
	if err != nil {
		return "", err
	}

	claims := Claims{
		ID:       uuid.NewString(),
		Method:   strings.ToUpper(method),
		URL:      htu,
		IssuedAt: o.now().Unix(),
	}
	if o.accessToken != "" {
		claims.TokenHash = HashAccessToken(o.accessToken)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode proof claims: %w", err)
	}

	opts2 := (&jose.SignerOptions{EmbedJWK: true}).WithType(proofType)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, opts2)
	if err != nil {
		return "", fmt.Errorf("create proof signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign proof: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serialize proof: %w", err)
	}
	return compact, nil
}

// HashAccessToken computes the ath claim value for a token.
func HashAccessToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// normalizeHTU strips the fragment from the htu claim. Scheme, host,
// path, and query all stay: the proof binds the exact URL.
func normalizeHTU(rawurl string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", fmt.Errorf("parse proof URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("proof URL %q must be absolute", rawurl)
	}
	u.Fragment = ""
	return u.String(), nil
}
