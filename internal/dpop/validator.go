package dpop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/patrickmn/go-cache"
)

// Validator checks DPoP proofs against an expected request and tracks
// seen proof ids for replay protection.
type Validator struct {
	skew time.Duration
	seen *cache.Cache
	now  func() time.Time
}

type ValidatorOption func(*Validator)

// WithSkew sets the accepted iat window around now. The replay cache
// remembers ids for twice the skew, past the point a proof could still
// be fresh.
func WithSkew(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.skew = d }
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{skew: time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	ttl := 2 * v.skew
	v.seen = cache.New(ttl, ttl)
	return v
}

type validateOptions struct {
	accessToken string
}

type ValidateOption func(*validateOptions)

// WithExpectedAccessToken requires the proof's ath to match the token
// the request presented.
func WithExpectedAccessToken(token string) ValidateOption {
	return func(o *validateOptions) { o.accessToken = token }
}

// Validate checks the proof for the given request. Signature and shape
// come first; the replay check runs last so a rejected proof never
// burns its id.
func (v *Validator) Validate(proof, method, rawurl string, opts ...ValidateOption) (*Claims, error) {
	var o validateOptions
	for _, opt := range opts {
		opt(&o)
	}

	jws, err := jose.ParseSigned(proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProofMalformed, err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("%w: want exactly one signature", ErrProofMalformed)
	}
	hdr := jws.Signatures[0].Protected

	typ, _ := hdr.ExtraHeaders[jose.HeaderType].(string)
	if typ != proofType {
		return nil, fmt.Errorf("%w: typ is %q, want %q", ErrProofMalformed, typ, proofType)
	}
	if hdr.Algorithm != string(jose.ES256) {
		return nil, fmt.Errorf("%w: alg is %q, want ES256", ErrProofMalformed, hdr.Algorithm)
	}
	jwk := hdr.JSONWebKey
	if jwk == nil {
		return nil, fmt.Errorf("%w: missing jwk header", ErrProofMalformed)
	}
	if !jwk.IsPublic() {
		return nil, fmt.Errorf("%w: jwk header carries a private key", ErrProofMalformed)
	}
	pub, ok := jwk.Key.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: jwk is not a P-256 key", ErrProofMalformed)
	}

	payload, err := jws.Verify(jwk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrProofMalformed, err)
	}
	if claims.ID == "" || claims.Method == "" || claims.URL == "" || claims.IssuedAt == 0 {
		return nil, fmt.Errorf("%w: missing required claim", ErrProofMalformed)
	}

	if claims.Method != strings.ToUpper(method) {
		return nil, fmt.Errorf("%w: htm is %q, want %q", ErrProofBindingMismatch, claims.Method, strings.ToUpper(method))
	}
	htu, err := normalizeHTU(rawurl)
	if err != nil {
		return nil, err
	}
	if claims.URL != htu {
		return nil, fmt.Errorf("%w: htu is %q, want %q", ErrProofBindingMismatch, claims.URL, htu)
	}

	iat := time.Unix(claims.IssuedAt, 0)
	now := v.now()
	if iat.Before(now.Add(-v.skew)) || iat.After(now.Add(v.skew)) {
		return nil, fmt.Errorf("%w: iat %d", ErrProofExpired, claims.IssuedAt)
	}

	if o.accessToken != "" {
		want := HashAccessToken(o.accessToken)
		if subtle.ConstantTimeCompare([]byte(claims.TokenHash), []byte(want)) != 1 {
			return nil, ErrProofBindingMismatch
		}
	}

	if err := v.seen.Add(claims.ID, struct{}{}, cache.DefaultExpiration); err != nil {
		return nil, fmt.Errorf("%w: jti %s", ErrProofReplayed, claims.ID)
	}

	return &claims, nil
}
