// Package chain builds and validates nested link chains. A chain nests
// outward from the user: an origin link carries user claims, an
// intermediate link carries device claims with the origin as payload,
// and a terminal link minted by the authority carries grant claims
// with the intermediate as payload.
package chain

import (
	"encoding/json"
	"fmt"
	"time"

	"crypto/ecdh"

	"github.com/google/uuid"

	"github.com/arkavo-org/ntdf-go/internal/attest"
	"github.com/arkavo-org/ntdf-go/internal/claims"
	"github.com/arkavo-org/ntdf-go/internal/logx"
	"github.com/arkavo-org/ntdf-go/internal/ntdf"
	"github.com/arkavo-org/ntdf-go/internal/version"
)

// OriginContentType marks an unsigned origin payload.
const OriginContentType = "application/x-ntdf-origin"

// AuthorizationChain is the client-side half of a chain, ready to send
// to the authority for terminal issuance.
type AuthorizationChain struct {
	Origin       []byte
	Intermediate []byte
}

// Builder assembles origin and intermediate links for one recipient.
type Builder struct {
	recipient  *ecdh.PublicKey
	locator    ntdf.Locator
	provider   attest.Provider
	signer     Signer
	appVersion string
	now        func() time.Time
}

type BuilderOption func(*Builder)

// WithSigner makes origin payloads carry a signed envelope instead of
// the plain content marker.
func WithSigner(s Signer) BuilderOption {
	return func(b *Builder) { b.signer = s }
}

// WithAppVersion overrides the app version reported in device claims.
func WithAppVersion(v string) BuilderOption {
	return func(b *Builder) { b.appVersion = v }
}

func NewBuilder(recipient *ecdh.PublicKey, loc ntdf.Locator, provider attest.Provider, opts ...BuilderOption) *Builder {
	b := &Builder{
		recipient:  recipient,
		locator:    loc,
		provider:   provider,
		appVersion: version.Version,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildOriginLink seals user claims into the innermost link of a
// chain. A zero claims timestamp is stamped with the current time.
func (b *Builder) BuildOriginLink(pe claims.PEClaims) ([]byte, error) {
	if pe.Timestamp == 0 {
		pe.Timestamp = b.now().Unix()
	}
	if err := pe.Validate(); err != nil {
		return nil, fmt.Errorf("user claims: %w", err)
	}
	claimsData, err := pe.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode user claims: %w", err)
	}

	payload := []byte(OriginContentType)
	if b.signer != nil {
		sp, err := b.signer.Sign(claimsData, payload)
		if err != nil {
			return nil, fmt.Errorf("sign origin payload: %w", err)
		}
		payload, err = json.Marshal(sp)
		if err != nil {
			return nil, fmt.Errorf("encode signed payload: %w", err)
		}
	}

	return ntdf.Encrypt(b.recipient, b.locator, claimsData, payload)
}

// BuildIntermediateLink wraps an origin link in device claims.
func (b *Builder) BuildIntermediateLink(origin []byte) ([]byte, error) {
	if _, _, err := ntdf.Parse(origin); err != nil {
		return nil, fmt.Errorf("origin link: %w", err)
	}

	npe := b.deviceClaims()
	claimsData, err := npe.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode device claims: %w", err)
	}
	return ntdf.Encrypt(b.recipient, b.locator, claimsData, origin)
}

// BuildChain builds the origin link and wraps it in one call.
func (b *Builder) BuildChain(pe claims.PEClaims) (*AuthorizationChain, error) {
	origin, err := b.BuildOriginLink(pe)
	if err != nil {
		return nil, err
	}
	intermediate, err := b.BuildIntermediateLink(origin)
	if err != nil {
		return nil, err
	}
	return &AuthorizationChain{Origin: origin, Intermediate: intermediate}, nil
}

// deviceClaims asks the provider for identity and posture. When the
// provider fails the chain still builds, with an ephemeral id and an
// unknown posture, never a secure one.
func (b *Builder) deviceClaims() claims.NPEClaims {
	platform := b.provider.Platform()
	id, err := b.provider.GetOrCreateDeviceID()
	state := claims.StateUnknown
	if err != nil {
		logx.Warnf("device identity unavailable, using ephemeral id: %v", err)
		id = attest.DeviceID{Value: uuid.NewString()}
	} else {
		state = b.provider.DetectPlatformState()
		if !id.Attested {
			logx.Debugf("device id %s is not hardware-attested", id.Value)
		}
	}

	return claims.NPEClaims{
		PlatformCode:  platform,
		PlatformState: state,
		DeviceID:      id.Value,
		AppVersion:    b.appVersion,
		Timestamp:     b.now().Unix(),
	}
}
