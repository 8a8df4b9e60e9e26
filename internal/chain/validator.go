package chain

import (
	"bytes"
	"crypto/ecdh"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arkavo-org/ntdf-go/internal/claims"
	"github.com/arkavo-org/ntdf-go/internal/ntdf"
)

// Policy controls what a Validator accepts beyond cryptographic
// soundness.
type Policy struct {
	// Skew bounds how far user and device claim timestamps may drift
	// from the validator clock, in both directions.
	Skew time.Duration

	// AllowJailbroken admits devices reporting a jailbroken or
	// debug-mode posture.
	AllowJailbroken bool

	// TreatUnknownAsJailbroken rejects devices that cannot report a
	// posture at all.
	TreatUnknownAsJailbroken bool

	// Audience, when set, must match the audience of terminal links.
	Audience string
}

// DefaultPolicy allows one minute of clock drift and admits unknown
// postures.
func DefaultPolicy() Policy {
	return Policy{Skew: time.Minute}
}

// PairResult is a successfully validated origin/intermediate pair.
type PairResult struct {
	Device claims.NPEClaims
	User   claims.PEClaims
}

// ValidatedChain is a successfully validated full chain.
type ValidatedChain struct {
	Terminal claims.TerminalClaims
	Device   claims.NPEClaims
	User     claims.PEClaims
}

// Validator opens chains with the key access server private key and
// enforces a Policy over the decrypted claims.
type Validator struct {
	key    *ecdh.PrivateKey
	policy Policy
	now    func() time.Time
}

func NewValidator(key *ecdh.PrivateKey, policy Policy) *Validator {
	return &Validator{key: key, policy: policy, now: time.Now}
}

// ExtractInnerLink checks that a decrypted payload is itself a link
// and returns it.
func ExtractInnerLink(payload []byte) ([]byte, error) {
	if _, _, err := ntdf.Parse(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotNested, err)
	}
	return payload, nil
}

// ValidatePair opens an intermediate link and the origin nested inside
// it, checking freshness and device posture. Outer layers are checked
// before inner ones, so a stale device claim fails before the origin
// is even opened.
func (v *Validator) ValidatePair(intermediate []byte) (*PairResult, error) {
	interLink, err := ntdf.Decrypt(v.key, intermediate)
	if err != nil {
		return nil, fmt.Errorf("intermediate link: %w", err)
	}

	device, err := claims.DecodeNPE(interLink.Claims)
	if err != nil {
		return nil, fmt.Errorf("%w: device claims: %v", ntdf.ErrMalformedLink, err)
	}
	if err := device.ValidateFresh(v.now(), v.policy.Skew); err != nil {
		return nil, fmt.Errorf("device claims: %w", err)
	}
	if err := v.checkPosture(device.PlatformState); err != nil {
		return nil, err
	}

	origin, err := ExtractInnerLink(interLink.Payload)
	if err != nil {
		return nil, fmt.Errorf("intermediate payload: %w", err)
	}
	originLink, err := ntdf.Decrypt(v.key, origin)
	if err != nil {
		return nil, fmt.Errorf("origin link: %w", err)
	}

	user, err := claims.DecodePE(originLink.Claims)
	if err != nil {
		return nil, fmt.Errorf("%w: user claims: %v", ntdf.ErrMalformedLink, err)
	}
	if err := user.ValidateFresh(v.now(), v.policy.Skew); err != nil {
		return nil, fmt.Errorf("user claims: %w", err)
	}

	if err := checkOriginPayload(originLink); err != nil {
		return nil, err
	}

	return &PairResult{Device: device, User: user}, nil
}

// ValidateChain opens a terminal link and the pair nested inside it.
// Terminal expiry is absolute; skew does not extend it.
func (v *Validator) ValidateChain(terminal []byte) (*ValidatedChain, error) {
	termLink, err := ntdf.Decrypt(v.key, terminal)
	if err != nil {
		return nil, fmt.Errorf("terminal link: %w", err)
	}

	grant, err := claims.DecodeTerminal(termLink.Claims)
	if err != nil {
		return nil, fmt.Errorf("%w: terminal claims: %v", ntdf.ErrMalformedLink, err)
	}
	if err := grant.ValidateAt(v.now()); err != nil {
		return nil, fmt.Errorf("terminal claims: %w", err)
	}
	if v.policy.Audience != "" && grant.Audience != v.policy.Audience {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAudienceMismatch, grant.Audience, v.policy.Audience)
	}

	intermediate, err := ExtractInnerLink(termLink.Payload)
	if err != nil {
		return nil, fmt.Errorf("terminal payload: %w", err)
	}
	pair, err := v.ValidatePair(intermediate)
	if err != nil {
		return nil, err
	}

	return &ValidatedChain{Terminal: grant, Device: pair.Device, User: pair.User}, nil
}

func (v *Validator) checkPosture(state claims.PlatformState) error {
	if v.policy.AllowJailbroken {
		return nil
	}
	switch state {
	case claims.StateSecure:
		return nil
	case claims.StateUnknown:
		if v.policy.TreatUnknownAsJailbroken {
			return fmt.Errorf("%w: device posture unknown", ErrPlatformRejected)
		}
		return nil
	}
	return fmt.Errorf("%w: device is %s", ErrPlatformRejected, state)
}

// checkOriginPayload accepts the plain content marker or a verified
// signed envelope; anything else is malformed.
func checkOriginPayload(origin *ntdf.Link) error {
	if bytes.Equal(origin.Payload, []byte(OriginContentType)) {
		return nil
	}
	if sp := parseSignedPayload(origin.Payload); sp != nil {
		if err := sp.Verify(origin.Claims); err != nil {
			return fmt.Errorf("origin payload: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: unrecognized origin payload", ntdf.ErrMalformedLink)
}

// parseSignedPayload detects a signed envelope. The plain content
// marker is not valid JSON, so a leading brace plus the required
// fields is unambiguous.
func parseSignedPayload(payload []byte) *ntdf.SignedPayload {
	if len(payload) == 0 || payload[0] != '{' {
		return nil
	}
	var sp ntdf.SignedPayload
	if err := json.Unmarshal(payload, &sp); err != nil {
		return nil
	}
	if sp.Algorithm == "" || len(sp.Signature) == 0 {
		return nil
	}
	return &sp
}
