// Package attest supplies device identity and integrity posture for
// chain building, and verifies attestation evidence on the authority
// side.
package attest

import (
	"context"

	"github.com/arkavo-org/ntdf-go/internal/claims"
)

// DeviceID is a stable device identifier. Attested is true only when
// the identifier was produced by a measured TEE runtime rather than
// generated locally.
type DeviceID struct {
	Value    string
	Attested bool
}

// Provider answers the device questions a chain builder asks.
type Provider interface {
	GetOrCreateDeviceID() (DeviceID, error)
	DetectPlatformState() claims.PlatformState
	Platform() claims.Platform
}

// Collector fetches the local attestation bundle from the TEE runtime.
type Collector interface {
	Collect(ctx context.Context) (Bundle, error)
}

// Verifier validates attestation bundles in strict mode.
type Verifier interface {
	Verify(ctx context.Context, b Bundle) (VerifiedIdentity, error)
}
