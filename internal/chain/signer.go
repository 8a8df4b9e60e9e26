package chain

import (
	"crypto/ecdsa"
	"time"

	"github.com/arkavo-org/ntdf-go/internal/ntdf"
)

// Signer produces signed origin payload envelopes.
type Signer interface {
	Sign(claimsData, payload []byte) (*ntdf.SignedPayload, error)
}

// ECDSASigner signs origin payloads with a P-256 key.
type ECDSASigner struct {
	key *ecdsa.PrivateKey
	now func() time.Time
}

func NewECDSASigner(key *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{key: key, now: time.Now}
}

func (s *ECDSASigner) Sign(claimsData, payload []byte) (*ntdf.SignedPayload, error) {
	return ntdf.SignPayload(s.key, claimsData, payload, s.now())
}
