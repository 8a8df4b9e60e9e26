package ntdf

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"
)

// AlgorithmES256 is the only signature algorithm signed payloads carry.
const AlgorithmES256 = "ES256"

const signatureLen = 64

// SignedPayload wraps a link payload with an ECDSA signature that also
// covers the claims the link binds to, so payload and policy cannot be
// recombined across links.
type SignedPayload struct {
	Data      []byte `json:"data"`
	Signature []byte `json:"signature"` // r(32) || s(32)
	PublicKey []byte `json:"publicKey"` // 33-byte compressed point
	Timestamp int64  `json:"timestamp"`
	Algorithm string `json:"algorithm"`
}

// SignPayload signs data together with the claims encoding it will be
// sealed alongside.
func SignPayload(key *ecdsa.PrivateKey, claimsData, data []byte, now time.Time) (*SignedPayload, error) {
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key curve is %s, want P-256", key.Curve.Params().Name)
	}

	digest := signingDigest(claimsData, data)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}

	sig := make([]byte, signatureLen)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	return &SignedPayload{
		Data:      data,
		Signature: sig,
		PublicKey: elliptic.MarshalCompressed(elliptic.P256(), key.X, key.Y),
		Timestamp: now.Unix(),
		Algorithm: AlgorithmES256,
	}, nil
}

// Verify checks the signature against the claims encoding the payload
// was sealed with.
func (p *SignedPayload) Verify(claimsData []byte) error {
	if p.Algorithm != AlgorithmES256 {
		return fmt.Errorf("%w: unknown algorithm %q", ErrSignatureInvalid, p.Algorithm)
	}
	if len(p.Signature) != signatureLen {
		return fmt.Errorf("%w: signature is %d bytes, want %d", ErrSignatureInvalid, len(p.Signature), signatureLen)
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), p.PublicKey)
	if x == nil {
		return fmt.Errorf("%w: public key is not on P-256", ErrSignatureInvalid)
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	digest := signingDigest(claimsData, p.Data)
	r := new(big.Int).SetBytes(p.Signature[:32])
	s := new(big.Int).SetBytes(p.Signature[32:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrSignatureInvalid
	}
	return nil
}

func signingDigest(claimsData, data []byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write(claimsData)
	h.Write(data)
	var digest [sha256.Size]byte
	copy(digest[:], h.Sum(nil))
	return digest
}
