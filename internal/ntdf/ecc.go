package ntdf

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo labels the DEK derivation so future key uses cannot collide.
var hkdfInfo = []byte("encryption")

// GenerateKeyPair returns a fresh P-256 key for link encryption.
func GenerateKeyPair() (*ecdh.PrivateKey, error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate P-256 key: %w", err)
	}
	return key, nil
}

// CompressPublicKey encodes a P-256 public key as a 33-byte compressed
// point, the only key form links carry.
func CompressPublicKey(pub *ecdh.PublicKey) []byte {
	// ecdh exposes the uncompressed SEC1 form: 0x04 || X(32) || Y(32).
	raw := pub.Bytes()
	x := new(big.Int).SetBytes(raw[1:33])
	y := new(big.Int).SetBytes(raw[33:65])
	return elliptic.MarshalCompressed(elliptic.P256(), x, y)
}

// DecompressPublicKey decodes a 33-byte compressed point back into an
// ecdh public key, rejecting points not on the curve.
func DecompressPublicKey(data []byte) (*ecdh.PublicKey, error) {
	if len(data) != compressedKeyLen {
		return nil, fmt.Errorf("compressed key must be %d bytes, got %d", compressedKeyLen, len(data))
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), data)
	if x == nil {
		return nil, fmt.Errorf("point is not on P-256")
	}

	raw := make([]byte, 65)
	raw[0] = 0x04
	x.FillBytes(raw[1:33])
	y.FillBytes(raw[33:65])

	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("rebuild public key: %w", err)
	}
	return pub, nil
}

// deriveKey turns an ECDH shared secret into the 32-byte AES key for a
// link. Salted with the link magic so other protocols deriving from the
// same secret cannot produce the same key.
func deriveKey(shared []byte) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, shared, magic[:], hkdfInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive link key: %w", err)
	}
	return key, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
