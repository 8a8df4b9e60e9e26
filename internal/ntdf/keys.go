package ntdf

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
)

// MarshalKASKey encodes a link-encryption private key as its hex
// scalar, the storage form used by key stores and the server database.
func MarshalKASKey(priv *ecdh.PrivateKey) []byte {
	return []byte(hex.EncodeToString(priv.Bytes()))
}

// ParseKASKey decodes a hex scalar produced by MarshalKASKey.
func ParseKASKey(data []byte) (*ecdh.PrivateKey, error) {
	scalar, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key hex: %w", err)
	}
	if len(scalar) != 32 {
		return nil, fmt.Errorf("key scalar must be 32 bytes, got %d", len(scalar))
	}
	priv, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		return nil, fmt.Errorf("load P-256 key: %w", err)
	}
	return priv, nil
}

// GenerateSigningKey returns a fresh P-256 key for payload signatures.
func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return key, nil
}

// MarshalSigningKey encodes a signing key as a PKCS#8 PEM block.
func MarshalSigningKey(priv *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("encode signing key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParseSigningKey decodes a PKCS#8 PEM block into a P-256 ECDSA key.
func ParseSigningKey(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signing key is not PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is %T, want ECDSA", parsed)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key curve is %s, want P-256", key.Curve.Params().Name)
	}
	return key, nil
}
