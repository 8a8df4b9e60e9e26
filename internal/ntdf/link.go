// Package ntdf implements the L1L link format: a compact encrypted
// container binding a claims policy to a payload under a key access
// server's P-256 key.
//
// Wire layout:
//
//	magic(3) || locator{protocol(1) bodyLen(1) body} || curve(1) ||
//	kasPublicKey(33) || bindingConfig(1) || signatureConfig(1) ||
//	policy{type(1) bodyLen(2 BE) ciphertext binding(16)} ||
//	ephemeralPublicKey(33) ||
//	payload{length(3 BE) nonce(3) ciphertext+tag}
//
// The payload length covers nonce, ciphertext, and tag. One AES-256-GCM
// key is derived per link via ECDH + HKDF; the policy uses the reserved
// all-zero nonce and the payload a random non-zero one.
package ntdf

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

var magic = [3]byte{'L', '1', 'L'}

const (
	curveSecp256r1          byte = 0x00
	bindingHMACSHA256       byte = 0x00
	signatureECDSA256       byte = 0x00
	policyEmbeddedEncrypted byte = 0x02

	compressedKeyLen = 33
	bindingLen       = 16
	nonceLen         = 3
	gcmNonceLen      = 12
	gcmTagLen        = 16

	maxPolicyLen  = 0xFFFF
	maxPayloadLen = 0xFFFFFF
)

// Header is the parsed plaintext portion of a link.
type Header struct {
	Locator         Locator
	Curve           byte
	KASPublicKey    []byte // 33-byte compressed point
	BindingConfig   byte
	SignatureConfig byte
	PolicyType      byte

	// PolicyCiphertext includes the GCM tag. Binding is the truncated
	// HMAC over the decrypted policy body.
	PolicyCiphertext   []byte
	Binding            []byte
	EphemeralPublicKey []byte // 33-byte compressed point
}

// Link is a fully decrypted link.
type Link struct {
	Header  *Header
	Claims  []byte
	Payload []byte
}

// Parse validates the structure of a link without decrypting it and
// returns the header plus the raw payload section (nonce || ct || tag).
// Unknown config bytes, truncation, and trailing data all fail with
// ErrMalformedLink.
func Parse(data []byte) (*Header, []byte, error) {
	r := bytes.NewReader(data)

	m, err := readN(r, len(magic), "magic")
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(m, magic[:]) {
		return nil, nil, fmt.Errorf("%w: bad magic % x", ErrMalformedLink, m)
	}

	proto, err := readOne(r, "locator protocol")
	if err != nil {
		return nil, nil, err
	}
	if proto != ProtocolHTTP && proto != ProtocolHTTPS {
		return nil, nil, fmt.Errorf("%w: unknown locator protocol 0x%02x", ErrMalformedLink, proto)
	}
	bodyLen, err := readOne(r, "locator length")
	if err != nil {
		return nil, nil, err
	}
	if bodyLen == 0 {
		return nil, nil, fmt.Errorf("%w: empty locator body", ErrMalformedLink)
	}
	body, err := readN(r, int(bodyLen), "locator body")
	if err != nil {
		return nil, nil, err
	}

	curve, err := readOne(r, "curve")
	if err != nil {
		return nil, nil, err
	}
	if curve != curveSecp256r1 {
		return nil, nil, fmt.Errorf("%w: unsupported curve 0x%02x", ErrMalformedLink, curve)
	}
	kasPub, err := readN(r, compressedKeyLen, "kas public key")
	if err != nil {
		return nil, nil, err
	}

	bindingCfg, err := readOne(r, "binding config")
	if err != nil {
		return nil, nil, err
	}
	if bindingCfg != bindingHMACSHA256 {
		return nil, nil, fmt.Errorf("%w: unsupported binding config 0x%02x", ErrMalformedLink, bindingCfg)
	}
	sigCfg, err := readOne(r, "signature config")
	if err != nil {
		return nil, nil, err
	}
	if sigCfg != signatureECDSA256 {
		return nil, nil, fmt.Errorf("%w: unsupported signature config 0x%02x", ErrMalformedLink, sigCfg)
	}

	policyType, err := readOne(r, "policy type")
	if err != nil {
		return nil, nil, err
	}
	if policyType != policyEmbeddedEncrypted {
		return nil, nil, fmt.Errorf("%w: unsupported policy type 0x%02x", ErrMalformedLink, policyType)
	}
	plenBytes, err := readN(r, 2, "policy length")
	if err != nil {
		return nil, nil, err
	}
	policyLen := int(binary.BigEndian.Uint16(plenBytes))
	if policyLen < gcmTagLen {
		return nil, nil, fmt.Errorf("%w: policy body %d bytes, min %d", ErrMalformedLink, policyLen, gcmTagLen)
	}
	policyCT, err := readN(r, policyLen, "policy body")
	if err != nil {
		return nil, nil, err
	}
	binding, err := readN(r, bindingLen, "policy binding")
	if err != nil {
		return nil, nil, err
	}

	ephPub, err := readN(r, compressedKeyLen, "ephemeral public key")
	if err != nil {
		return nil, nil, err
	}

	lenBytes, err := readN(r, 3, "payload length")
	if err != nil {
		return nil, nil, err
	}
	payloadLen := int(lenBytes[0])<<16 | int(lenBytes[1])<<8 | int(lenBytes[2])
	if payloadLen < nonceLen+gcmTagLen {
		return nil, nil, fmt.Errorf("%w: payload %d bytes, min %d", ErrMalformedLink, payloadLen, nonceLen+gcmTagLen)
	}
	payload, err := readN(r, payloadLen, "payload")
	if err != nil {
		return nil, nil, err
	}
	if r.Len() != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedLink, r.Len())
	}

	hdr := &Header{
		Locator:            Locator{Protocol: proto, Body: string(body)},
		Curve:              curve,
		KASPublicKey:       kasPub,
		BindingConfig:      bindingCfg,
		SignatureConfig:    sigCfg,
		PolicyType:         policyType,
		PolicyCiphertext:   policyCT,
		Binding:            binding,
		EphemeralPublicKey: ephPub,
	}
	return hdr, payload, nil
}

// Encrypt builds a link carrying claimsData as its policy and payload
// as its content, readable only by the holder of the recipient key.
func Encrypt(recipient *ecdh.PublicKey, loc Locator, claimsData, payload []byte) ([]byte, error) {
	if err := loc.validate(); err != nil {
		return nil, err
	}
	if len(claimsData) == 0 {
		return nil, fmt.Errorf("claims data is empty")
	}
	if len(claimsData)+gcmTagLen > maxPolicyLen {
		return nil, fmt.Errorf("claims data %d bytes, max %d", len(claimsData), maxPolicyLen-gcmTagLen)
	}
	if nonceLen+len(payload)+gcmTagLen > maxPayloadLen {
		return nil, fmt.Errorf("payload %d bytes, max %d", len(payload), maxPayloadLen-nonceLen-gcmTagLen)
	}

	eph, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	shared, err := eph.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}
	defer wipe(shared)

	dek, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}
	defer wipe(dek)

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	// The all-zero nonce is reserved for the policy. Both uses are safe
	// under one DEK because the DEK is unique per link.
	var policyNonce [gcmNonceLen]byte
	policyCT := gcm.Seal(nil, policyNonce[:], claimsData, nil)

	mac := hmac.New(sha256.New, dek)
	mac.Write(claimsData)
	binding := mac.Sum(nil)[:bindingLen]

	nonce := make([]byte, nonceLen)
	for {
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("generate payload nonce: %w", err)
		}
		if nonce[0] != 0 || nonce[1] != 0 || nonce[2] != 0 {
			break
		}
	}
	var n12 [gcmNonceLen]byte
	copy(n12[gcmNonceLen-nonceLen:], nonce)
	sealed := gcm.Seal(nil, n12[:], payload, nil)

	hdr := &Header{
		Locator:            loc,
		Curve:              curveSecp256r1,
		KASPublicKey:       CompressPublicKey(recipient),
		BindingConfig:      bindingHMACSHA256,
		SignatureConfig:    signatureECDSA256,
		PolicyType:         policyEmbeddedEncrypted,
		PolicyCiphertext:   policyCT,
		Binding:            binding,
		EphemeralPublicKey: CompressPublicKey(eph.PublicKey()),
	}
	section := make([]byte, 0, nonceLen+len(sealed))
	section = append(section, nonce...)
	section = append(section, sealed...)
	return encodeLink(hdr, section), nil
}

// Decrypt opens a link with the recipient private key, verifying the
// payload, the policy, and the policy binding in that order.
func Decrypt(priv *ecdh.PrivateKey, data []byte) (*Link, error) {
	hdr, payload, err := Parse(data)
	if err != nil {
		return nil, err
	}

	eph, err := DecompressPublicKey(hdr.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", ErrMalformedLink, err)
	}
	shared, err := priv.ECDH(eph)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	defer wipe(shared)

	dek, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}
	defer wipe(dek)

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	var n12 [gcmNonceLen]byte
	copy(n12[gcmNonceLen-nonceLen:], payload[:nonceLen])
	content, err := gcm.Open(nil, n12[:], payload[nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: payload", ErrDecryptionFailed)
	}

	var policyNonce [gcmNonceLen]byte
	claims, err := gcm.Open(nil, policyNonce[:], hdr.PolicyCiphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: policy", ErrDecryptionFailed)
	}

	mac := hmac.New(sha256.New, dek)
	mac.Write(claims)
	if !hmac.Equal(mac.Sum(nil)[:bindingLen], hdr.Binding) {
		return nil, ErrBindingMismatch
	}

	return &Link{Header: hdr, Claims: claims, Payload: content}, nil
}

func encodeLink(h *Header, payload []byte) []byte {
	size := len(magic) + 2 + len(h.Locator.Body) + 1 + compressedKeyLen + 3 +
		2 + len(h.PolicyCiphertext) + bindingLen + compressedKeyLen + 3 + len(payload)

	out := make([]byte, 0, size)
	out = append(out, magic[:]...)
	out = append(out, h.Locator.Protocol, byte(len(h.Locator.Body)))
	out = append(out, h.Locator.Body...)
	out = append(out, h.Curve)
	out = append(out, h.KASPublicKey...)
	out = append(out, h.BindingConfig, h.SignatureConfig)
	out = append(out, h.PolicyType)
	var plen [2]byte
	binary.BigEndian.PutUint16(plen[:], uint16(len(h.PolicyCiphertext)))
	out = append(out, plen[:]...)
	out = append(out, h.PolicyCiphertext...)
	out = append(out, h.Binding...)
	out = append(out, h.EphemeralPublicKey...)
	n := len(payload)
	out = append(out, byte(n>>16), byte(n>>8), byte(n))
	out = append(out, payload...)
	return out
}

func readN(r *bytes.Reader, n int, field string) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated %s", ErrMalformedLink, field)
	}
	return buf, nil
}

func readOne(r *bytes.Reader, field string) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: truncated %s", ErrMalformedLink, field)
	}
	return b, nil
}
