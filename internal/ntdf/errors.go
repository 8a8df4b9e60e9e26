package ntdf

import "errors"

var (
	// ErrMalformedLink reports a byte stream that does not parse as a
	// link: bad magic, unknown config bytes, truncation, or trailing
	// garbage after the payload.
	ErrMalformedLink = errors.New("malformed link")

	// ErrDecryptionFailed reports an authentication failure opening the
	// policy or payload, typically a wrong recipient key or tampered
	// ciphertext.
	ErrDecryptionFailed = errors.New("link decryption failed")

	// ErrBindingMismatch reports a policy binding that does not match
	// the decrypted claims.
	ErrBindingMismatch = errors.New("policy binding mismatch")

	// ErrSignatureInvalid reports a signed payload whose signature does
	// not verify.
	ErrSignatureInvalid = errors.New("payload signature invalid")
)
