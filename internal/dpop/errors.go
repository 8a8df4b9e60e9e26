package dpop

import "errors"

var (
	// ErrProofMalformed reports a proof that is not a well-formed DPoP
	// JWT: bad compact form, wrong typ or alg, or missing claims.
	ErrProofMalformed = errors.New("malformed proof")

	// ErrSignatureInvalid reports a proof whose signature does not
	// verify against its embedded key.
	ErrSignatureInvalid = errors.New("proof signature invalid")

	// ErrProofExpired reports an iat outside the accepted window, in
	// either direction.
	ErrProofExpired = errors.New("proof issued outside the accepted window")

	// ErrProofReplayed reports a jti that was already accepted.
	ErrProofReplayed = errors.New("proof already used")

	// ErrProofBindingMismatch reports an ath that does not match the
	// presented access token.
	ErrProofBindingMismatch = errors.New("proof access token binding mismatch")
)
