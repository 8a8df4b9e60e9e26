package chain

import "errors"

var (
	// ErrNotNested reports a link payload that is not itself a link
	// where the chain shape requires one.
	ErrNotNested = errors.New("payload is not a nested link")

	// ErrPlatformRejected reports a device posture the policy refuses.
	ErrPlatformRejected = errors.New("device platform rejected by policy")

	// ErrAudienceMismatch reports a terminal link minted for a
	// different audience.
	ErrAudienceMismatch = errors.New("terminal audience mismatch")
)
