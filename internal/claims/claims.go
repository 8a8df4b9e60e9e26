// Package claims defines the identity assertions carried inside NTDF links:
// person-entity (PE) claims for the authenticated user, non-person-entity
// (NPE) claims for the device, and terminal claims minted by the authority.
package claims

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AuthLevel records how the user authenticated.
type AuthLevel string

const (
	AuthBiometric AuthLevel = "biometric"
	AuthPassword  AuthLevel = "password"
	AuthMFA       AuthLevel = "mfa"
	AuthWebAuthn  AuthLevel = "webauthn"
)

func (a AuthLevel) Valid() bool {
	switch a {
	case AuthBiometric, AuthPassword, AuthMFA, AuthWebAuthn:
		return true
	}
	return false
}

// Platform identifies the operating system the device claims to run.
type Platform string

const (
	PlatformIOS     Platform = "iOS"
	PlatformMacOS   Platform = "macOS"
	PlatformTVOS    Platform = "tvOS"
	PlatformWatchOS Platform = "watchOS"
	PlatformAndroid Platform = "android"
	PlatformLinux   Platform = "linux"
	PlatformWindows Platform = "windows"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformMacOS, PlatformTVOS, PlatformWatchOS,
		PlatformAndroid, PlatformLinux, PlatformWindows:
		return true
	}
	return false
}

// PlatformState is the device integrity posture reported by the
// attestation provider. An unavailable provider reports StateUnknown,
// never StateSecure.
type PlatformState string

const (
	StateSecure     PlatformState = "secure"
	StateJailbroken PlatformState = "jailbroken"
	StateDebugMode  PlatformState = "debugMode"
	StateUnknown    PlatformState = "unknown"
)

func (s PlatformState) Valid() bool {
	switch s {
	case StateSecure, StateJailbroken, StateDebugMode, StateUnknown:
		return true
	}
	return false
}

// Freshness sentinels. Chain validation wraps these with layer context.
var (
	ErrExpired     = errors.New("claims expired")
	ErrNotYetValid = errors.New("claims not yet valid")
)

// PEClaims asserts an authenticated user. Timestamp is unix seconds.
type PEClaims struct {
	UserID    string    `json:"userId"`
	AuthLevel AuthLevel `json:"authLevel"`
	Timestamp int64     `json:"timestamp"`
}

// Encode returns the canonical byte encoding used for link policies and
// signature inputs. encoding/json emits struct fields in declaration
// order, so equal claims always encode to equal bytes.
func (c PEClaims) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func (c PEClaims) Validate() error {
	if c.UserID == "" {
		return errors.New("userId is required")
	}
	if !c.AuthLevel.Valid() {
		return fmt.Errorf("unknown authLevel %q", c.AuthLevel)
	}
	if c.Timestamp <= 0 {
		return errors.New("timestamp is required")
	}
	return nil
}

// ValidateFresh checks the claim timestamp against a symmetric skew
// window around now. A timestamp of exactly now-skew is still fresh.
func (c PEClaims) ValidateFresh(now time.Time, skew time.Duration) error {
	return fresh(c.Timestamp, now, skew)
}

// DecodePE parses and structurally validates PE claims.
func DecodePE(data []byte) (PEClaims, error) {
	var c PEClaims
	if err := json.Unmarshal(data, &c); err != nil {
		return PEClaims{}, fmt.Errorf("parse user claims: %w", err)
	}
	if err := c.Validate(); err != nil {
		return PEClaims{}, err
	}
	return c, nil
}

// NPEClaims asserts the device the chain was built on.
type NPEClaims struct {
	PlatformCode  Platform      `json:"platformCode"`
	PlatformState PlatformState `json:"platformState"`
	DeviceID      string        `json:"deviceId"`
	AppVersion    string        `json:"appVersion"`
	Timestamp     int64         `json:"timestamp"`
}

func (c NPEClaims) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func (c NPEClaims) Validate() error {
	if !c.PlatformCode.Valid() {
		return fmt.Errorf("unknown platformCode %q", c.PlatformCode)
	}
	if !c.PlatformState.Valid() {
		return fmt.Errorf("unknown platformState %q", c.PlatformState)
	}
	if c.DeviceID == "" {
		return errors.New("deviceId is required")
	}
	if c.AppVersion == "" {
		return errors.New("appVersion is required")
	}
	if c.Timestamp <= 0 {
		return errors.New("timestamp is required")
	}
	return nil
}

func (c NPEClaims) ValidateFresh(now time.Time, skew time.Duration) error {
	return fresh(c.Timestamp, now, skew)
}

// DecodeNPE parses and structurally validates NPE claims.
func DecodeNPE(data []byte) (NPEClaims, error) {
	var c NPEClaims
	if err := json.Unmarshal(data, &c); err != nil {
		return NPEClaims{}, fmt.Errorf("parse device claims: %w", err)
	}
	if err := c.Validate(); err != nil {
		return NPEClaims{}, err
	}
	return c, nil
}

// TerminalClaims are minted by the authority when it wraps an
// intermediate link. Expiry is absolute unix seconds; freshness skew
// does not apply to it.
type TerminalClaims struct {
	Role     string `json:"role"`
	Audience string `json:"audience"`
	Expiry   int64  `json:"expiry"`
	Subject  string `json:"subject"`
}

func (c TerminalClaims) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func (c TerminalClaims) Validate() error {
	if c.Role == "" {
		return errors.New("role is required")
	}
	if c.Audience == "" {
		return errors.New("audience is required")
	}
	if c.Subject == "" {
		return errors.New("subject is required")
	}
	if c.Expiry <= 0 {
		return errors.New("expiry is required")
	}
	return nil
}

// ValidateAt reports ErrExpired once now is strictly past the expiry.
func (c TerminalClaims) ValidateAt(now time.Time) error {
	if now.Unix() > c.Expiry {
		return fmt.Errorf("%w: expired at %s", ErrExpired, time.Unix(c.Expiry, 0).UTC().Format(time.RFC3339))
	}
	return nil
}

// DecodeTerminal parses and structurally validates terminal claims.
func DecodeTerminal(data []byte) (TerminalClaims, error) {
	var c TerminalClaims
	if err := json.Unmarshal(data, &c); err != nil {
		return TerminalClaims{}, fmt.Errorf("parse terminal claims: %w", err)
	}
	if err := c.Validate(); err != nil {
		return TerminalClaims{}, err
	}
	return c, nil
}

func fresh(ts int64, now time.Time, skew time.Duration) error {
	t := time.Unix(ts, 0)
	if t.Before(now.Add(-skew)) {
		return fmt.Errorf("%w: timestamp %s is older than %s", ErrExpired, t.UTC().Format(time.RFC3339), skew)
	}
	if t.After(now.Add(skew)) {
		return fmt.Errorf("%w: timestamp %s is ahead of %s", ErrNotYetValid, t.UTC().Format(time.RFC3339), skew)
	}
	return nil
}
