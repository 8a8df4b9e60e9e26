package db

import "time"

// Subject is a registered principal allowed to request terminal links.
type Subject struct {
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	Audience  string    `json:"audience"`
	TokenHash string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// IssuedLink is an audit record of one terminal issuance.
type IssuedLink struct {
	ID        int64     `json:"id"`
	Subject   string    `json:"subject"`
	DeviceID  string    `json:"device_id"`
	Platform  string    `json:"platform"`
	AuthLevel string    `json:"auth_level"`
	ExpiresAt time.Time `json:"expires_at"`
	IssuedAt  time.Time `json:"issued_at"`
}

// KASKeyRecord is the sealed key access server keypair. KeySealed is
// the private scalar encrypted under the master key; PublicKey is the
// compressed public point, stored in the clear for serving.
type KASKeyRecord struct {
	KeySealed []byte
	PublicKey []byte
	CreatedAt time.Time
}
