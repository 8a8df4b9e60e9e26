package attest

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"strings"
)

// Bundle carries attestation material exchanged between client and
// authority. The client-side source of truth is dstack Info() from
// /var/run/dstack.sock; app_cert is expected to carry RA quote
// extensions.
type Bundle struct {
	AppCert  string `json:"app_cert"`
	TCBInfo  string `json:"tcb_info"`
	AppID    string `json:"app_id,omitempty"`
	Instance string `json:"instance_id,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// VerifiedIdentity is the normalized identity extracted from a verified
// attestation bundle.
type VerifiedIdentity struct {
	AppID      string
	InstanceID string
	DeviceID   string
}

var oidRATLSAppID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 62397, 1, 3}

func extractAppIDFromCert(cert *x509.Certificate) string {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidRATLSAppID) {
			continue
		}
		var raw []byte
		if _, err := asn1.Unmarshal(ext.Value, &raw); err != nil {
			continue
		}
		if len(raw) == 0 {
			continue
		}
		if isPrintableASCII(raw) {
			return strings.TrimSpace(string(raw))
		}
		return hex.EncodeToString(raw)
	}
	return ""
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
