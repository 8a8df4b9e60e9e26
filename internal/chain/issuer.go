package chain

import (
	"crypto/ecdh"
	"fmt"
	"time"

	"github.com/arkavo-org/ntdf-go/internal/claims"
	"github.com/arkavo-org/ntdf-go/internal/ntdf"
)

// Issuer mints terminal links. The authority encrypts terminals to its
// own key so it alone can validate them later.
type Issuer struct {
	recipient *ecdh.PublicKey
	locator   ntdf.Locator
	now       func() time.Time
}

func NewIssuer(recipient *ecdh.PublicKey, loc ntdf.Locator) *Issuer {
	return &Issuer{recipient: recipient, locator: loc, now: time.Now}
}

// IssueTerminalLink wraps a validated intermediate link in grant
// claims. The intermediate bytes are embedded as received.
func (i *Issuer) IssueTerminalLink(tc claims.TerminalClaims, intermediate []byte) ([]byte, error) {
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("terminal claims: %w", err)
	}
	if _, _, err := ntdf.Parse(intermediate); err != nil {
		return nil, fmt.Errorf("intermediate link: %w", err)
	}

	claimsData, err := tc.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode terminal claims: %w", err)
	}
	return ntdf.Encrypt(i.recipient, i.locator, claimsData, intermediate)
}
