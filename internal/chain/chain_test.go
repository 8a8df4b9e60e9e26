package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"crypto/ecdh"

	"github.com/arkavo-org/ntdf-go/internal/attest"
	"github.com/arkavo-org/ntdf-go/internal/claims"
	"github.com/arkavo-org/ntdf-go/internal/ntdf"
)

type fakeProvider struct {
	id    attest.DeviceID
	state claims.PlatformState
	err   error
}

func (f *fakeProvider) GetOrCreateDeviceID() (attest.DeviceID, error) { return f.id, f.err }
func (f *fakeProvider) DetectPlatformState() claims.PlatformState    { return f.state }
func (f *fakeProvider) Platform() claims.Platform                    { return claims.PlatformIOS }

func secureProvider() *fakeProvider {
	return &fakeProvider{id: attest.DeviceID{Value: "device-1"}, state: claims.StateSecure}
}

func testKAS(t *testing.T) *ecdh.PrivateKey {
	t.Helper()
	key, err := ntdf.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return key
}

func testLoc(t *testing.T) ntdf.Locator {
	t.Helper()
	loc, err := ntdf.NewLocator("https://kas.example.com/kas")
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}
	return loc
}

func testClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

const t0 = int64(1_700_000_000)

func userClaims() claims.PEClaims {
	return claims.PEClaims{UserID: "alice", AuthLevel: claims.AuthBiometric, Timestamp: t0}
}

func TestBuildChain_NestsOriginExactly(t *testing.T) {
	kas := testKAS(t)
	b := NewBuilder(kas.PublicKey(), testLoc(t), secureProvider(), WithAppVersion("1.0.0"))
	b.now = testClock(t0)

	ac, err := b.BuildChain(userClaims())
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}

	interLink, err := ntdf.Decrypt(kas, ac.Intermediate)
	if err != nil {
		t.Fatalf("Decrypt intermediate: %v", err)
	}
	if !bytes.Equal(interLink.Payload, ac.Origin) {
		t.Fatal("intermediate payload is not the origin link byte for byte")
	}
}

func TestValidatePair(t *testing.T) {
	kas := testKAS(t)
	b := NewBuilder(kas.PublicKey(), testLoc(t), secureProvider(), WithAppVersion("1.0.0"))
	b.now = testClock(t0)

	ac, err := b.BuildChain(userClaims())
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}

	v := NewValidator(kas, DefaultPolicy())
	v.now = testClock(t0)

	res, err := v.ValidatePair(ac.Intermediate)
	if err != nil {
		t.Fatalf("ValidatePair: %v", err)
	}
	if res.User.UserID != "alice" || res.User.AuthLevel != claims.AuthBiometric {
		t.Errorf("user claims = %+v", res.User)
	}
	if res.Device.DeviceID != "device-1" || res.Device.PlatformState != claims.StateSecure {
		t.Errorf("device claims = %+v", res.Device)
	}
	if res.Device.AppVersion != "1.0.0" {
		t.Errorf("appVersion = %q, want 1.0.0", res.Device.AppVersion)
	}
}

func TestValidatePair_RejectsUnnestedLink(t *testing.T) {
	kas := testKAS(t)
	b := NewBuilder(kas.PublicKey(), testLoc(t), secureProvider())
	b.now = testClock(t0)

	origin, err := b.BuildOriginLink(userClaims())
	if err != nil {
		t.Fatalf("BuildOriginLink: %v", err)
	}

	v := NewValidator(kas, DefaultPolicy())
	v.now = testClock(t0)

	if _, err := v.ValidatePair(origin); !errors.Is(err, ErrNotNested) {
		t.Fatalf("ValidatePair(origin) = %v, want ErrNotNested", err)
	}
}

func TestValidatePair_Freshness(t *testing.T) {
	kas := testKAS(t)
	b := NewBuilder(kas.PublicKey(), testLoc(t), secureProvider())
	b.now = testClock(t0)

	ac, err := b.BuildChain(userClaims())
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}

	v := NewValidator(kas, DefaultPolicy())

	// Exactly at the skew bound the chain is still fresh.
	v.now = testClock(t0 + 60)
	if _, err := v.ValidatePair(ac.Intermediate); err != nil {
		t.Fatalf("ValidatePair at skew bound: %v", err)
	}

	v.now = testClock(t0 + 61)
	if _, err := v.ValidatePair(ac.Intermediate); !errors.Is(err, claims.ErrExpired) {
		t.Fatalf("ValidatePair past skew = %v, want ErrExpired", err)
	}

	v.now = testClock(t0 - 61)
	if _, err := v.ValidatePair(ac.Intermediate); !errors.Is(err, claims.ErrNotYetValid) {
		t.Fatalf("ValidatePair before issuance = %v, want ErrNotYetValid", err)
	}
}

func TestValidatePair_Posture(t *testing.T) {
	kas := testKAS(t)
	jailbroken := &fakeProvider{id: attest.DeviceID{Value: "device-1"}, state: claims.StateJailbroken}
	b := NewBuilder(kas.PublicKey(), testLoc(t), jailbroken)
	b.now = testClock(t0)

	ac, err := b.BuildChain(userClaims())
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}

	v := NewValidator(kas, DefaultPolicy())
	v.now = testClock(t0)
	if _, err := v.ValidatePair(ac.Intermediate); !errors.Is(err, ErrPlatformRejected) {
		t.Fatalf("ValidatePair jailbroken = %v, want ErrPlatformRejected", err)
	}

	lax := DefaultPolicy()
	lax.AllowJailbroken = true
	v = NewValidator(kas, lax)
	v.now = testClock(t0)
	if _, err := v.ValidatePair(ac.Intermediate); err != nil {
		t.Fatalf("ValidatePair with AllowJailbroken: %v", err)
	}
}

func TestValidatePair_UnknownPosture(t *testing.T) {
	kas := testKAS(t)
	unknown := &fakeProvider{id: attest.DeviceID{Value: "device-1"}, state: claims.StateUnknown}
	b := NewBuilder(kas.PublicKey(), testLoc(t), unknown)
	b.now = testClock(t0)

	ac, err := b.BuildChain(userClaims())
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}

	v := NewValidator(kas, DefaultPolicy())
	v.now = testClock(t0)
	if _, err := v.ValidatePair(ac.Intermediate); err != nil {
		t.Fatalf("ValidatePair unknown posture: %v", err)
	}

	strict := DefaultPolicy()
	strict.TreatUnknownAsJailbroken = true
	v = NewValidator(kas, strict)
	v.now = testClock(t0)
	if _, err := v.ValidatePair(ac.Intermediate); !errors.Is(err, ErrPlatformRejected) {
		t.Fatalf("ValidatePair strict unknown = %v, want ErrPlatformRejected", err)
	}
}

func TestBuildChain_ProviderFailure(t *testing.T) {
	kas := testKAS(t)
	// A provider that reports secure but cannot identify the device
	// must not produce a secure chain.
	broken := &fakeProvider{state: claims.StateSecure, err: errors.New("agent unreachable")}
	b := NewBuilder(kas.PublicKey(), testLoc(t), broken)
	b.now = testClock(t0)

	ac, err := b.BuildChain(userClaims())
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}

	v := NewValidator(kas, DefaultPolicy())
	v.now = testClock(t0)
	res, err := v.ValidatePair(ac.Intermediate)
	if err != nil {
		t.Fatalf("ValidatePair: %v", err)
	}
	if res.Device.PlatformState != claims.StateUnknown {
		t.Fatalf("posture = %q, want unknown after provider failure", res.Device.PlatformState)
	}
	if res.Device.DeviceID == "" {
		t.Fatal("device id is empty")
	}
}

func TestSignedOrigin(t *testing.T) {
	kas := testKAS(t)
	signKey, err := ntdf.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}

	b := NewBuilder(kas.PublicKey(), testLoc(t), secureProvider(), WithSigner(NewECDSASigner(signKey)))
	b.now = testClock(t0)

	ac, err := b.BuildChain(userClaims())
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}

	v := NewValidator(kas, DefaultPolicy())
	v.now = testClock(t0)
	if _, err := v.ValidatePair(ac.Intermediate); err != nil {
		t.Fatalf("ValidatePair signed origin: %v", err)
	}
}

func TestSignedOrigin_TamperedSignature(t *testing.T) {
	kas := testKAS(t)
	signKey, err := ntdf.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}

	pe := userClaims()
	claimsData, err := pe.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sp, err := ntdf.SignPayload(signKey, claimsData, []byte(OriginContentType), time.Unix(t0, 0))
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}
	sp.Signature[0] ^= 0xFF
	payload, err := json.Marshal(sp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	origin, err := ntdf.Encrypt(kas.PublicKey(), testLoc(t), claimsData, payload)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	b := NewBuilder(kas.PublicKey(), testLoc(t), secureProvider())
	b.now = testClock(t0)
	intermediate, err := b.BuildIntermediateLink(origin)
	if err != nil {
		t.Fatalf("BuildIntermediateLink: %v", err)
	}

	v := NewValidator(kas, DefaultPolicy())
	v.now = testClock(t0)
	if _, err := v.ValidatePair(intermediate); !errors.Is(err, ntdf.ErrSignatureInvalid) {
		t.Fatalf("ValidatePair tampered signature = %v, want ErrSignatureInvalid", err)
	}
}

func TestValidateChain(t *testing.T) {
	kas := testKAS(t)
	loc := testLoc(t)
	b := NewBuilder(kas.PublicKey(), loc, secureProvider())
	b.now = testClock(t0)

	ac, err := b.BuildChain(userClaims())
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}

	issuer := NewIssuer(kas.PublicKey(), loc)
	grant := claims.TerminalClaims{Role: "user", Audience: "arkavo", Expiry: t0 + 3600, Subject: "alice"}
	terminal, err := issuer.IssueTerminalLink(grant, ac.Intermediate)
	if err != nil {
		t.Fatalf("IssueTerminalLink: %v", err)
	}

	policy := DefaultPolicy()
	policy.Audience = "arkavo"
	v := NewValidator(kas, policy)
	v.now = testClock(t0)

	res, err := v.ValidateChain(terminal)
	if err != nil {
		t.Fatalf("ValidateChain: %v", err)
	}
	if res.Terminal != grant {
		t.Errorf("terminal claims = %+v, want %+v", res.Terminal, grant)
	}
	if res.User.UserID != "alice" || res.Device.DeviceID != "device-1" {
		t.Errorf("inner claims = %+v / %+v", res.User, res.Device)
	}
}

func TestValidateChain_Expiry(t *testing.T) {
	kas := testKAS(t)
	loc := testLoc(t)
	b := NewBuilder(kas.PublicKey(), loc, secureProvider())
	b.now = testClock(t0)

	ac, err := b.BuildChain(userClaims())
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	issuer := NewIssuer(kas.PublicKey(), loc)
	grant := claims.TerminalClaims{Role: "user", Audience: "arkavo", Expiry: t0 + 30, Subject: "alice"}
	terminal, err := issuer.IssueTerminalLink(grant, ac.Intermediate)
	if err != nil {
		t.Fatalf("IssueTerminalLink: %v", err)
	}

	v := NewValidator(kas, DefaultPolicy())

	// Expiry is absolute. One second past and the skew does not help.
	v.now = testClock(t0 + 31)
	if _, err := v.ValidateChain(terminal); !errors.Is(err, claims.ErrExpired) {
		t.Fatalf("ValidateChain past expiry = %v, want ErrExpired", err)
	}
}

func TestValidateChain_AudienceMismatch(t *testing.T) {
	kas := testKAS(t)
	loc := testLoc(t)
	b := NewBuilder(kas.PublicKey(), loc, secureProvider())
	b.now = testClock(t0)

	ac, err := b.BuildChain(userClaims())
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	issuer := NewIssuer(kas.PublicKey(), loc)
	grant := claims.TerminalClaims{Role: "user", Audience: "other-service", Expiry: t0 + 3600, Subject: "alice"}
	terminal, err := issuer.IssueTerminalLink(grant, ac.Intermediate)
	if err != nil {
		t.Fatalf("IssueTerminalLink: %v", err)
	}

	policy := DefaultPolicy()
	policy.Audience = "arkavo"
	v := NewValidator(kas, policy)
	v.now = testClock(t0)

	if _, err := v.ValidateChain(terminal); !errors.Is(err, ErrAudienceMismatch) {
		t.Fatalf("ValidateChain = %v, want ErrAudienceMismatch", err)
	}
}

func TestIssueTerminalLink_RejectsGarbage(t *testing.T) {
	kas := testKAS(t)
	issuer := NewIssuer(kas.PublicKey(), testLoc(t))
	grant := claims.TerminalClaims{Role: "user", Audience: "arkavo", Expiry: t0 + 3600, Subject: "alice"}

	if _, err := issuer.IssueTerminalLink(grant, []byte("not a link")); !errors.Is(err, ntdf.ErrMalformedLink) {
		t.Fatalf("IssueTerminalLink = %v, want ErrMalformedLink", err)
	}
}
