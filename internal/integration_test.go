package internal

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/arkavo-org/ntdf-go/internal/attest"
	"github.com/arkavo-org/ntdf-go/internal/authority"
	"github.com/arkavo-org/ntdf-go/internal/authority/db"
	"github.com/arkavo-org/ntdf-go/internal/chain"
	"github.com/arkavo-org/ntdf-go/internal/claims"
	"github.com/arkavo-org/ntdf-go/internal/client"
	"github.com/arkavo-org/ntdf-go/internal/dpop"
	"github.com/arkavo-org/ntdf-go/internal/keystore"
	"github.com/arkavo-org/ntdf-go/internal/ntdf"
)

const testAdminToken = "test-admin-token-1234567890"

func setupTestServer(t *testing.T) (*httptest.Server, *db.Store, *authority.KAS) {
	t.Helper()
	var masterKey [32]byte
	rand.Read(masterKey[:])

	store, err := db.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	kas, err := authority.LoadOrCreateKAS(store, masterKey)
	if err != nil {
		t.Fatalf("LoadOrCreateKAS: %v", err)
	}

	cfg := &authority.Config{
		AdminToken:  testAdminToken,
		MasterKey:   masterKey,
		Audience:    "arkavo",
		TerminalTTL: time.Hour,
		ClockSkew:   time.Minute,
	}

	router := authority.NewRouter(store, kas, cfg)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return ts, store, kas
}

func adminRequest(method, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	return http.DefaultClient.Do(req)
}

// registerSubject creates a subject over the admin API and returns the
// one-time access token.
func registerSubject(t *testing.T, serverURL, subject, role string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"subject": subject, "role": role})
	resp, err := adminRequest("POST", serverURL+"/v1/subjects", body)
	if err != nil {
		t.Fatalf("POST /v1/subjects: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /v1/subjects: status %d, body: %s", resp.StatusCode, respBody)
	}
	var created struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create subject response: %v", err)
	}
	if created.AccessToken == "" {
		t.Fatal("create subject returned no access token")
	}
	return created.AccessToken
}

func newTestClient(t *testing.T, serverURL, token string) *client.Client {
	t.Helper()
	signingKey, err := ntdf.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	cl, err := client.New(serverURL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), signingKey, client.WithAllowInsecure())
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return cl
}

// obtainTerminal runs the full client flow: fetch the KAS key, build a
// chain on a device with the given posture, and exchange it.
func obtainTerminal(t *testing.T, cl *client.Client, userID string, state claims.PlatformState) ([]byte, error) {
	t.Helper()
	ctx := context.Background()

	kasPub, err := cl.KASPublicKey(ctx)
	if err != nil {
		t.Fatalf("KASPublicKey: %v", err)
	}
	loc, err := ntdf.NewLocator(cl.BaseURL())
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}

	provider := attest.NewLocalProvider(keystore.NewMemStore(), attest.WithPlatformState(state))
	builder := chain.NewBuilder(kasPub, loc, provider)
	ac, err := builder.BuildChain(claims.PEClaims{UserID: userID, AuthLevel: claims.AuthWebAuthn})
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}

	return cl.Authorize(ctx, ac.Intermediate)
}

func TestEndToEnd(t *testing.T) {
	ts, store, kas := setupTestServer(t)

	token := registerSubject(t, ts.URL, "alice", "viewer")
	cl := newTestClient(t, ts.URL, token)

	terminal, err := obtainTerminal(t, cl, "alice", claims.StateSecure)
	if err != nil {
		t.Fatalf("obtain terminal: %v", err)
	}

	// The authority can open the full three-link chain.
	validator := chain.NewValidator(kas.Key, chain.Policy{Skew: time.Minute, Audience: "arkavo"})
	validated, err := validator.ValidateChain(terminal)
	if err != nil {
		t.Fatalf("ValidateChain: %v", err)
	}
	if validated.User.UserID != "alice" {
		t.Errorf("user id = %q, want alice", validated.User.UserID)
	}
	if validated.Terminal.Role != "viewer" || validated.Terminal.Subject != "alice" {
		t.Errorf("terminal claims = %+v", validated.Terminal)
	}

	// Access the protected resource with the credential and a proof.
	resp, err := cl.Do(context.Background(), http.MethodGet, "/v1/resource", terminal)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/resource: status %d, body: %s", resp.StatusCode, body)
	}
	var res struct {
		Subject string `json:"subject"`
		UserID  string `json:"user_id"`
		Role    string `json:"role"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode resource response: %v", err)
	}
	if res.Subject != "alice" || res.UserID != "alice" || res.Role != "viewer" {
		t.Errorf("resource response = %+v", res)
	}

	// The issuance was audited.
	links, err := store.ListIssuedLinks(10)
	if err != nil {
		t.Fatalf("ListIssuedLinks: %v", err)
	}
	if len(links) != 1 || links[0].Subject != "alice" {
		t.Errorf("audit log = %+v", links)
	}
}

func TestJailbrokenDeviceRejected(t *testing.T) {
	ts, _, _ := setupTestServer(t)

	token := registerSubject(t, ts.URL, "alice", "viewer")
	cl := newTestClient(t, ts.URL, token)

	_, err := obtainTerminal(t, cl, "alice", claims.StateJailbroken)
	var ae *client.AuthorizeError
	if !errors.As(err, &ae) {
		t.Fatalf("Authorize error = %v, want *AuthorizeError", err)
	}
	if ae.Status != http.StatusForbidden || ae.Code != "platform_rejected" {
		t.Errorf("AuthorizeError = %+v, want 403 platform_rejected", ae)
	}
}

func TestUnknownSubjectRejected(t *testing.T) {
	ts, _, _ := setupTestServer(t)

	token := registerSubject(t, ts.URL, "alice", "viewer")
	cl := newTestClient(t, ts.URL, token)

	_, err := obtainTerminal(t, cl, "mallory", claims.StateSecure)
	var ae *client.AuthorizeError
	if !errors.As(err, &ae) {
		t.Fatalf("Authorize error = %v, want *AuthorizeError", err)
	}
	if ae.Status != http.StatusNotFound || ae.Code != "unknown_subject" {
		t.Errorf("AuthorizeError = %+v, want 404 unknown_subject", ae)
	}
}

func TestResourceRequiresProof(t *testing.T) {
	ts, _, _ := setupTestServer(t)

	token := registerSubject(t, ts.URL, "alice", "viewer")
	cl := newTestClient(t, ts.URL, token)
	terminal, err := obtainTerminal(t, cl, "alice", claims.StateSecure)
	if err != nil {
		t.Fatalf("obtain terminal: %v", err)
	}
	credential := base64.StdEncoding.EncodeToString(terminal)

	// Credential alone, no proof.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/resource", nil)
	req.Header.Set("Authorization", "NTDF "+credential)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET without proof: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without proof = %d, want 401", resp.StatusCode)
	}

	// Proof alone, no credential.
	signingKey, _ := ntdf.GenerateSigningKey()
	proof, err := dpop.Sign(signingKey, http.MethodGet, ts.URL+"/v1/resource")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/v1/resource", nil)
	req.Header.Set("DPoP", proof)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET without credential: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without credential = %d, want 401", resp.StatusCode)
	}
}

func TestProofBindsQuery(t *testing.T) {
	ts, _, _ := setupTestServer(t)

	token := registerSubject(t, ts.URL, "alice", "viewer")
	cl := newTestClient(t, ts.URL, token)
	terminal, err := obtainTerminal(t, cl, "alice", claims.StateSecure)
	if err != nil {
		t.Fatalf("obtain terminal: %v", err)
	}
	credential := base64.StdEncoding.EncodeToString(terminal)

	signingKey, _ := ntdf.GenerateSigningKey()
	send := func(signedURL, requestURL string) (int, string) {
		proof, err := dpop.Sign(signingKey, http.MethodGet, signedURL, dpop.WithAccessToken(credential))
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		req, _ := http.NewRequest(http.MethodGet, requestURL, nil)
		req.Header.Set("Authorization", "NTDF "+credential)
		req.Header.Set("DPoP", proof)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", requestURL, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(body, &e)
		return resp.StatusCode, e.Error
	}

	// Matching query passes.
	if status, code := send(ts.URL+"/v1/resource?view=full", ts.URL+"/v1/resource?view=full"); status != http.StatusOK {
		t.Fatalf("matching query: status %d code %q", status, code)
	}

	// A proof minted for one query must not open another.
	status, code := send(ts.URL+"/v1/resource?view=full", ts.URL+"/v1/resource?view=admin")
	if status != http.StatusUnauthorized || code != "proof_binding_mismatch" {
		t.Errorf("mismatched query: status %d code %q, want 401 proof_binding_mismatch", status, code)
	}
}

func TestProofReplayRejected(t *testing.T) {
	ts, _, _ := setupTestServer(t)

	token := registerSubject(t, ts.URL, "alice", "viewer")
	cl := newTestClient(t, ts.URL, token)
	terminal, err := obtainTerminal(t, cl, "alice", claims.StateSecure)
	if err != nil {
		t.Fatalf("obtain terminal: %v", err)
	}
	credential := base64.StdEncoding.EncodeToString(terminal)

	signingKey, _ := ntdf.GenerateSigningKey()
	proof, err := dpop.Sign(signingKey, http.MethodGet, ts.URL+"/v1/resource", dpop.WithAccessToken(credential))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	send := func() (int, string) {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/resource", nil)
		req.Header.Set("Authorization", "NTDF "+credential)
		req.Header.Set("DPoP", proof)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET /v1/resource: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(body, &e)
		return resp.StatusCode, e.Error
	}

	if status, _ := send(); status != http.StatusOK {
		t.Fatalf("first request: status %d", status)
	}
	status, code := send()
	if status != http.StatusUnauthorized || code != "proof_replayed" {
		t.Errorf("replayed request: status %d code %q, want 401 proof_replayed", status, code)
	}
}

func TestAdminAPIRequiresToken(t *testing.T) {
	ts, _, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/subjects")
	if err != nil {
		t.Fatalf("GET /v1/subjects: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without admin token = %d, want 401", resp.StatusCode)
	}
}

