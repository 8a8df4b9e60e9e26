package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arkavo-org/ntdf-go/internal/dpop"
	"github.com/arkavo-org/ntdf-go/internal/ntdf"
	"golang.org/x/oauth2"
)

func staticTokens(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

func TestNewRejectsPlainHTTP(t *testing.T) {
	if _, err := New("http://authority.test", nil, nil); err == nil {
		t.Fatal("New accepted a plain-HTTP URL without the insecure option")
	}
	if _, err := New("http://authority.test/", nil, nil, WithAllowInsecure()); err != nil {
		t.Fatalf("New with insecure option: %v", err)
	}
}

func TestKASPublicKey(t *testing.T) {
	kasKey, err := ntdf.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	compressed := ntdf.CompressPublicKey(kasKey.PublicKey())

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/kas/public-key" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"public_key": base64.StdEncoding.EncodeToString(compressed),
			"curve":      "P-256",
		})
	}))
	defer ts.Close()

	c, err := New(ts.URL, nil, nil, WithAllowInsecure())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pub, err := c.KASPublicKey(context.Background())
	if err != nil {
		t.Fatalf("KASPublicKey: %v", err)
	}
	if !pub.Equal(kasKey.PublicKey()) {
		t.Error("fetched key does not match the served key")
	}
}

func TestAuthorizeSendsTokenAndBody(t *testing.T) {
	kasKey, _ := ntdf.GenerateKeyPair()
	loc, _ := ntdf.NewLocator("https://authority.test")
	terminal, err := ntdf.Encrypt(kasKey.PublicKey(), loc, []byte(`{"role":"viewer"}`), []byte("inner"))
	if err != nil {
		t.Fatalf("encrypt terminal: %v", err)
	}

	var gotAuth string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(terminal)
	}))
	defer ts.Close()

	c, err := New(ts.URL, staticTokens("tok-123"), nil, WithAllowInsecure())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Authorize(context.Background(), []byte("intermediate-bytes"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if string(gotBody) != "intermediate-bytes" {
		t.Errorf("body = %q", gotBody)
	}
	if len(got) != len(terminal) {
		t.Errorf("terminal length = %d, want %d", len(got), len(terminal))
	}
}

func TestAuthorizeStructuredRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"platform_rejected","message":"device posture not accepted"}`)
	}))
	defer ts.Close()

	c, _ := New(ts.URL, staticTokens("tok"), nil, WithAllowInsecure())
	_, err := c.Authorize(context.Background(), []byte("x"))

	var ae *AuthorizeError
	if !errors.As(err, &ae) {
		t.Fatalf("Authorize error = %v, want *AuthorizeError", err)
	}
	if ae.Status != http.StatusForbidden || ae.Code != "platform_rejected" {
		t.Errorf("AuthorizeError = %+v", ae)
	}
}

func TestDoAttachesCredentialAndProof(t *testing.T) {
	signingKey, err := ntdf.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	terminal := []byte("terminal-link-bytes")
	credential := base64.StdEncoding.EncodeToString(terminal)

	proofs := dpop.NewValidator()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "NTDF "+credential {
			t.Errorf("Authorization = %q", got)
		}
		htu := "http://" + r.Host + r.URL.Path
		if _, err := proofs.Validate(r.Header.Get("DPoP"), r.Method, htu, dpop.WithExpectedAccessToken(credential)); err != nil {
			t.Errorf("proof did not validate: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c, err := New(ts.URL, nil, signingKey, WithAllowInsecure())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := c.Do(context.Background(), http.MethodGet, "/v1/resource", terminal)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
