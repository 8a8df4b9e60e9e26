// Package client talks to an NTDF authority: fetching the key access
// server public key, exchanging an intermediate link for a terminal
// link, and making proof-bound requests against protected resources.
package client

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/arkavo-org/ntdf-go/internal/attest"
	"github.com/arkavo-org/ntdf-go/internal/dpop"
	"github.com/arkavo-org/ntdf-go/internal/ntdf"
)

// AuthorizeError is a structured rejection from the authorize endpoint.
type AuthorizeError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthorizeError) Error() string {
	return fmt.Sprintf("authorize rejected (%d %s): %s", e.Status, e.Code, e.Message)
}

// Client is an HTTP client for one authority.
type Client struct {
	baseURL    string
	tokens     oauth2.TokenSource
	signingKey *ecdsa.PrivateKey
	collector  attest.Collector
	http       *http.Client
}

type Option func(*options)

type options struct {
	allowInsecure bool
	httpClient    *http.Client
	collector     attest.Collector
}

// WithAllowInsecure permits plain-HTTP authority URLs. Without it a
// non-HTTPS URL is a construction error.
func WithAllowInsecure() Option {
	return func(o *options) { o.allowInsecure = true }
}

// WithHTTPClient overrides the default 20s-timeout HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithAttestationCollector attaches an attestation bundle to authorize
// requests, for authorities running in strict mode.
func WithAttestationCollector(col attest.Collector) Option {
	return func(o *options) { o.collector = col }
}

// New builds a client. tokens supplies the subject access token for
// /authorize; signingKey is the proof-of-possession key bound into
// DPoP proofs on resource requests. Either may be nil when the caller
// only uses the other surface.
func New(serverURL string, tokens oauth2.TokenSource, signingKey *ecdsa.PrivateKey, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	serverURL = strings.TrimRight(serverURL, "/")
	if !strings.HasPrefix(serverURL, "https://") {
		if !o.allowInsecure {
			return nil, fmt.Errorf("authority URL %q is not HTTPS; use the insecure option to allow plaintext HTTP", serverURL)
		}
		fmt.Fprintf(os.Stderr, "ntdf: WARNING: communicating over plaintext HTTP (%s)\n", serverURL)
	}

	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{baseURL: serverURL, tokens: tokens, signingKey: signingKey, collector: o.collector, http: hc}, nil
}

// BaseURL returns the normalized authority URL.
func (c *Client) BaseURL() string { return c.baseURL }

// KASPublicKey fetches the key chains must be encrypted to.
func (c *Client) KASPublicKey(ctx context.Context) (*ecdh.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/kas/public-key", nil)
	if err != nil {
		return nil, fmt.Errorf("create key request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch kas public key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch kas public key: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		PublicKey string `json:"public_key"`
		Curve     string `json:"curve"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode kas public key response: %w", err)
	}
	if payload.Curve != "" && payload.Curve != "P-256" {
		return nil, fmt.Errorf("kas key curve is %q, want P-256", payload.Curve)
	}
	compressed, err := base64.StdEncoding.DecodeString(payload.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode kas public key: %w", err)
	}
	pub, err := ntdf.DecompressPublicKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("kas public key: %w", err)
	}
	return pub, nil
}

// Authorize exchanges a serialized intermediate link for a serialized
// terminal link. Rejections come back as *AuthorizeError.
func (c *Client) Authorize(ctx context.Context, intermediate []byte) ([]byte, error) {
	if c.tokens == nil {
		return nil, fmt.Errorf("client has no token source")
	}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("obtain access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authorize", bytes.NewReader(intermediate))
	if err != nil {
		return nil, fmt.Errorf("create authorize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	token.SetAuthHeader(req)

	if c.collector != nil {
		bundle, err := c.collector.Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("collect attestation: %w", err)
		}
		encoded, err := json.Marshal(bundle)
		if err != nil {
			return nil, fmt.Errorf("encode attestation bundle: %w", err)
		}
		req.Header.Set("X-NTDF-Attestation", string(encoded))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read authorize response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAuthorizeError(resp.StatusCode, body)
	}

	// Sanity-check the terminal before handing it to the caller.
	if _, _, err := ntdf.Parse(body); err != nil {
		return nil, fmt.Errorf("authorize response: %w", err)
	}
	return body, nil
}

// Do sends a proof-bound request to path using terminal as credential.
// A fresh DPoP proof bound to the exact method, URL, and credential is
// minted per call.
func (c *Client) Do(ctx context.Context, method, path string, terminal []byte) (*http.Response, error) {
	if c.signingKey == nil {
		return nil, fmt.Errorf("client has no proof signing key")
	}

	credential := base64.StdEncoding.EncodeToString(terminal)
	url := c.baseURL + path
	proof, err := dpop.Sign(c.signingKey, method, url, dpop.WithAccessToken(credential))
	if err != nil {
		return nil, fmt.Errorf("sign request proof: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "NTDF "+credential)
	req.Header.Set("DPoP", proof)

	return c.http.Do(req)
}

func parseAuthorizeError(status int, body []byte) error {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return &AuthorizeError{Status: status, Code: "unknown", Message: strings.TrimSpace(string(body))}
	}
	return &AuthorizeError{Status: status, Code: e.Error, Message: e.Message}
}
