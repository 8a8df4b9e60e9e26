package handler

import (
	"crypto/ecdh"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arkavo-org/ntdf-go/internal/attest"
	"github.com/arkavo-org/ntdf-go/internal/authority/db"
	"github.com/arkavo-org/ntdf-go/internal/chain"
	"github.com/arkavo-org/ntdf-go/internal/claims"
	"github.com/arkavo-org/ntdf-go/internal/logx"
	"github.com/arkavo-org/ntdf-go/internal/ntdf"
)

// maxChainBytes bounds the intermediate link a client may submit. A
// two-link chain is a few KB; anything near this limit is abuse.
const maxChainBytes = 64 * 1024

// AuthorizeConfig carries the issuance settings the authorize endpoint
// needs from the server config.
type AuthorizeConfig struct {
	// Audience stamped into terminal claims when the subject record
	// does not carry its own.
	Audience string

	// TerminalTTL is how long issued terminal links stay valid.
	TerminalTTL time.Duration

	// Strict requires a verified attestation bundle alongside the
	// chain.
	Strict bool

	// BaseURL is the public URL terminal link locators point at. When
	// empty the request host is used.
	BaseURL string
}

// HandleAuthorize handles POST /authorize. The body is a serialized
// intermediate link; the response body is the serialized terminal link
// wrapping it. The user claims inside the chain must name a registered
// subject, and when the subject carries a token hash the caller must
// present the matching Bearer access token.
func HandleAuthorize(store *db.Store, recipient *ecdh.PublicKey, validator *chain.Validator, verifier attest.Verifier, cfg AuthorizeConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChainBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorBody("invalid_request", "failed to read request body"))
			return
		}
		if len(body) == 0 {
			c.JSON(http.StatusBadRequest, ErrorBody("invalid_request", "request body must be a serialized intermediate link"))
			return
		}
		if len(body) > maxChainBytes {
			c.JSON(http.StatusBadRequest, ErrorBody("invalid_request", "intermediate link exceeds the size limit"))
			return
		}

		if cfg.Strict {
			if err := verifyAttestation(c, verifier); err != nil {
				return // verifyAttestation wrote the response
			}
		}

		pair, err := validator.ValidatePair(body)
		if err != nil {
			rejectChain(c, err)
			return
		}

		sub, err := store.GetSubject(pair.User.UserID)
		if err != nil {
			logx.Warnf("authorize: subject lookup failed: %v", err)
			c.JSON(http.StatusInternalServerError, ErrorBody("internal_error", "database error"))
			return
		}
		if sub == nil {
			c.JSON(http.StatusNotFound, ErrorBody("unknown_subject", "user is not a registered subject"))
			return
		}
		// Subjects provisioned without a token hash carry no bearer pin.
		if sub.TokenHash != "" {
			token := bearerToken(c)
			if token == "" {
				c.JSON(http.StatusUnauthorized, ErrorBody("invalid_token", "authorization requires a Bearer access token"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(sub.TokenHash)) != 1 {
				logx.Warnf("authorize: access token mismatch for subject %q", sub.Subject)
				c.JSON(http.StatusUnauthorized, ErrorBody("invalid_token", "access token does not match the subject"))
				return
			}
		}

		audience := sub.Audience
		if audience == "" {
			audience = cfg.Audience
		}

		base := cfg.BaseURL
		if base == "" {
			scheme := "http"
			if c.Request.TLS != nil {
				scheme = "https"
			}
			base = scheme + "://" + c.Request.Host
		}
		loc, err := ntdf.NewLocator(base)
		if err != nil {
			logx.Warnf("authorize: bad locator %q: %v", base, err)
			c.JSON(http.StatusInternalServerError, ErrorBody("internal_error", "failed to build key access locator"))
			return
		}

		expiresAt := time.Now().Add(cfg.TerminalTTL)
		terminal, err := chain.NewIssuer(recipient, loc).IssueTerminalLink(claims.TerminalClaims{
			Role:     sub.Role,
			Audience: audience,
			Expiry:   expiresAt.Unix(),
			Subject:  sub.Subject,
		}, body)
		if err != nil {
			logx.Warnf("authorize: terminal issuance failed for subject %q: %v", sub.Subject, err)
			c.JSON(http.StatusInternalServerError, ErrorBody("internal_error", "failed to issue terminal link"))
			return
		}

		if err := store.InsertIssuedLink(&db.IssuedLink{
			Subject:   sub.Subject,
			DeviceID:  pair.Device.DeviceID,
			Platform:  string(pair.Device.PlatformCode),
			AuthLevel: string(pair.User.AuthLevel),
			ExpiresAt: expiresAt,
		}); err != nil {
			// The link is already minted; losing one audit row is not
			// worth failing the issuance.
			logx.Warnf("authorize: audit insert failed for subject %q: %v", sub.Subject, err)
		}

		logx.Infof("issued terminal link subject=%s device=%s platform=%s expires_at=%s",
			sub.Subject, pair.Device.DeviceID, pair.Device.PlatformCode, expiresAt.UTC().Format(time.RFC3339))
		c.Data(http.StatusOK, "application/octet-stream", terminal)
	}
}

// verifyAttestation enforces strict mode: the request must carry a
// verifiable bundle in the X-NTDF-Attestation header. Writes the error
// response itself; a non-nil return means the request was rejected.
func verifyAttestation(c *gin.Context, verifier attest.Verifier) error {
	raw := c.GetHeader("X-NTDF-Attestation")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, ErrorBody("attestation_required", "X-NTDF-Attestation header is required in strict mode"))
		return errors.New("missing attestation")
	}
	var bundle attest.Bundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		c.JSON(http.StatusBadRequest, ErrorBody("invalid_request", "X-NTDF-Attestation header is not a valid bundle"))
		return err
	}
	if verifier == nil {
		c.JSON(http.StatusInternalServerError, ErrorBody("internal_error", "attestation verifier is not configured"))
		return errors.New("no verifier")
	}
	identity, err := verifier.Verify(c.Request.Context(), bundle)
	if err != nil {
		logx.Warnf("authorize: attestation rejected: %v", err)
		c.JSON(http.StatusUnauthorized, ErrorBody("attestation_required", "attestation verification failed"))
		return err
	}
	logx.Debugf("authorize: attestation verified app_id=%q instance_id=%q device_id=%q",
		identity.AppID, identity.InstanceID, identity.DeviceID)
	return nil
}

// rejectChain maps a chain validation failure onto the authorize error
// contract. Cryptographic and structural failures are indistinguishable
// to the caller on purpose.
func rejectChain(c *gin.Context, err error) {
	logx.Warnf("authorize: chain rejected: %v", err)
	switch {
	case errors.Is(err, claims.ErrExpired), errors.Is(err, claims.ErrNotYetValid):
		c.JSON(http.StatusUnauthorized, ErrorBody("stale_claims", "chain claims are outside the accepted window"))
	case errors.Is(err, chain.ErrPlatformRejected):
		c.JSON(http.StatusForbidden, ErrorBody("platform_rejected", "device posture not accepted"))
	default:
		c.JSON(http.StatusBadRequest, ErrorBody("invalid_chain", "intermediate link could not be validated"))
	}
}
