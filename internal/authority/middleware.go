package authority

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arkavo-org/ntdf-go/internal/authority/handler"
	"github.com/arkavo-org/ntdf-go/internal/chain"
	"github.com/arkavo-org/ntdf-go/internal/claims"
	"github.com/arkavo-org/ntdf-go/internal/dpop"
	"github.com/arkavo-org/ntdf-go/internal/logx"
)

// CORS returns a Gin middleware that handles Cross-Origin Resource Sharing.
func CORS(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed[strings.TrimRight(origin, "/")] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, DPoP, X-NTDF-Attestation")
			c.Header("Access-Control-Max-Age", "86400")

			if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		}

		c.Next()
	}
}

// AdminAuth returns a Gin middleware that requires a valid Bearer token.
func AdminAuth(token string) gin.HandlerFunc {
	expected := "Bearer " + token
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must use Bearer scheme"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

// RequireChain returns a Gin middleware that authenticates requests by
// a terminal link presented as `Authorization: NTDF <base64>`. The
// validated chain and the raw credential are stored on the context.
func RequireChain(validator *chain.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorBody("invalid_token", "missing Authorization header"))
			return
		}
		if !strings.HasPrefix(auth, "NTDF ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorBody("invalid_token", "Authorization header must use NTDF scheme"))
			return
		}
		credential := strings.TrimPrefix(auth, "NTDF ")

		raw, err := base64.StdEncoding.DecodeString(credential)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorBody("invalid_token", "credential is not valid base64"))
			return
		}

		validated, err := validator.ValidateChain(raw)
		if err != nil {
			logx.Warnf("terminal chain rejected: %v", err)
			switch {
			case errors.Is(err, claims.ErrExpired), errors.Is(err, claims.ErrNotYetValid):
				c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorBody("stale_claims", "chain claims are outside the accepted window"))
			case errors.Is(err, chain.ErrPlatformRejected):
				c.AbortWithStatusJSON(http.StatusForbidden, handler.ErrorBody("platform_rejected", "device posture not accepted"))
			case errors.Is(err, chain.ErrAudienceMismatch):
				c.AbortWithStatusJSON(http.StatusForbidden, handler.ErrorBody("invalid_chain", "terminal link was minted for a different audience"))
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorBody("invalid_token", "terminal link rejected"))
			}
			return
		}

		c.Set(handler.ChainContextKey, validated)
		c.Set(handler.CredentialContextKey, credential)
		c.Next()
	}
}

// RequireProof returns a Gin middleware that demands a DPoP proof for
// the exact request, bound to the NTDF credential when one was
// presented. Runs after RequireChain.
func RequireProof(proofs *dpop.Validator, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proof := c.GetHeader("DPoP")
		if proof == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorBody("invalid_proof", "missing DPoP header"))
			return
		}

		htu := requestURL(c, baseURL)
		var opts []dpop.ValidateOption
		if credential, ok := c.Get(handler.CredentialContextKey); ok {
			opts = append(opts, dpop.WithExpectedAccessToken(credential.(string)))
		}

		if _, err := proofs.Validate(proof, c.Request.Method, htu, opts...); err != nil {
			logx.Warnf("proof rejected: %v", err)
			switch {
			case errors.Is(err, dpop.ErrProofReplayed):
				c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorBody("proof_replayed", "proof has already been used"))
			case errors.Is(err, dpop.ErrProofExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorBody("proof_expired", "proof issued outside the accepted window"))
			case errors.Is(err, dpop.ErrProofBindingMismatch):
				c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorBody("proof_binding_mismatch", "proof is not bound to the presented credential"))
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorBody("invalid_proof", "proof rejected"))
			}
			return
		}
		c.Next()
	}
}

// requestURL rebuilds the URL a client signed, query included. A
// configured base URL wins so proxies cannot skew the htu comparison.
func requestURL(c *gin.Context, baseURL string) string {
	path := c.Request.URL.Path
	if q := c.Request.URL.RawQuery; q != "" {
		path += "?" + q
	}
	if baseURL != "" {
		return baseURL + path
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + path
}
