// Package handler implements the authority's HTTP endpoints.
package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by the chain middleware.
const (
	// ChainContextKey holds the *chain.ValidatedChain for the request.
	ChainContextKey = "ntdf.chain"
	// CredentialContextKey holds the raw base64 credential, for proof
	// binding checks.
	CredentialContextKey = "ntdf.credential"
)

// ErrorBody builds the error shape used on the issuance and resource
// boundaries: a stable machine code plus a human message.
func ErrorBody(code, message string) gin.H {
	return gin.H{"error": code, "message": message}
}

// HashToken is the stored form of a subject access token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}
