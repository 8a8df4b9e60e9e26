package handler

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleKASPublicKey handles GET /v1/kas/public-key. Clients encrypt
// chain links to this key before calling /authorize.
func HandleKASPublicKey(compressed []byte) gin.HandlerFunc {
	body := gin.H{
		"public_key": base64.StdEncoding.EncodeToString(compressed),
		"curve":      "P-256",
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, body)
	}
}
