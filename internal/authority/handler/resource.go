package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arkavo-org/ntdf-go/internal/chain"
)

// HandleResource handles GET /v1/resource, a demo endpoint gated by
// the chain and proof middleware. It echoes the validated claim triple
// so callers can see what the resource server would act on.
func HandleResource() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ChainContextKey)
		if !ok {
			c.JSON(http.StatusInternalServerError, ErrorBody("internal_error", "chain middleware did not run"))
			return
		}
		validated := v.(*chain.ValidatedChain)

		c.JSON(http.StatusOK, gin.H{
			"subject":        validated.Terminal.Subject,
			"role":           validated.Terminal.Role,
			"audience":       validated.Terminal.Audience,
			"user_id":        validated.User.UserID,
			"auth_level":     validated.User.AuthLevel,
			"device_id":      validated.Device.DeviceID,
			"platform":       validated.Device.PlatformCode,
			"platform_state": validated.Device.PlatformState,
		})
	}
}
