package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arkavo-org/ntdf-go/internal/authority/db"
	"github.com/arkavo-org/ntdf-go/internal/logx"
)

// HandleListChains handles GET /v1/chains, the terminal issuance audit
// log, newest first.
func HandleListChains(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}

		links, err := store.ListIssuedLinks(limit)
		if err != nil {
			logx.Warnf("ListChains error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list issued links"})
			return
		}
		c.JSON(http.StatusOK, links)
	}
}
