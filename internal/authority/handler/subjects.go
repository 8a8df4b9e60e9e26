package handler

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arkavo-org/ntdf-go/internal/authority/db"
	"github.com/arkavo-org/ntdf-go/internal/logx"
)

type createSubjectRequest struct {
	Subject  string `json:"subject" binding:"required"`
	Role     string `json:"role" binding:"required"`
	Audience string `json:"audience"`
}

// HandleCreateSubject handles POST /v1/subjects. The generated access
// token is returned exactly once; only its hash is stored.
func HandleCreateSubject(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSubjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		token, err := newAccessToken()
		if err != nil {
			logx.Warnf("CreateSubject: token generation failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate access token"})
			return
		}

		sub := &db.Subject{
			Subject:   req.Subject,
			Role:      req.Role,
			Audience:  req.Audience,
			TokenHash: HashToken(token),
		}
		if err := store.CreateSubject(sub); err != nil {
			if errors.Is(err, db.ErrSubjectExists) {
				c.JSON(http.StatusConflict, gin.H{"error": "subject already exists"})
				return
			}
			logx.Warnf("CreateSubject(%q) error: %v", req.Subject, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subject"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"subject":      req.Subject,
			"role":         req.Role,
			"audience":     req.Audience,
			"access_token": token,
		})
	}
}

// HandleListSubjects handles GET /v1/subjects.
func HandleListSubjects(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		subs, err := store.ListSubjects()
		if err != nil {
			logx.Warnf("ListSubjects error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list subjects"})
			return
		}
		c.JSON(http.StatusOK, subs)
	}
}

// HandleGetSubject handles GET /v1/subjects/:subject.
func HandleGetSubject(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("subject")
		sub, err := store.GetSubject(name)
		if err != nil {
			logx.Warnf("GetSubject(%q) error: %v", name, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve subject"})
			return
		}
		if sub == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

// HandleDeleteSubject handles DELETE /v1/subjects/:subject.
func HandleDeleteSubject(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("subject")
		cascade := c.Query("cascade") == "true"

		var deleted bool
		var err error
		if cascade {
			deleted, err = store.DeleteSubjectCascade(name)
		} else {
			deleted, err = store.DeleteSubject(name)
		}

		if err != nil {
			if errors.Is(err, db.ErrSubjectHasLinks) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			} else {
				logx.Warnf("DeleteSubject(%q) error: %v", name, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subject"})
			}
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "subject": name})
	}
}

func newAccessToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
