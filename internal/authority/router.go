package authority

import (
	"github.com/gin-gonic/gin"

	"github.com/arkavo-org/ntdf-go/internal/attest"
	"github.com/arkavo-org/ntdf-go/internal/authority/db"
	"github.com/arkavo-org/ntdf-go/internal/authority/handler"
	"github.com/arkavo-org/ntdf-go/internal/chain"
	"github.com/arkavo-org/ntdf-go/internal/dpop"
)

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(store *db.Store, kas *KAS, cfg *Config) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/", func(c *gin.Context) {
		c.String(200, "ok")
	})
	r.StaticFile("/openapi.json", "docs/openapi.json")

	admin := AdminAuth(cfg.AdminToken)
	validator := chain.NewValidator(kas.Key, cfg.ChainPolicy())
	proofs := dpop.NewValidator(dpop.WithSkew(cfg.ClockSkew))
	verifier := attest.NewRATLSVerifier()

	// Terminal issuance. No admin auth; the chain plus the subject's
	// access token are the credential.
	r.POST("/authorize", handler.HandleAuthorize(store, kas.Key.PublicKey(), validator, verifier, handler.AuthorizeConfig{
		Audience:    cfg.Audience,
		TerminalTTL: cfg.TerminalTTL,
		Strict:      cfg.AttestStrict,
		BaseURL:     cfg.BaseURL,
	}))

	v1 := r.Group("/v1")
	{
		v1.GET("/kas/public-key", handler.HandleKASPublicKey(kas.Public))

		// Subjects
		v1.POST("/subjects", admin, handler.HandleCreateSubject(store))
		v1.GET("/subjects", admin, handler.HandleListSubjects(store))
		v1.GET("/subjects/:subject", admin, handler.HandleGetSubject(store))
		v1.DELETE("/subjects/:subject", admin, handler.HandleDeleteSubject(store))

		// Issuance audit log
		v1.GET("/chains", admin, handler.HandleListChains(store))

		// Demo protected resource: terminal chain plus per-request proof.
		v1.GET("/resource", RequireChain(validator), RequireProof(proofs, cfg.BaseURL), handler.HandleResource())
	}

	return r
}
