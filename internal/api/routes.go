package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/proofmeet/courtcard-engine/internal/card"
	"github.com/proofmeet/courtcard-engine/internal/config"
	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/internal/finalize"
	"github.com/proofmeet/courtcard-engine/internal/timeline"
	"github.com/proofmeet/courtcard-engine/internal/verify"
)

// Rasterizer renders an issued card into a court-ready document
// (HTML/PDF). The rendering engine is deployed separately; when absent
// the PDF endpoint reports unavailable.
type Rasterizer interface {
	RenderPDF(cardID string) ([]byte, error)
}

type APIHandler struct {
	store      *db.Store
	cfg        config.Config
	normalizer *timeline.Normalizer
	issuer     *card.Issuer
	collector  *card.Collector
	verifier   *verify.Verifier
	scheduler  *finalize.Scheduler
	wsHub      *Hub
	tokens     *TokenIssuer
	rasterizer Rasterizer
}

// Deps carries the engine subsystems into the router.
type Deps struct {
	Store      *db.Store
	Cfg        config.Config
	Normalizer *timeline.Normalizer
	Issuer     *card.Issuer
	Collector  *card.Collector
	Verifier   *verify.Verifier
	Scheduler  *finalize.Scheduler
	WSHub      *Hub
	Tokens     *TokenIssuer
	Rasterizer Rasterizer
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://portal.example.org
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := d.Cfg.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	}
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		store:      d.Store,
		cfg:        d.Cfg,
		normalizer: d.Normalizer,
		issuer:     d.Issuer,
		collector:  d.Collector,
		verifier:   d.Verifier,
		scheduler:  d.Scheduler,
		wsHub:      d.WSHub,
		tokens:     d.Tokens,
		rasterizer: d.Rasterizer,
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("")
	pub.Use(NewRateLimiter(60, 10).Middleware())
	{
		pub.GET("/health", handler.handleHealth)
		// Gin's router cannot mix a wildcard with static siblings, so
		// /verify/{cardId} and /verify/card-number/{n} share a dispatch.
		pub.GET("/verify/:a", handler.handleVerifyOne)
		pub.GET("/verify/:a/:b", handler.handleVerifyTwo)
		pub.POST("/card/:id/sign-host", handler.handleSignHost)
	}

	// Provider webhook: authenticated by its own HMAC signature, and
	// rate-limited generously — providers burst on meeting boundaries.
	r.POST("/webhook/provider", NewRateLimiter(600, 100).Middleware(), handler.handleProviderWebhook)

	// ── Participant endpoints ──────────────────────────────────
	part := r.Group("/session")
	part.Use(d.Tokens.RequireRole(RoleTokenParticipant))
	// Heartbeats arrive every 30 s plus activity bursts; size for that.
	part.Use(NewRateLimiter(240, 30).Middleware())
	{
		part.POST("/join", handler.handleSessionJoin)
		part.POST("/leave", handler.handleSessionLeave)
		part.POST("/activity", handler.handleSessionActivity)
		part.POST("/leave-temp", handler.handleSessionLeaveTemp)
		part.POST("/rejoin", handler.handleSessionRejoin)
		part.POST("/snapshot", handler.handleSessionSnapshot)
	}

	partCard := r.Group("/card")
	partCard.Use(d.Tokens.RequireRole(""))
	partCard.Use(NewRateLimiter(60, 10).Middleware())
	{
		partCard.GET("/:id", handler.handleGetCard)
		partCard.POST("/:id/sign", handler.handleSignParticipant)
	}

	// ── Officer endpoints ──────────────────────────────────────
	officer := r.Group("")
	officer.Use(d.Tokens.RequireRole(RoleTokenOfficer))
	officer.Use(NewRateLimiter(120, 20).Middleware())
	{
		officer.GET("/dashboard", handler.handleDashboard)
		officer.GET("/participants", handler.handleListParticipants)
		officer.POST("/participants", handler.handleCreateParticipant)
		officer.GET("/participants/:id", handler.handleGetParticipant)
		officer.POST("/participants/:id/requirement", handler.handleSetRequirement)
		officer.GET("/card/:id/pdf", handler.handleCardPDF)
		officer.POST("/card/:id/host-link", handler.handleMintHostLink)
		officer.GET("/finalizer/progress", handler.handleFinalizerProgress)
		officer.GET("/stream", d.WSHub.Subscribe)
	}

	return r
}

// handleHealth returns engine status and capabilities for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "Court Card Attendance Engine v1.0",
		"capabilities": gin.H{
			"webhook_ingest":    true,
			"heartbeat_ingest":  true,
			"hash_chain":        true,
			"qr_payloads":       true,
			"rule_shadow_mode":  true,
			"officer_digests":   true,
			"public_verifier":   true,
		},
		"windowRule":  h.cfg.AttendanceWindowRule,
		"dbConnected": h.store != nil,
	})
}

// handleFinalizerProgress returns the scheduler's counters.
func (h *APIHandler) handleFinalizerProgress(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Finalizer not initialized"})
		return
	}
	c.JSON(http.StatusOK, h.scheduler.GetProgress())
}
