package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/proofmeet/courtcard-engine/internal/card"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Card handlers: retrieval, signing, PDF
// ════════════════════════════════════════════════════════════════════

// GET /card/:id
// Full card view for the owning participant or any officer, including
// signatures and webcam snapshot references.
func (h *APIHandler) handleGetCard(c *gin.Context) {
	crd, err := h.store.GetCard(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	// Participants may only read their own cards; officers read any.
	if roleOf(c) == RoleTokenParticipant {
		participant, err := h.store.GetParticipant(c.Request.Context(), subjectOf(c))
		if err != nil || participant.Email != crd.Participant.Email {
			c.JSON(http.StatusForbidden, gin.H{"error": "Card belongs to another participant"})
			return
		}
	}

	sigs, err := h.store.SignaturesByCard(c.Request.Context(), crd.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	snaps, err := h.store.WebcamSnapshots(c.Request.Context(), crd.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"card":       crd,
		"signatures": sigs,
		"snapshots":  snaps,
	})
}

// POST /card/:id/sign { "method": "PASSWORD", "credential": "...", "confirmText": "..." }
// Participant signing with password verification through the auth
// subsystem.
func (h *APIHandler) handleSignParticipant(c *gin.Context) {
	var req struct {
		Method      string `json:"method" binding:"required"`
		Credential  string `json:"credential" binding:"required"`
		ConfirmText string `json:"confirmText"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if roleOf(c) != RoleTokenParticipant {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only participants sign through this endpoint"})
		return
	}

	participant, err := h.store.GetParticipant(c.Request.Context(), subjectOf(c))
	if err != nil {
		respondError(c, err)
		return
	}

	sig, full, err := h.collector.Sign(c.Request.Context(), c.Param("id"), card.Attempt{
		Role:       models.RoleParticipant,
		Method:     models.AuthMethod(req.Method),
		Credential: req.Credential,
		SignerID:   participant.ID,
		SignerName: participant.Name,
		IP:         c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "signed",
		"signatureId": sig.ID,
		"fullySigned": full,
	})
}

// POST /card/:id/sign-host { "nonce": "...", "signerName": "..." }
// Host signing via the single-use email link. Public: the nonce is the
// credential.
func (h *APIHandler) handleSignHost(c *gin.Context) {
	var req struct {
		Nonce      string `json:"nonce" binding:"required"`
		SignerName string `json:"signerName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	sig, full, err := h.collector.Sign(c.Request.Context(), c.Param("id"), card.Attempt{
		Role:       models.RoleHost,
		Method:     models.AuthEmailLink,
		Credential: req.Nonce,
		SignerName: req.SignerName,
		IP:         c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "signed",
		"signatureId": sig.ID,
		"fullySigned": full,
	})
}

// POST /card/:id/host-link { "hostEmail": "..." }
// Officer-initiated: mints the single-use signing nonce mailed to the
// meeting host.
func (h *APIHandler) handleMintHostLink(c *gin.Context) {
	var req struct {
		HostEmail string `json:"hostEmail" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	// The card must exist and be intact before a link goes out.
	crd, err := h.store.GetCard(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if crd.Tampered {
		respondError(c, card.ErrStateInvalid)
		return
	}

	nonce, err := h.collector.MintHostNonce(c.Request.Context(), crd.ID, req.HostEmail)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"signUrl":   h.cfg.PublicBaseURL + "/card/" + crd.ID + "/sign-host",
		"nonce":     nonce,
		"expiresIn": h.cfg.SignatureLinkMaxDays * 24 * 3600,
	})
}

// GET /card/:id/pdf
// Court-ready document render. The rasterizer is an external
// collaborator; without one this endpoint reports unavailable.
func (h *APIHandler) handleCardPDF(c *gin.Context) {
	if h.rasterizer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Document rasterizer not configured"})
		return
	}
	pdf, err := h.rasterizer.RenderPDF(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/pdf", pdf)
}
