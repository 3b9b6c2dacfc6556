package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ════════════════════════════════════════════════════════════════════
// Public verifier handlers
//
// Unauthenticated read side. Every read recomputes the card hash; a
// mismatch is reported as tampered=true with HTTP 200 — integrity
// failures are data, never server errors.
// ════════════════════════════════════════════════════════════════════

// handleVerifyOne serves GET /verify/{cardId}.
func (h *APIHandler) handleVerifyOne(c *gin.Context) {
	report, err := h.verifier.ByCardID(c.Request.Context(), c.Param("a"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleVerifyTwo serves the two-segment verify paths:
//
//	GET /verify/card-number/{n}
//	GET /verify/participant/{email}
//	GET /verify/case/{caseNumber}
//	GET /verify/{cardId}/qr.png
func (h *APIHandler) handleVerifyTwo(c *gin.Context) {
	a, b := c.Param("a"), c.Param("b")
	switch a {
	case "card-number":
		report, err := h.verifier.ByCardNumber(c.Request.Context(), b)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	case "participant":
		reports, err := h.verifier.ByParticipantEmail(c.Request.Context(), b)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cards": reports, "count": len(reports)})
	case "case":
		reports, err := h.verifier.ByCaseNumber(c.Request.Context(), b)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cards": reports, "count": len(reports)})
	default:
		if b != "qr.png" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		h.serveCardQR(c, a)
	}
}

// serveCardQR streams a card's rendered QR image.
func (h *APIHandler) serveCardQR(c *gin.Context, cardID string) {
	crd, err := h.store.GetCard(c.Request.Context(), cardID)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(crd.QRImage) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "QR image not available for this card"})
		return
	}
	c.Data(http.StatusOK, "image/png", crd.QRImage)
}
