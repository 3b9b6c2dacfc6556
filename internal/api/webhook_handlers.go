package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/proofmeet/courtcard-engine/internal/provider"
	"github.com/proofmeet/courtcard-engine/internal/timeline"
)

// ════════════════════════════════════════════════════════════════════
// Provider webhook handler
// ════════════════════════════════════════════════════════════════════

// Signature headers the provider sends with every event.
const (
	headerSignature = "X-Provider-Signature"
	headerTimestamp = "X-Provider-Request-Timestamp"
)

// POST /webhook/provider
// Handles the URL-validation challenge, verifies event signatures and
// dispatches participant events into the normalizer. The response is
// always 200 for processed-but-dropped events so the provider does not
// retry what we will never accept.
func (h *APIHandler) handleProviderWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	env, err := provider.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed webhook payload"})
		return
	}

	// The validation challenge arrives before the provider starts
	// signing; it is answered with an HMAC proof of the shared secret.
	if env.Event == provider.EventURLValidation {
		v, err := env.DecodeValidation()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed validation payload"})
			return
		}
		c.JSON(http.StatusOK, provider.ChallengeResponse(v.PlainToken, h.cfg.WebhookSecret))
		return
	}

	sig := c.GetHeader(headerSignature)
	ts := c.GetHeader(headerTimestamp)
	if !provider.VerifySignature(body, ts, sig, h.cfg.WebhookSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook signature"})
		return
	}

	switch env.Event {
	case provider.EventParticipantJoin, provider.EventParticipantLeave,
		provider.EventVideoStarted, provider.EventVideoStopped:
		pe, err := env.DecodeParticipantEvent()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed participant event"})
			return
		}
		if err := h.normalizer.IngestWebhook(c.Request.Context(), env.Event, pe); err != nil {
			// Unknown participants/meetings are logged and dropped, not
			// bounced back at the provider.
			if errors.Is(err, timeline.ErrUnknownParticipant) ||
				errors.Is(err, timeline.ErrUnknownMeeting) ||
				errors.Is(err, timeline.ErrNoOfficer) {
				c.JSON(http.StatusOK, gin.H{"status": "dropped"})
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	default:
		log.Printf("[Webhook] Ignoring unhandled provider event %q", env.Event)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}
