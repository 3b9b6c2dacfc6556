package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/proofmeet/courtcard-engine/internal/card"
	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/internal/timeline"
)

// respondError maps engine errors onto the HTTP taxonomy: 400 domain
// violations, 401/403 auth, 404 absent, 409 uniqueness or terminal
// state, 503 transient. Store errors are never swallowed — anything
// unrecognized surfaces as a 500 with its message.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, db.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict with an existing record or state"})
	case errors.Is(err, db.ErrCASFailed):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Transient store conflict, retry shortly"})
	case errors.Is(err, card.ErrStateInvalid):
		c.JSON(http.StatusConflict, gin.H{"error": "STATE_INVALID: card integrity is compromised and it can no longer be signed"})
	case errors.Is(err, card.ErrAlreadySigned):
		c.JSON(http.StatusConflict, gin.H{"error": "This role has already signed the card"})
	case errors.Is(err, card.ErrRoleRejected):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PARTICIPANT and HOST signatures are accepted"})
	case errors.Is(err, card.ErrMethodMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Auth method is not valid for this signer role"})
	case errors.Is(err, card.ErrBadCredential):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Credential rejected"})
	case errors.Is(err, card.ErrNonceInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Signing link is invalid, expired or already used"})
	case errors.Is(err, timeline.ErrSessionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "Session is no longer accepting events"})
	case errors.Is(err, timeline.ErrUnknownParticipant), errors.Is(err, timeline.ErrUnknownMeeting):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, timeline.ErrNoOfficer):
		c.JSON(http.StatusConflict, gin.H{"error": "Participant has no supervising officer assigned"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "details": err.Error()})
	}
}
