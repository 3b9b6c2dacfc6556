package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/internal/timeline"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Participant session handlers
// ════════════════════════════════════════════════════════════════════

// POST /session/join { "externalMeetingId": "..." }
// Opens an attendance session for the authenticated participant and
// records the JOINED event.
func (h *APIHandler) handleSessionJoin(c *gin.Context) {
	var req struct {
		ExternalMeetingID string `json:"externalMeetingId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	participant, err := h.store.GetParticipant(c.Request.Context(), subjectOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if !participant.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Participant account is deactivated"})
		return
	}
	if participant.SupervisingOfficerID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "No supervising officer assigned; sessions cannot be opened"})
		return
	}

	meeting, err := h.store.GetExternalMeeting(c.Request.Context(), req.ExternalMeetingID)
	if err != nil {
		respondError(c, err)
		return
	}

	sess := &models.Session{
		ParticipantID:     participant.ID,
		OfficerID:         participant.SupervisingOfficerID,
		ExternalMeetingID: meeting.ID,
		JoinTime:          time.Now().UTC(),
	}
	if err := h.store.CreateSession(c.Request.Context(), sess); err != nil {
		respondError(c, err)
		return
	}
	if err := h.normalizer.RecordAPIEvent(c.Request.Context(), sess.ID, models.EventJoined, nil); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionId": sess.ID,
		"joinUrl":   meeting.JoinURL,
		"meeting":   meeting.Name,
	})
}

// POST /session/leave { "sessionId": "..." }
// Records the LEFT event and transitions the session to COMPLETED; the
// finalizer reconciles and issues the card on its next tick.
func (h *APIHandler) handleSessionLeave(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	if sess.Status != models.SessionInProgress {
		c.JSON(http.StatusConflict, gin.H{"error": "Session is already " + string(sess.Status)})
		return
	}

	if err := h.normalizer.RecordAPIEvent(c.Request.Context(), sess.ID, models.EventLeft, nil); err != nil {
		respondError(c, err)
		return
	}

	now := time.Now().UTC()
	err := h.store.UpdateDerivedRetry(c.Request.Context(), sess.ID, func(cur *models.Session) db.DerivedFields {
		leave := now
		return db.DerivedFields{
			LeaveTime:          &leave,
			Status:             models.SessionCompleted,
			Totals:             cur.Totals,
			AttendancePct:      cur.AttendancePct,
			VerificationMethod: cur.VerificationMethod,
			IsValid:            cur.IsValid,
			CardIssued:         cur.CardIssued,
		}
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "completed", "sessionId": sess.ID})
}

// POST /session/activity { "sessionId": "...", "kind": "ACTIVE", "t": "...", "meta": {...} }
// Client heartbeat ingest. Idempotent on (sessionId, kind, second).
func (h *APIHandler) handleSessionActivity(c *gin.Context) {
	var req struct {
		SessionID string                 `json:"sessionId" binding:"required"`
		Kind      string                 `json:"kind" binding:"required"`
		T         string                 `json:"t"`
		Meta      map[string]interface{} `json:"meta"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	kind, err := timeline.ParseHeartbeatKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.sessionOwnedBy(c, req.SessionID) {
		return
	}

	var reported time.Time
	hasReported := false
	if req.T != "" {
		if reported, err = time.Parse(time.RFC3339, req.T); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timestamp, want RFC 3339"})
			return
		}
		hasReported = true
	}

	if err := h.normalizer.RecordHeartbeat(c.Request.Context(), req.SessionID, kind, reported, hasReported, req.Meta); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// POST /session/leave-temp { "sessionId": "...", "reason": "..." }
// Marks a temporary departure. The session stays IN_PROGRESS; the
// reconciler pairs this with the later rejoin as an away period.
func (h *APIHandler) handleSessionLeaveTemp(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if !h.sessionOwnedBy(c, req.SessionID) {
		return
	}

	meta := map[string]interface{}{"temporary": true}
	if req.Reason != "" {
		meta["reason"] = req.Reason
	}
	if err := h.normalizer.RecordAPIEvent(c.Request.Context(), req.SessionID, models.EventLeft, meta); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "away"})
}

// POST /session/rejoin { "sessionId": "..." }
func (h *APIHandler) handleSessionRejoin(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if !h.sessionOwnedBy(c, req.SessionID) {
		return
	}

	if err := h.normalizer.RecordAPIEvent(c.Request.Context(), req.SessionID, models.EventJoined,
		map[string]interface{}{"rejoin": true}); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejoined"})
}

// POST /session/snapshot { "sessionId": "...", "blobRef": "...", ... }
// Records a webcam snapshot reference captured by the client. The image
// itself goes to the object store out of band.
func (h *APIHandler) handleSessionSnapshot(c *gin.Context) {
	var req struct {
		SessionID         string   `json:"sessionId" binding:"required"`
		BlobRef           string   `json:"blobRef" binding:"required"`
		MinuteIntoMeeting int      `json:"minuteIntoMeeting"`
		FaceDetected      *bool    `json:"faceDetected"`
		MatchScore        *float64 `json:"matchScore"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if !h.sessionOwnedBy(c, req.SessionID) {
		return
	}

	snap := &models.WebcamSnapshot{
		SessionID:         req.SessionID,
		CapturedAt:        time.Now().UTC(),
		MinuteIntoMeeting: req.MinuteIntoMeeting,
		BlobRef:           req.BlobRef,
		FaceDetected:      req.FaceDetected,
		MatchScore:        req.MatchScore,
	}
	if err := h.store.SaveWebcamSnapshot(c.Request.Context(), snap); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"snapshotId": snap.ID})
}

// ownedSession loads the session named in the request body and checks
// it belongs to the authenticated participant.
func (h *APIHandler) ownedSession(c *gin.Context) (*models.Session, bool) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return nil, false
	}
	sess, err := h.store.GetSession(c.Request.Context(), req.SessionID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if sess.ParticipantID != subjectOf(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Session belongs to another participant"})
		return nil, false
	}
	return sess, true
}

// sessionOwnedBy checks ownership without re-reading the body.
func (h *APIHandler) sessionOwnedBy(c *gin.Context, sessionID string) bool {
	sess, err := h.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return false
	}
	if sess.ParticipantID != subjectOf(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Session belongs to another participant"})
		return false
	}
	return true
}
