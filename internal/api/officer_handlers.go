package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/internal/requirement"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Officer handlers: dashboard, caseload, requirements
// ════════════════════════════════════════════════════════════════════

// GET /dashboard
// Caseload summary for the authenticated officer: supervised
// participants with their compliance state, plus finalizer progress.
func (h *APIHandler) handleDashboard(c *gin.Context) {
	officerID := subjectOf(c)

	participants, err := h.store.ParticipantsByOfficer(c.Request.Context(), officerID, true)
	if err != nil {
		respondError(c, err)
		return
	}

	type row struct {
		Participant models.Participant  `json:"participant"`
		Compliance  *requirement.Status `json:"compliance,omitempty"`
	}
	rows := make([]row, 0, len(participants))
	compliant := 0
	for _, p := range participants {
		r := row{Participant: p}
		if req, err := h.store.ActiveRequirement(c.Request.Context(), p.ID); err == nil {
			cards, err := h.store.CardsByParticipantID(c.Request.Context(), p.ID)
			if err != nil {
				respondError(c, err)
				return
			}
			st := requirement.Evaluate(req, cards, time.Now(), "")
			r.Compliance = &st
			if st.State == requirement.Compliant {
				compliant++
			}
		} else if err != db.ErrNotFound {
			respondError(c, err)
			return
		}
		rows = append(rows, r)
	}

	c.JSON(http.StatusOK, gin.H{
		"participants": rows,
		"totals": gin.H{
			"supervised": len(participants),
			"compliant":  compliant,
		},
		"finalizer": h.scheduler.GetProgress(),
	})
}

// GET /participants?status=active|all
func (h *APIHandler) handleListParticipants(c *gin.Context) {
	activeOnly := c.DefaultQuery("status", "active") != "all"
	participants, err := h.store.ParticipantsByOfficer(c.Request.Context(), subjectOf(c), activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	if participants == nil {
		participants = []models.Participant{}
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

// POST /participants { "email": "...", "name": "...", "caseNumber": "..." }
// Registers a participant under the authenticated officer's
// supervision.
func (h *APIHandler) handleCreateParticipant(c *gin.Context) {
	var req struct {
		Email      string `json:"email" binding:"required,email"`
		Name       string `json:"name" binding:"required"`
		CaseNumber string `json:"caseNumber" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	p := &models.Participant{
		Email:                req.Email,
		Name:                 req.Name,
		CaseNumber:           req.CaseNumber,
		SupervisingOfficerID: subjectOf(c),
	}
	if err := h.store.CreateParticipant(c.Request.Context(), p); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"participant": p})
}

// GET /participants/:id
// Participant detail: record, active requirement, compliance status,
// session history and card chain.
func (h *APIHandler) handleGetParticipant(c *gin.Context) {
	participant, err := h.store.GetParticipant(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if participant.SupervisingOfficerID != subjectOf(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Participant is supervised by another officer"})
		return
	}

	cards, err := h.store.CardsByParticipantID(c.Request.Context(), participant.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	sessions, err := h.store.SessionsByParticipant(c.Request.Context(), participant.ID, "", 50)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"participant": participant,
		"cards":       cards,
		"sessions":    sessions,
	}
	if req, err := h.store.ActiveRequirement(c.Request.Context(), participant.ID); err == nil {
		resp["requirement"] = req
		st := requirement.Evaluate(req, cards, time.Now(), "")
		resp["compliance"] = st
	} else if err != db.ErrNotFound {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// POST /participants/:id/requirement
// Activates a new requirement, deactivating any prior active one.
func (h *APIHandler) handleSetRequirement(c *gin.Context) {
	var req struct {
		TotalMeetingsRequired int      `json:"totalMeetingsRequired"`
		MeetingsPerWeek       int      `json:"meetingsPerWeek"`
		RequiredPrograms      []string `json:"requiredPrograms"`
		MinimumDurationMin    int      `json:"minimumDurationMin"`
		MinimumAttendancePct  float64  `json:"minimumAttendancePct"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if req.TotalMeetingsRequired < 0 || req.MeetingsPerWeek < 0 || req.MinimumDurationMin < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Counts and durations must be non-negative"})
		return
	}
	if req.MinimumAttendancePct < 0 || req.MinimumAttendancePct > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minimumAttendancePct must be within [0, 100]"})
		return
	}

	participant, err := h.store.GetParticipant(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if participant.SupervisingOfficerID != subjectOf(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Participant is supervised by another officer"})
		return
	}

	r := &models.Requirement{
		ParticipantID:         participant.ID,
		OfficerID:             subjectOf(c),
		TotalMeetingsRequired: req.TotalMeetingsRequired,
		MeetingsPerWeek:       req.MeetingsPerWeek,
		RequiredPrograms:      req.RequiredPrograms,
		MinimumDurationMin:    req.MinimumDurationMin,
		MinimumAttendancePct:  req.MinimumAttendancePct,
	}
	if err := h.store.SetRequirement(c.Request.Context(), r); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"requirement": r})
}
