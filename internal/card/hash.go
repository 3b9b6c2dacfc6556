package card

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Card content hashing
//
// The hash commits to the card's snapshot fields through an RFC 8785
// canonical JSON form: keys sorted lexicographically, no insignificant
// whitespace, shortest-round-trip numbers, timestamps as RFC 3339 UTC
// to the second. Recomputing it from a stored card must reproduce the
// stored hash bit-for-bit, or the card is tampered.
// ──────────────────────────────────────────────────────────────────

// hashContent is the exact field set committed to by the card hash.
type hashContent struct {
	SessionID        string  `json:"sessionId"`
	ParticipantEmail string  `json:"participantEmail"`
	CaseNumber       string  `json:"caseNumber"`
	OfficerEmail     string  `json:"officerEmail"`
	MeetingID        string  `json:"meetingId"`
	MeetingName      string  `json:"meetingName"`
	MeetingDate      string  `json:"meetingDate"` // YYYY-MM-DD
	Join             string  `json:"join"`        // RFC 3339 UTC, second precision
	Leave            string  `json:"leave"`
	TotalMin         float64 `json:"totalDurationMin"`
	ActiveMin        float64 `json:"activeDurationMin"`
	IdleMin          float64 `json:"idleDurationMin"`
	VideoOnMin       float64 `json:"videoOnDurationMin"`
	AttendancePct    float64 `json:"attendancePct"`
	Verdict          string  `json:"verdict"`
}

func contentOf(c *models.CourtCard) hashContent {
	return hashContent{
		SessionID:        c.SessionID,
		ParticipantEmail: c.Participant.Email,
		CaseNumber:       c.Participant.CaseNumber,
		OfficerEmail:     c.Officer.Email,
		MeetingID:        c.Meeting.MeetingID,
		MeetingName:      c.Meeting.Name,
		MeetingDate:      c.Meeting.Date,
		Join:             c.Metrics.Join,
		Leave:            c.Metrics.Leave,
		TotalMin:         c.Metrics.TotalDurationMin,
		ActiveMin:        c.Metrics.ActiveDurationMin,
		IdleMin:          c.Metrics.IdleDurationMin,
		VideoOnMin:       c.Metrics.VideoOnDurationMin,
		AttendancePct:    c.Metrics.AttendancePct,
		Verdict:          string(c.Verdict),
	}
}

// FormatStamp renders a timestamp the way the card hash commits to it:
// RFC 3339 UTC truncated to the second.
func FormatStamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ComputeHash returns the SHA-256 hex digest of the card's canonical
// content, recomputable from the stored snapshot fields alone.
func ComputeHash(c *models.CourtCard) (string, error) {
	raw, err := json.Marshal(contentOf(c))
	if err != nil {
		return "", fmt.Errorf("marshal card content: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize card content: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
