package card

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/internal/reconcile"
	"github.com/proofmeet/courtcard-engine/internal/validate"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Card Issuer
//
// Runs once per session on entry to COMPLETED: snapshots the parties
// and the meeting, freezes the reconciled metrics and verdict, numbers
// the card, hashes the content, links it into the participant's chain
// and persists it. Card, numbering and chain link are written in one
// transaction; the QR and the SYSTEM signature are stored afterwards in
// separate writes. Later renames of any party never mutate an issued card.
// ──────────────────────────────────────────────────────────────────

const qrPNGSize = 256

// Issuer builds and persists Court Cards.
type Issuer struct {
	store         *db.Store
	publicBaseURL string
	systemSigner  *Signer // SYSTEM attestation applied at issue time
	onIssued      func(card *models.CourtCard)
}

// NewIssuer wires a card issuer. onIssued (optional) is invoked after a
// successful issue; the dispatcher uses it to fan out notifications.
func NewIssuer(store *db.Store, publicBaseURL string, systemSigner *Signer, onIssued func(*models.CourtCard)) *Issuer {
	return &Issuer{
		store:         store,
		publicBaseURL: publicBaseURL,
		systemSigner:  systemSigner,
		onIssued:      onIssued,
	}
}

// qrPayload is the compact verification payload encoded into the QR.
type qrPayload struct {
	CN string `json:"cn"` // card number
	ID string `json:"id"` // card id
	H  string `json:"h"`  // first 32 hex chars of the content hash
}

// Issue builds the card for a COMPLETED session. Idempotent: if a card
// already exists for the session it is returned unchanged.
func (i *Issuer) Issue(ctx context.Context, sess *models.Session, rec reconcile.Result, outcome validate.Outcome) (*models.CourtCard, error) {
	if sess.Status != models.SessionCompleted {
		return nil, fmt.Errorf("issue card: session %s is %s, not COMPLETED", sess.ID, sess.Status)
	}

	if existing, err := i.store.GetCardBySession(ctx, sess.ID); err == nil {
		return existing, nil
	} else if err != db.ErrNotFound {
		return nil, err
	}

	participant, err := i.store.GetParticipant(ctx, sess.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("load participant for issue: %w", err)
	}
	officer, err := i.store.GetOfficer(ctx, sess.OfficerID)
	if err != nil {
		return nil, fmt.Errorf("load officer for issue: %w", err)
	}
	meeting, err := i.store.GetExternalMeeting(ctx, sess.ExternalMeetingID)
	if err != nil {
		return nil, fmt.Errorf("load meeting for issue: %w", err)
	}

	now := time.Now().UTC()
	card := &models.CourtCard{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Participant: models.ParticipantSnapshot{
			Name:       participant.Name,
			Email:      participant.Email,
			CaseNumber: participant.CaseNumber,
		},
		Officer: models.OfficerSnapshot{
			Name:         officer.Name,
			Email:        officer.Email,
			Badge:        officer.Badge,
			Organization: officer.Organization,
		},
		Meeting: models.MeetingSnapshot{
			MeetingID:            meeting.ID,
			Name:                 meeting.Name,
			Program:              meeting.Program,
			Date:                 rec.JoinTime.UTC().Format("2006-01-02"),
			ScheduledStart:       FormatStamp(meeting.ScheduledStart),
			ScheduledDurationMin: meeting.ScheduledDurationMin,
			Timezone:             meeting.Timezone,
		},
		Metrics: models.CardMetrics{
			SessionTotals:     rec.Totals,
			AttendancePct:     rec.AttendancePct,
			HeartbeatCoverage: rec.HeartbeatCoverage,
			Join:              FormatStamp(rec.JoinTime),
			Leave:             FormatStamp(rec.LeaveTime),
		},
		Verdict:     outcome.Verdict,
		Violations:  outcome.Violations,
		Explanation: outcome.Explanation,
		GeneratedAt: now,
	}

	card.Hash, err = ComputeHash(card)
	if err != nil {
		return nil, err
	}

	card.VerificationURL = fmt.Sprintf("%s/verify/%s", i.publicBaseURL, card.ID)

	// Number, prevHash and chainPosition are assigned inside the
	// issuance transaction. The QR payload carries the card number, so
	// it is built and attached after the counter hands the number out.
	if err := i.store.PersistCard(ctx, card, now.Year(), PadCase(participant.CaseNumber), participant.ID); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(qrPayload{CN: card.Number, ID: card.ID, H: card.Hash[:32]})
	if err != nil {
		return nil, fmt.Errorf("marshal qr payload: %w", err)
	}
	card.QRPayload = string(payload)
	card.QRImage, err = qrcode.Encode(card.QRPayload, qrcode.Highest, qrPNGSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	if err := i.store.AttachQR(ctx, card.ID, card.QRPayload, card.QRImage); err != nil {
		return nil, err
	}

	if i.systemSigner != nil {
		sig, err := i.systemSigner.SignCard(card, models.RoleSystem, models.AuthSystemGenerated, "system", "")
		if err != nil {
			log.Printf("[Issuer] Failed to produce system signature for card %s: %v", card.Number, err)
		} else if err := i.store.InsertSignature(ctx, sig); err != nil && err != db.ErrConflict {
			log.Printf("[Issuer] Failed to persist system signature for card %s: %v", card.Number, err)
		}
	}

	log.Printf("[Issuer] 📇 Issued card %s (chain #%d, verdict %s) for session %s",
		card.Number, card.ChainPosition, card.Verdict, sess.ID)

	if i.onIssued != nil {
		i.onIssued(card)
	}
	return card, nil
}

// PadCase returns the last five digits of a case number, left-padded
// with zeros, as used in the card number.
func PadCase(caseNumber string) string {
	digits := make([]byte, 0, len(caseNumber))
	for i := 0; i < len(caseNumber); i++ {
		if caseNumber[i] >= '0' && caseNumber[i] <= '9' {
			digits = append(digits, caseNumber[i])
		}
	}
	if len(digits) > 5 {
		digits = digits[len(digits)-5:]
	}
	for len(digits) < 5 {
		digits = append([]byte{'0'}, digits...)
	}
	return string(digits)
}
