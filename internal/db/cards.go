package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Court Card persistence
//
// Issuance is a single transaction: take the per-(year, case) number
// counter, advance the participant chain head, insert the card, mark
// the session issued. The counters are rows advanced by atomic upsert;
// no in-process mutable state is involved, so concurrent finalizers on
// different processes stay correct.
// ──────────────────────────────────────────────────────────────────

// ChainHead returns a participant's current chain position and head
// hash. Position 0 with the zero hash means no cards exist yet.
func (s *Store) ChainHead(ctx context.Context, participantID string) (int, string, error) {
	var position int
	var head string
	err := s.pool.QueryRow(ctx,
		`SELECT position, head_hash FROM chain_heads WHERE participant_id = $1`,
		participantID).Scan(&position, &head)
	if err != nil {
		if mapNoRows(err) == ErrNotFound {
			return 0, models.ZeroHash, nil
		}
		return 0, "", fmt.Errorf("read chain head: %w", err)
	}
	if head == "" {
		head = models.ZeroHash
	}
	return position, head, nil
}

// PersistCard reserves the next card sequence for (year, case) and the
// next chain position for the participant, then persists the finished
// card, all in one transaction so a crash cannot burn a chain position.
// The card must arrive fully populated except Number, PrevHash and
// ChainPosition, which are assigned here, and the QR fields, which
// AttachQR stores afterwards; the session is marked issued
// in the same transaction. ErrConflict is returned when a card for the
// session already exists.
func (s *Store) PersistCard(ctx context.Context, card *models.CourtCard, year int, paddedCase string, participantID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin issuance: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize per participant: lock (or create) the chain head row first.
	var prevPosition int
	var prevHash string
	err = tx.QueryRow(ctx, `
		INSERT INTO chain_heads (participant_id) VALUES ($1)
		ON CONFLICT (participant_id) DO UPDATE SET participant_id = EXCLUDED.participant_id
		RETURNING position, head_hash`, participantID).Scan(&prevPosition, &prevHash)
	if err != nil {
		return fmt.Errorf("lock chain head: %w", err)
	}
	if prevHash == "" {
		prevHash = models.ZeroHash
	}
	card.PrevHash = prevHash
	card.ChainPosition = prevPosition + 1

	var seq int
	err = tx.QueryRow(ctx, `
		INSERT INTO card_counters (year, case_number, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (year, case_number) DO UPDATE SET value = card_counters.value + 1
		RETURNING value`,
		year, paddedCase).Scan(&seq)
	if err != nil {
		return fmt.Errorf("advance card counter: %w", err)
	}
	card.Number = fmt.Sprintf("CC-%d-%s-%03d", year, paddedCase, seq)

	snapshots, err := json.Marshal(map[string]interface{}{
		"participant": card.Participant,
		"officer":     card.Officer,
		"meeting":     card.Meeting,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}
	metrics, err := json.Marshal(card.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	violations, err := json.Marshal(card.Violations)
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO court_cards
			(id, session_id, number, participant_id, participant_email, case_number,
			 snapshots, metrics, verdict, violations, explanation,
			 hash, prev_hash, chain_position, verification_url, qr_payload, qr_png,
			 generated_at, tampered)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,FALSE)`,
		card.ID, card.SessionID, card.Number, participantID,
		card.Participant.Email, card.Participant.CaseNumber,
		snapshots, metrics, card.Verdict, violations, card.Explanation,
		card.Hash, card.PrevHash, card.ChainPosition,
		card.VerificationURL, card.QRPayload, card.QRImage, card.GeneratedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert card: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE chain_heads SET position = $2, head_hash = $3 WHERE participant_id = $1`,
		participantID, card.ChainPosition, card.Hash)
	if err != nil {
		return fmt.Errorf("write chain head: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE sessions SET card_issued = TRUE, version = version + 1 WHERE id = $1`,
		card.SessionID)
	if err != nil {
		return fmt.Errorf("mark session issued: %w", err)
	}

	return tx.Commit(ctx)
}

const cardColumns = `id, session_id, number, participant_id, participant_email, case_number,
	snapshots, metrics, verdict, violations, explanation,
	hash, prev_hash, chain_position, verification_url, qr_payload, qr_png,
	generated_at, tampered`

// GetCard loads a card by id.
func (s *Store) GetCard(ctx context.Context, id string) (*models.CourtCard, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cardColumns+` FROM court_cards WHERE id = $1`, id)
	return scanCard(row)
}

// GetCardBySession loads the card issued for a session, if any.
func (s *Store) GetCardBySession(ctx context.Context, sessionID string) (*models.CourtCard, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cardColumns+` FROM court_cards WHERE session_id = $1`, sessionID)
	return scanCard(row)
}

// GetCardByNumber loads a card by its CC- number.
func (s *Store) GetCardByNumber(ctx context.Context, number string) (*models.CourtCard, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cardColumns+` FROM court_cards WHERE number = $1`, number)
	return scanCard(row)
}

// CardsByParticipantEmail lists a participant's cards in chain order.
func (s *Store) CardsByParticipantEmail(ctx context.Context, email string) ([]models.CourtCard, error) {
	return s.listCards(ctx, `participant_email = $1`, email)
}

// CardsByCaseNumber lists all cards under a case number in chain order.
func (s *Store) CardsByCaseNumber(ctx context.Context, caseNumber string) ([]models.CourtCard, error) {
	return s.listCards(ctx, `case_number = $1`, caseNumber)
}

// CardsByParticipantID lists a participant's cards in chain order.
func (s *Store) CardsByParticipantID(ctx context.Context, participantID string) ([]models.CourtCard, error) {
	return s.listCards(ctx, `participant_id = $1`, participantID)
}

// AttachQR stores the finalized QR payload and rendered PNG for a card.
func (s *Store) AttachQR(ctx context.Context, cardID, payload string, png []byte) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE court_cards SET qr_payload = $2, qr_png = $3 WHERE id = $1`,
		cardID, payload, png)
	if err != nil {
		return fmt.Errorf("attach qr: %w", err)
	}
	return nil
}

// SetTampered records a verifier-detected hash mismatch. One-way: the
// flag is never cleared automatically.
func (s *Store) SetTampered(ctx context.Context, cardID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE court_cards SET tampered = TRUE WHERE id = $1`, cardID)
	if err != nil {
		return fmt.Errorf("set tampered: %w", err)
	}
	return nil
}

func (s *Store) listCards(ctx context.Context, where string, arg interface{}) ([]models.CourtCard, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cardColumns+` FROM court_cards WHERE `+where+` ORDER BY chain_position`, arg)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var cards []models.CourtCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}
	return cards, rows.Err()
}

func scanCard(row rowScanner) (*models.CourtCard, error) {
	var card models.CourtCard
	var participantID string
	var snapshots, metrics, violations []byte

	err := row.Scan(
		&card.ID, &card.SessionID, &card.Number, &participantID,
		&card.Participant.Email, &card.Participant.CaseNumber,
		&snapshots, &metrics, &card.Verdict, &violations, &card.Explanation,
		&card.Hash, &card.PrevHash, &card.ChainPosition,
		&card.VerificationURL, &card.QRPayload, &card.QRImage,
		&card.GeneratedAt, &card.Tampered)
	if err != nil {
		return nil, mapNoRows(err)
	}

	var snap struct {
		Participant models.ParticipantSnapshot `json:"participant"`
		Officer     models.OfficerSnapshot     `json:"officer"`
		Meeting     models.MeetingSnapshot     `json:"meeting"`
	}
	if err := json.Unmarshal(snapshots, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal card snapshots: %w", err)
	}
	card.Participant = snap.Participant
	card.Officer = snap.Officer
	card.Meeting = snap.Meeting
	if err := json.Unmarshal(metrics, &card.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal card metrics: %w", err)
	}
	if err := json.Unmarshal(violations, &card.Violations); err != nil {
		return nil, fmt.Errorf("unmarshal card violations: %w", err)
	}
	return &card, nil
}
