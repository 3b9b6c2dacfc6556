package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// InsertSignature records one party's signature on a card. Unique on
// (card, role): a second attempt for the same role returns ErrConflict.
func (s *Store) InsertSignature(ctx context.Context, sig *models.Signature) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signatures
			(id, card_id, signer_role, signer_id, signer_name, signer_email,
			 auth_method, signed_at, signature_hex, public_key_fingerprint, ip, user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		sig.ID, sig.CardID, sig.Role, sig.SignerID, sig.SignerName, sig.SignerEmail,
		sig.Method, sig.SignedAt.UTC(), sig.SignatureHex, sig.PublicKeyFingerprint,
		sig.IP, sig.UserAgent)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

// SignaturesByCard lists a card's signatures in signing order.
func (s *Store) SignaturesByCard(ctx context.Context, cardID string) ([]models.Signature, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, card_id, signer_role, signer_id, signer_name, signer_email,
		       auth_method, signed_at, signature_hex, public_key_fingerprint, ip, user_agent
		FROM signatures WHERE card_id = $1 ORDER BY signed_at`, cardID)
	if err != nil {
		return nil, fmt.Errorf("query signatures: %w", err)
	}
	defer rows.Close()

	var sigs []models.Signature
	for rows.Next() {
		var sig models.Signature
		if err := rows.Scan(&sig.ID, &sig.CardID, &sig.Role, &sig.SignerID,
			&sig.SignerName, &sig.SignerEmail, &sig.Method, &sig.SignedAt,
			&sig.SignatureHex, &sig.PublicKeyFingerprint, &sig.IP, &sig.UserAgent); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

// CreateSignNonce stores a single-use host signing nonce bound to
// (card, host email) with the given TTL.
func (s *Store) CreateSignNonce(ctx context.Context, nonce, cardID, hostEmail string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sign_nonces (nonce, card_id, host_email, expires_at)
		VALUES ($1, $2, $3, $4)`,
		nonce, cardID, hostEmail, time.Now().UTC().Add(ttl))
	if err != nil {
		return fmt.Errorf("insert sign nonce: %w", err)
	}
	return nil
}

// ConsumeSignNonce redeems a host signing nonce for a card. The redeem
// is atomic: a nonce can be consumed exactly once, only before expiry,
// and only for the card it was minted for. Returns the bound host email.
func (s *Store) ConsumeSignNonce(ctx context.Context, nonce, cardID string) (string, error) {
	var hostEmail string
	err := s.pool.QueryRow(ctx, `
		UPDATE sign_nonces
		SET used = TRUE
		WHERE nonce = $1 AND card_id = $2 AND NOT used AND expires_at > NOW()
		RETURNING host_email`,
		nonce, cardID).Scan(&hostEmail)
	if err != nil {
		return "", mapNoRows(err)
	}
	return hostEmail, nil
}
