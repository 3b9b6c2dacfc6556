package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// EnqueueDigest creates or extends the officer's digest batch for a
// date. Idempotent on (officer, date): session ids are unioned in, and
// a batch that was already SENT is left untouched.
func (s *Store) EnqueueDigest(ctx context.Context, officerID, date string, sessionIDs []string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO digest_batches (id, officer_id, digest_date, session_ids, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		ON CONFLICT (officer_id, digest_date) DO UPDATE SET
			session_ids = (
				SELECT ARRAY(SELECT DISTINCT unnest(digest_batches.session_ids || EXCLUDED.session_ids))
			)
		WHERE digest_batches.status <> 'SENT'`,
		uuid.NewString(), officerID, date, sessionIDs)
	if err != nil {
		return fmt.Errorf("enqueue digest: %w", err)
	}
	return nil
}

// DigestsDue returns PENDING or FAILED batches dated strictly before
// the given date (the digest period still being collected), capped by
// attempts.
func (s *Store) DigestsDue(ctx context.Context, date string, maxAttempts int) ([]models.DigestBatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, officer_id, digest_date::text, session_ids, status, sent_at, attempts
		FROM digest_batches
		WHERE digest_date < $1::date AND status <> 'SENT' AND attempts < $2
		ORDER BY digest_date`, date, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("query digests due: %w", err)
	}
	defer rows.Close()

	var batches []models.DigestBatch
	for rows.Next() {
		var b models.DigestBatch
		if err := rows.Scan(&b.ID, &b.OfficerID, &b.Date, &b.SessionIDs, &b.Status, &b.SentAt, &b.Attempts); err != nil {
			return nil, fmt.Errorf("scan digest batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// MarkDigest records a delivery attempt's outcome. SENT is terminal:
// a batch already marked SENT is never updated again.
func (s *Store) MarkDigest(ctx context.Context, id string, status models.DigestStatus) error {
	var sentAt interface{}
	if status == models.DigestSent {
		sentAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE digest_batches
		SET status = $2, sent_at = COALESCE($3, sent_at), attempts = attempts + 1
		WHERE id = $1 AND status <> 'SENT'`,
		id, status, sentAt)
	if err != nil {
		return fmt.Errorf("mark digest: %w", err)
	}
	return nil
}
