package verify

import (
	"context"
	"log"
	"time"

	"github.com/proofmeet/courtcard-engine/internal/card"
	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Public Verifier
//
// Read-only integrity surface. Every read recomputes the card hash
// from the stored snapshot fields; a mismatch flips the persistent
// tampered flag. Tampering is one-way at this layer — re-issuing a
// session is an administrative action, never automatic.
// ──────────────────────────────────────────────────────────────────

// Verifier performs integrity-checked card reads.
type Verifier struct {
	store *db.Store
}

func New(store *db.Store) *Verifier {
	return &Verifier{store: store}
}

// SignatureSummary is the public projection of a signature: role, name
// and time only — never the raw key material beyond the fingerprint.
type SignatureSummary struct {
	Role                 models.SignerRole `json:"role"`
	SignerName           string            `json:"signerName"`
	Timestamp            time.Time         `json:"timestamp"`
	PublicKeyFingerprint string            `json:"publicKeyFingerprint"`
}

// Report is the public verification response for one card. It exposes
// snapshots, verdict and chain data — never credentials or the raw
// timeline.
type Report struct {
	CardID          string                     `json:"cardId"`
	Number          string                     `json:"number"`
	Participant     models.ParticipantSnapshot `json:"participant"`
	Officer         models.OfficerSnapshot     `json:"officer"`
	Meeting         models.MeetingSnapshot     `json:"meeting"`
	Metrics         models.CardMetrics         `json:"metrics"`
	Verdict         models.Verdict             `json:"verdict"`
	Violations      []models.Violation         `json:"violations"`
	Signatures      []SignatureSummary         `json:"signatures"`
	ChainPosition   int                        `json:"chainPosition"`
	PrevHash        string                     `json:"prevHash"`
	GeneratedAt     time.Time                  `json:"generatedAt"`
	VerificationURL string                     `json:"verificationUrl"`
	Tampered        bool                       `json:"tampered"`
	Valid           bool                       `json:"valid"` // verdict PASSED and not tampered
}

// Verify recomputes a card's hash and reports whether it matches. On a
// mismatch the tampered flag is persisted before returning.
func (v *Verifier) Verify(ctx context.Context, c *models.CourtCard) (bool, error) {
	recomputed, err := card.ComputeHash(c)
	if err != nil {
		return false, err
	}
	if recomputed != c.Hash {
		if !c.Tampered {
			log.Printf("[Verifier] ⚠️  TAMPER detected on card %s: stored hash %s..., recomputed %s...",
				c.Number, c.Hash[:12], recomputed[:12])
			if err := v.store.SetTampered(ctx, c.ID); err != nil {
				return false, err
			}
		}
		c.Tampered = true
		return false, nil
	}
	return !c.Tampered, nil
}

// ByCardID verifies and reports a single card.
func (v *Verifier) ByCardID(ctx context.Context, cardID string) (*Report, error) {
	c, err := v.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	return v.report(ctx, c)
}

// ByCardNumber verifies and reports a card addressed by its CC- number.
func (v *Verifier) ByCardNumber(ctx context.Context, number string) (*Report, error) {
	c, err := v.store.GetCardByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return v.report(ctx, c)
}

// ByParticipantEmail verifies every card belonging to a participant and
// returns the reports in chain order.
func (v *Verifier) ByParticipantEmail(ctx context.Context, email string) ([]Report, error) {
	cards, err := v.store.CardsByParticipantEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return v.reportAll(ctx, cards)
}

// ByCaseNumber verifies every card filed under a case number.
func (v *Verifier) ByCaseNumber(ctx context.Context, caseNumber string) ([]Report, error) {
	cards, err := v.store.CardsByCaseNumber(ctx, caseNumber)
	if err != nil {
		return nil, err
	}
	return v.reportAll(ctx, cards)
}

func (v *Verifier) reportAll(ctx context.Context, cards []models.CourtCard) ([]Report, error) {
	reports := make([]Report, 0, len(cards))
	for i := range cards {
		r, err := v.report(ctx, &cards[i])
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

func (v *Verifier) report(ctx context.Context, c *models.CourtCard) (*Report, error) {
	intact, err := v.Verify(ctx, c)
	if err != nil {
		return nil, err
	}

	sigs, err := v.store.SignaturesByCard(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	summaries := make([]SignatureSummary, 0, len(sigs))
	for _, s := range sigs {
		summaries = append(summaries, SignatureSummary{
			Role:                 s.Role,
			SignerName:           s.SignerName,
			Timestamp:            s.SignedAt,
			PublicKeyFingerprint: s.PublicKeyFingerprint,
		})
	}

	return &Report{
		CardID:          c.ID,
		Number:          c.Number,
		Participant:     c.Participant,
		Officer:         c.Officer,
		Meeting:         c.Meeting,
		Metrics:         c.Metrics,
		Verdict:         c.Verdict,
		Violations:      c.Violations,
		Signatures:      summaries,
		ChainPosition:   c.ChainPosition,
		PrevHash:        c.PrevHash,
		GeneratedAt:     c.GeneratedAt,
		VerificationURL: c.VerificationURL,
		Tampered:        c.Tampered,
		Valid:           intact && c.Verdict == models.VerdictPassed,
	}, nil
}
