package card

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Signature Collector
//
// Accepts PARTICIPANT and HOST signatures on issued cards. SYSTEM
// signatures are never accepted from user input — the issuer applies
// those itself. Insertion is unique per (card, role); a tampered card
// refuses all signing; when both PARTICIPANT and HOST signatures exist
// the card is Fully Signed and the completion listener fires once.
// ──────────────────────────────────────────────────────────────────

// Collector errors, mapped by the API layer onto 400/401/409.
var (
	ErrStateInvalid    = errors.New("card: state invalid")      // tampered card
	ErrAlreadySigned   = errors.New("card: role already signed")
	ErrRoleRejected    = errors.New("card: role not signable by users")
	ErrBadCredential   = errors.New("card: credential rejected")
	ErrNonceInvalid    = errors.New("card: signing link invalid or expired")
	ErrMethodMismatch  = errors.New("card: auth method not valid for role")
)

// CredentialVerifier is the boundary to the auth subsystem used for
// PARTICIPANT password signing.
type CredentialVerifier interface {
	VerifyPassword(ctx context.Context, email, password string) error
}

// Collector validates and records card signatures.
type Collector struct {
	store         *db.Store
	keyring       *Keyring
	credentials   CredentialVerifier
	nonceTTL      time.Duration
	onFullySigned func(card *models.CourtCard)
}

// NewCollector wires the signature collector. onFullySigned (optional)
// fires when a card gains both the PARTICIPANT and HOST signatures.
func NewCollector(store *db.Store, keyring *Keyring, credentials CredentialVerifier, nonceTTL time.Duration, onFullySigned func(*models.CourtCard)) *Collector {
	return &Collector{
		store:         store,
		keyring:       keyring,
		credentials:   credentials,
		nonceTTL:      nonceTTL,
		onFullySigned: onFullySigned,
	}
}

// Attempt is one signing request.
type Attempt struct {
	Role       models.SignerRole
	Method     models.AuthMethod
	Credential string // password for PARTICIPANT, nonce for HOST
	SignerID   string
	SignerName string
	IP         string
	UserAgent  string
}

// Sign validates an attempt against the card state and records the
// signature. Returns the stored signature and whether the card became
// fully signed by this attempt.
func (c *Collector) Sign(ctx context.Context, cardID string, attempt Attempt) (*models.Signature, bool, error) {
	crd, err := c.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, false, err
	}
	if crd.Tampered {
		return nil, false, ErrStateInvalid
	}

	var signerEmail string
	switch attempt.Role {
	case models.RoleParticipant:
		if attempt.Method != models.AuthPassword {
			return nil, false, ErrMethodMismatch
		}
		signerEmail = crd.Participant.Email
		if c.credentials == nil {
			return nil, false, ErrBadCredential
		}
		if err := c.credentials.VerifyPassword(ctx, signerEmail, attempt.Credential); err != nil {
			return nil, false, ErrBadCredential
		}
	case models.RoleHost:
		if attempt.Method != models.AuthEmailLink {
			return nil, false, ErrMethodMismatch
		}
		email, err := c.store.ConsumeSignNonce(ctx, attempt.Credential, cardID)
		if err != nil {
			if err == db.ErrNotFound {
				return nil, false, ErrNonceInvalid
			}
			return nil, false, err
		}
		signerEmail = email
	default:
		return nil, false, ErrRoleRejected
	}

	signer := c.keyring.ForRole(attempt.Role)
	sig, err := signer.SignCard(crd, attempt.Role, attempt.Method, attempt.SignerName, signerEmail)
	if err != nil {
		return nil, false, err
	}
	sig.SignerID = attempt.SignerID
	sig.IP = attempt.IP
	sig.UserAgent = attempt.UserAgent

	if err := c.store.InsertSignature(ctx, sig); err != nil {
		if err == db.ErrConflict {
			return nil, false, ErrAlreadySigned
		}
		return nil, false, err
	}

	full, err := c.isFullySigned(ctx, cardID)
	if err != nil {
		log.Printf("[Collector] Completeness check failed for card %s: %v", crd.Number, err)
		return sig, false, nil
	}
	if full {
		log.Printf("[Collector] ✍️  Card %s is fully signed", crd.Number)
		if c.onFullySigned != nil {
			c.onFullySigned(crd)
		}
	}
	return sig, full, nil
}

// MintHostNonce creates a single-use email-link nonce bound to
// (card, host email) with the collector's TTL.
func (c *Collector) MintHostNonce(ctx context.Context, cardID, hostEmail string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)
	hostEmail = strings.ToLower(strings.TrimSpace(hostEmail))
	if err := c.store.CreateSignNonce(ctx, nonce, cardID, hostEmail, c.nonceTTL); err != nil {
		return "", err
	}
	return nonce, nil
}

// isFullySigned reports whether both user-facing roles have signed.
func (c *Collector) isFullySigned(ctx context.Context, cardID string) (bool, error) {
	sigs, err := c.store.SignaturesByCard(ctx, cardID)
	if err != nil {
		return false, err
	}
	var participant, host bool
	for _, s := range sigs {
		switch s.Role {
		case models.RoleParticipant:
			participant = true
		case models.RoleHost:
			host = true
		}
	}
	return participant && host, nil
}
