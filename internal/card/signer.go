package card

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Card signing
//
// Each signer role (PARTICIPANT, HOST, SYSTEM) holds its own Ed25519
// key. A signature is the role key's signature over the card's content
// hash; the public-key fingerprint stored alongside lets a verifier
// check it years later without access to the keyring.
// ──────────────────────────────────────────────────────────────────

// Signer signs card hashes with one role's Ed25519 key.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSignerFromSeed builds a signer from a 32-byte hex seed. An empty
// seed generates an ephemeral key and logs loudly: signatures from an
// ephemeral key do not survive a restart and are for development only.
func NewSignerFromSeed(role string, seedHex string) (*Signer, error) {
	if seedHex == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate %s signing key: %w", role, err)
		}
		log.Printf("[Signer] WARNING: no signing key configured for role %s — generated an ephemeral key. "+
			"Set the %s_SIGNING_KEY environment variable in production.", role, role)
		return &Signer{priv: priv, pub: pub}, nil
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode %s signing seed: %w", role, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%s signing seed must be %d bytes, got %d", role, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKeyFingerprint is the SHA-256 hex digest of the public key.
func (s *Signer) PublicKeyFingerprint() string {
	sum := sha256.Sum256(s.pub)
	return hex.EncodeToString(sum[:])
}

// SignCard produces a Signature record over the card's content hash.
func (s *Signer) SignCard(c *models.CourtCard, role models.SignerRole, method models.AuthMethod, signerName, signerEmail string) (*models.Signature, error) {
	hashBytes, err := hex.DecodeString(c.Hash)
	if err != nil {
		return nil, fmt.Errorf("decode card hash: %w", err)
	}
	sig := ed25519.Sign(s.priv, hashBytes)
	return &models.Signature{
		CardID:               c.ID,
		Role:                 role,
		SignerName:           signerName,
		SignerEmail:          signerEmail,
		Method:               method,
		SignedAt:             time.Now().UTC(),
		SignatureHex:         hex.EncodeToString(sig),
		PublicKeyFingerprint: s.PublicKeyFingerprint(),
	}, nil
}

// VerifySignature checks a hex signature over a card hash against this
// signer's public key.
func (s *Signer) VerifySignature(cardHash, signatureHex string) bool {
	hashBytes, err := hex.DecodeString(cardHash)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(s.pub, hashBytes, sigBytes)
}

// Keyring holds the three role signers.
type Keyring struct {
	Participant *Signer
	Host        *Signer
	System      *Signer
}

// NewKeyring builds the role keyring from hex seeds (empty seeds yield
// ephemeral dev keys).
func NewKeyring(participantSeed, hostSeed, systemSeed string) (*Keyring, error) {
	p, err := NewSignerFromSeed("PARTICIPANT", participantSeed)
	if err != nil {
		return nil, err
	}
	h, err := NewSignerFromSeed("HOST", hostSeed)
	if err != nil {
		return nil, err
	}
	sys, err := NewSignerFromSeed("SYSTEM", systemSeed)
	if err != nil {
		return nil, err
	}
	return &Keyring{Participant: p, Host: h, System: sys}, nil
}

// ForRole returns the signer for a role, or nil for unknown roles.
func (k *Keyring) ForRole(role models.SignerRole) *Signer {
	switch role {
	case models.RoleParticipant:
		return k.Participant
	case models.RoleHost:
		return k.Host
	case models.RoleSystem:
		return k.System
	}
	return nil
}
