package card

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

func sampleCard() *models.CourtCard {
	return &models.CourtCard{
		ID:        "9f1c8a2e-0000-0000-0000-000000000001",
		SessionID: "9f1c8a2e-0000-0000-0000-000000000002",
		Participant: models.ParticipantSnapshot{
			Name:       "Jordan Avery",
			Email:      "jordan.avery@example.com",
			CaseNumber: "CR-2025-412345",
		},
		Officer: models.OfficerSnapshot{
			Name:  "Officer Reyes",
			Email: "reyes@countyprobation.gov",
		},
		Meeting: models.MeetingSnapshot{
			MeetingID:            "9f1c8a2e-0000-0000-0000-000000000003",
			Name:                 "Tuesday Night Recovery",
			Program:              "AA",
			Date:                 "2025-03-10",
			ScheduledStart:       "2025-03-10T19:00:00Z",
			ScheduledDurationMin: 60,
			Timezone:             "America/Los_Angeles",
		},
		Metrics: models.CardMetrics{
			SessionTotals: models.SessionTotals{
				TotalDurationMin:   60,
				ActiveDurationMin:  60,
				VideoOnDurationMin: 58.5,
			},
			AttendancePct: 100,
			Join:          "2025-03-10T19:00:00Z",
			Leave:         "2025-03-10T20:00:00Z",
		},
		Verdict: models.VerdictPassed,
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	c := sampleCard()
	h1, err := ComputeHash(c)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	h2, err := ComputeHash(c)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash is not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
}

func TestComputeHash_SensitiveToSnapshotFields(t *testing.T) {
	c := sampleCard()
	original, _ := ComputeHash(c)

	mutations := []struct {
		name   string
		mutate func(*models.CourtCard)
	}{
		{"meeting name", func(c *models.CourtCard) { c.Meeting.Name = "Renamed Meeting" }},
		{"verdict", func(c *models.CourtCard) { c.Verdict = models.VerdictFailed }},
		{"attendance pct", func(c *models.CourtCard) { c.Metrics.AttendancePct = 99 }},
		{"leave time", func(c *models.CourtCard) { c.Metrics.Leave = "2025-03-10T19:59:00Z" }},
		{"case number", func(c *models.CourtCard) { c.Participant.CaseNumber = "CR-2025-000001" }},
	}
	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			mutated := sampleCard()
			m.mutate(mutated)
			h, err := ComputeHash(mutated)
			if err != nil {
				t.Fatalf("ComputeHash: %v", err)
			}
			if h == original {
				t.Errorf("hash unchanged after mutating %s", m.name)
			}
		})
	}
}

func TestComputeHash_IgnoresNonCommittedFields(t *testing.T) {
	c := sampleCard()
	original, _ := ComputeHash(c)

	c.Number = "CC-2025-12345-001"
	c.PrevHash = strings.Repeat("ab", 32)
	c.ChainPosition = 7
	c.Explanation = "changed"
	c.Tampered = true

	h, _ := ComputeHash(c)
	if h != original {
		t.Errorf("hash must only commit to snapshot fields; number/chain/explanation changed it")
	}
}

func TestPadCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CR-2025-412345", "12345"},
		{"12345", "12345"},
		{"42", "00042"},
		{"CASE-7", "00007"},
		{"", "00000"},
	}
	for _, tt := range tests {
		if got := PadCase(tt.in); got != tt.want {
			t.Errorf("PadCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSigner_SignAndVerifyRoundTrip(t *testing.T) {
	keyring, err := NewKeyring("", "", "")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	c := sampleCard()
	c.Hash, _ = ComputeHash(c)

	sig, err := keyring.Host.SignCard(c, models.RoleHost, models.AuthEmailLink, "Meeting Host", "host@example.com")
	if err != nil {
		t.Fatalf("SignCard: %v", err)
	}
	if sig.Role != models.RoleHost {
		t.Errorf("role = %s, want HOST", sig.Role)
	}
	if sig.PublicKeyFingerprint != keyring.Host.PublicKeyFingerprint() {
		t.Errorf("fingerprint mismatch")
	}
	if !keyring.Host.VerifySignature(c.Hash, sig.SignatureHex) {
		t.Errorf("signature did not verify against the signing key")
	}
	// The wrong role's key must not verify it.
	if keyring.Participant.VerifySignature(c.Hash, sig.SignatureHex) {
		t.Errorf("participant key verified a host signature")
	}
	// A different hash must not verify.
	other := sampleCard()
	other.Verdict = models.VerdictFailed
	otherHash, _ := ComputeHash(other)
	if keyring.Host.VerifySignature(otherHash, sig.SignatureHex) {
		t.Errorf("signature verified against a different card hash")
	}
}

func TestSignerFromSeed_Deterministic(t *testing.T) {
	seed := strings.Repeat("4b", 32)
	s1, err := NewSignerFromSeed("HOST", seed)
	if err != nil {
		t.Fatalf("NewSignerFromSeed: %v", err)
	}
	s2, _ := NewSignerFromSeed("HOST", seed)
	if s1.PublicKeyFingerprint() != s2.PublicKeyFingerprint() {
		t.Errorf("same seed produced different keys")
	}

	if _, err := NewSignerFromSeed("HOST", "zz"); err == nil {
		t.Errorf("expected error for invalid hex seed")
	}
	if _, err := NewSignerFromSeed("HOST", "abcd"); err == nil {
		t.Errorf("expected error for short seed")
	}
}

func TestQRPayloadShape(t *testing.T) {
	payload := qrPayload{
		CN: "CC-2025-12345-001",
		ID: "9f1c8a2e-0000-0000-0000-000000000001",
		H:  strings.Repeat("a1", 16),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"cn", "id", "h"} {
		if decoded[key] == "" {
			t.Errorf("qr payload missing %q key: %s", key, raw)
		}
	}
	if len(decoded["h"]) != 32 {
		t.Errorf("hash prefix length = %d, want 32", len(decoded["h"]))
	}
}
