package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
)

const secret = "wh_test_secret"

func TestChallengeResponse(t *testing.T) {
	resp := ChallengeResponse("tok_abc123", secret)

	if resp["plainToken"] != "tok_abc123" {
		t.Errorf("plainToken = %q, want echo of input", resp["plainToken"])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("tok_abc123"))
	want := hex.EncodeToString(mac.Sum(nil))
	if resp["encryptedToken"] != want {
		t.Errorf("encryptedToken = %q, want %q", resp["encryptedToken"], want)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"meeting.participant_joined","payload":{}}`)
	ts := "1741633200"

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", ts)
	mac.Write(body)
	good := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !VerifySignature(body, ts, good, secret) {
		t.Errorf("valid signature rejected")
	}
	if VerifySignature(body, ts, good, "other_secret") {
		t.Errorf("signature accepted under wrong secret")
	}
	if VerifySignature(body, "1741633201", good, secret) {
		t.Errorf("signature accepted with altered timestamp")
	}
	if VerifySignature(append(body, ' '), ts, good, secret) {
		t.Errorf("signature accepted with altered body")
	}
}

func TestParseAndDecode(t *testing.T) {
	body := []byte(`{
		"event": "meeting.participant_left",
		"event_ts": 1741633200000,
		"payload": {
			"meetingId": "889-234-117",
			"participantEmail": "jordan.avery@example.com",
			"timestamp": "2025-03-10T20:00:00Z",
			"durationSec": 3120
		}
	}`)

	env, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Event != EventParticipantLeave {
		t.Errorf("event = %q, want %q", env.Event, EventParticipantLeave)
	}

	p, err := env.DecodeParticipantEvent()
	if err != nil {
		t.Fatalf("DecodeParticipantEvent: %v", err)
	}
	if p.MeetingID != "889-234-117" {
		t.Errorf("meetingId = %q", p.MeetingID)
	}
	if p.DurationSec == nil || *p.DurationSec != 3120 {
		t.Errorf("durationSec = %v, want 3120", p.DurationSec)
	}
	if ts, ok := p.Time(); !ok || ts.Hour() != 20 {
		t.Errorf("timestamp parse failed: %v %v", ts, ok)
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Errorf("expected error for non-JSON body")
	}
	if _, err := Parse([]byte(`{"payload":{}}`)); err == nil {
		t.Errorf("expected error for missing event kind")
	}

	env, _ := Parse([]byte(`{"event":"meeting.participant_joined","payload":{"meetingId":""}}`))
	if _, err := env.DecodeParticipantEvent(); err == nil {
		t.Errorf("expected error for missing identifiers")
	}
}
