package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ──────────────────────────────────────────────────────────────────
// Conference-provider webhook envelope
//
// The provider is an opaque producer of typed webhook events. This
// package owns the wire shapes, the URL-validation challenge and the
// per-event HMAC signature check; it knows nothing about sessions.
// ──────────────────────────────────────────────────────────────────

// Event kinds the provider emits.
const (
	EventURLValidation    = "endpoint.url_validation"
	EventParticipantJoin  = "meeting.participant_joined"
	EventParticipantLeave = "meeting.participant_left"
	EventVideoStarted     = "meeting.participant_video_started"
	EventVideoStopped     = "meeting.participant_video_stopped"
)

// Envelope is the provider's outer webhook payload.
type Envelope struct {
	Event   string          `json:"event"`
	EventTS int64           `json:"event_ts"` // unix milliseconds
	Payload json.RawMessage `json:"payload"`
}

// ValidationPayload is the body of an endpoint.url_validation event.
type ValidationPayload struct {
	PlainToken string `json:"plainToken"`
}

// ParticipantEvent is the body of the participant join/leave/video
// events.
type ParticipantEvent struct {
	MeetingID        string `json:"meetingId"`
	MeetingTopic     string `json:"meetingTopic"`
	ParticipantEmail string `json:"participantEmail"`
	ParticipantName  string `json:"participantName"`
	Timestamp        string `json:"timestamp"` // RFC 3339, provider clock
	// DurationSec is the provider's cumulative in-meeting duration,
	// present on leave events.
	DurationSec *int64 `json:"durationSec,omitempty"`
}

// Time returns the provider-reported event time, if parseable.
func (p ParticipantEvent) Time() (time.Time, bool) {
	if p.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Parse decodes a webhook body into its envelope.
func Parse(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("webhook envelope missing event kind")
	}
	return &env, nil
}

// ChallengeResponse answers the provider's URL-validation handshake:
// echo the plain token plus its HMAC-SHA-256 under the shared secret.
func ChallengeResponse(plainToken, secret string) map[string]string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(plainToken))
	return map[string]string{
		"plainToken":     plainToken,
		"encryptedToken": hex.EncodeToString(mac.Sum(nil)),
	}
}

// VerifySignature checks the provider's event signature header:
// "v0=" + hex(HMAC-SHA-256("v0:" + timestamp + ":" + body, secret)).
// Constant-time comparison.
func VerifySignature(body []byte, timestamp, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// DecodeParticipantEvent projects the payload of a participant event.
func (e *Envelope) DecodeParticipantEvent() (*ParticipantEvent, error) {
	var p ParticipantEvent
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode participant event: %w", err)
	}
	if p.MeetingID == "" || p.ParticipantEmail == "" {
		return nil, fmt.Errorf("participant event missing meetingId or participantEmail")
	}
	return &p, nil
}

// DecodeValidation projects the payload of a URL-validation event.
func (e *Envelope) DecodeValidation() (*ValidationPayload, error) {
	var v ValidationPayload
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode validation payload: %w", err)
	}
	if v.PlainToken == "" {
		return nil, fmt.Errorf("validation payload missing plainToken")
	}
	return &v, nil
}
