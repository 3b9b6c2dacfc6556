package models

import "time"

// SessionStatus is the attendance-session lifecycle state.
// IN_PROGRESS sessions have no leave time; COMPLETED sessions carry
// reconciled totals; ABANDONED sessions never produced usable evidence.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionAbandoned  SessionStatus = "ABANDONED"
)

// IsTerminal returns true if the status is a final state.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionAbandoned:
		return true
	}
	return false
}

// VerificationMethod records which independent evidence streams
// contributed to a session's timeline.
type VerificationMethod string

const (
	VerifyWebhook   VerificationMethod = "WEBHOOK"
	VerifyHeartbeat VerificationMethod = "HEARTBEAT"
	VerifyBoth      VerificationMethod = "BOTH"
	VerifyNone      VerificationMethod = "NONE"
)

// EventSource identifies which stream produced a timeline event.
// Ordering ties are broken by source priority: WEBHOOK > API > HEARTBEAT.
type EventSource string

const (
	SourceWebhook   EventSource = "WEBHOOK"
	SourceHeartbeat EventSource = "HEARTBEAT"
	SourceAPI       EventSource = "API"
)

// Priority returns the tie-break rank for equal-timestamp events.
// Higher wins.
func (s EventSource) Priority() int {
	switch s {
	case SourceWebhook:
		return 3
	case SourceAPI:
		return 2
	case SourceHeartbeat:
		return 1
	}
	return 0
}

// EventKind is the canonical timeline event type.
type EventKind string

const (
	EventJoined   EventKind = "JOINED"
	EventLeft     EventKind = "LEFT"
	EventVideoOn  EventKind = "VIDEO_ON"
	EventVideoOff EventKind = "VIDEO_OFF"
	EventActive   EventKind = "ACTIVE"
	EventIdle     EventKind = "IDLE"
	EventMouse    EventKind = "MOUSE"
	EventKeyboard EventKind = "KEYBOARD"
	EventScroll   EventKind = "SCROLL"
	EventClick    EventKind = "CLICK"
)

// IsHeartbeatKind reports whether the kind is a client activity signal
// rather than a presence/video transition.
func (k EventKind) IsHeartbeatKind() bool {
	switch k {
	case EventActive, EventIdle, EventMouse, EventKeyboard, EventScroll, EventClick:
		return true
	}
	return false
}

// TimelineEvent is one normalized entry in a session's append-only
// timeline. Seq is monotonic per session; Data is an opaque bag whose
// schema varies by Kind and is only projected at the reconciliation
// boundary.
type TimelineEvent struct {
	Seq    int64                  `json:"seq"`
	T      time.Time              `json:"t"` // UTC
	Kind   EventKind              `json:"kind"`
	Source EventSource            `json:"source"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// ProviderDurationMin projects the authoritative cumulative duration a
// provider may attach to a LEFT event. Returns (0, false) when absent.
func (e TimelineEvent) ProviderDurationMin() (float64, bool) {
	if e.Kind != EventLeft || e.Source != SourceWebhook {
		return 0, false
	}
	switch v := e.Data["providerDurationSec"].(type) {
	case float64:
		return v / 60.0, true
	case int64:
		return float64(v) / 60.0, true
	case int:
		return float64(v) / 60.0, true
	}
	return 0, false
}

// SessionTotals are the reconciled duration metrics for a session.
type SessionTotals struct {
	TotalDurationMin   float64 `json:"totalDurationMin"`
	ActiveDurationMin  float64 `json:"activeDurationMin"`
	IdleDurationMin    float64 `json:"idleDurationMin"`
	VideoOnDurationMin float64 `json:"videoOnDurationMin"`
}

// Session is one participant's attendance instance at one external
// meeting. The timeline itself is stored separately and loaded on demand.
type Session struct {
	ID                 string                 `json:"id"`
	ParticipantID      string                 `json:"participantId"`
	OfficerID          string                 `json:"officerId"`
	ExternalMeetingID  string                 `json:"externalMeetingId"`
	JoinTime           time.Time              `json:"joinTime"`
	LeaveTime          *time.Time             `json:"leaveTime,omitempty"`
	Status             SessionStatus          `json:"status"`
	Totals             SessionTotals          `json:"totals"`
	AttendancePct      float64                `json:"attendancePct"`
	VerificationMethod VerificationMethod     `json:"verificationMethod"`
	IsValid            bool                   `json:"isValid"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	CardIssued         bool                   `json:"cardIssued"`
	LastEventAt        time.Time              `json:"lastEventAt"`
	Version            int64                  `json:"-"` // optimistic-concurrency counter
}

// EngagementScore projects the optional client-computed engagement score
// from the session metadata bag. Returns (0, false) when absent.
func (s *Session) EngagementScore() (float64, bool) {
	if s.Metadata == nil {
		return 0, false
	}
	switch v := s.Metadata["engagementScore"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
