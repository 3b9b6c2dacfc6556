package models

import "time"

// Participant is a court-ordered attendee. Email is unique and stored
// lowercase. SupervisingOfficerID may be empty at registration but must
// be set before any session is created.
type Participant struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	Name                 string    `json:"name"`
	CaseNumber           string    `json:"caseNumber"`
	SupervisingOfficerID string    `json:"supervisingOfficerId,omitempty"`
	IsActive             bool      `json:"isActive"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Officer is the supervising court representative. Email must belong to
// an approved organizational domain.
type Officer struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Badge        string    `json:"badge"`
	Organization string    `json:"organization"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Requirement is the per-participant attendance policy. At most one
// active requirement may exist per participant at any instant; the store
// enforces this with a partial unique index.
type Requirement struct {
	ID                    string    `json:"id"`
	ParticipantID         string    `json:"participantId"`
	OfficerID             string    `json:"officerId"`
	TotalMeetingsRequired int       `json:"totalMeetingsRequired"` // cumulative mode when > 0
	MeetingsPerWeek       int       `json:"meetingsPerWeek"`       // weekly mode otherwise
	RequiredPrograms      []string  `json:"requiredPrograms"`      // empty = any program counts
	MinimumDurationMin    int       `json:"minimumDurationMin"`
	MinimumAttendancePct  float64   `json:"minimumAttendancePct"`
	Active                bool      `json:"active"`
	CreatedAt             time.Time `json:"createdAt"`
}

// ExternalMeeting is a meeting instance offered by the conference
// provider (AA/NA/SMART etc. over video).
type ExternalMeeting struct {
	ID                   string    `json:"id"`
	Provider             string    `json:"provider"`
	ProviderMeetingID    string    `json:"providerMeetingId"`
	Name                 string    `json:"name"`
	Program              string    `json:"program"` // "AA", "NA", "SMART", ...
	ScheduledStart       time.Time `json:"scheduledStart"`
	ScheduledDurationMin int       `json:"scheduledDurationMin"`
	Timezone             string    `json:"timezone"` // IANA name
	JoinURL              string    `json:"joinUrl"`
	Passcode             string    `json:"-"`
	Tags                 []string  `json:"tags,omitempty"`
}

// ScheduledEnd returns the scheduled finish time of the meeting.
func (m *ExternalMeeting) ScheduledEnd() time.Time {
	return m.ScheduledStart.Add(time.Duration(m.ScheduledDurationMin) * time.Minute)
}

// WebcamSnapshot records one webcam capture taken during a session.
// The image itself lives in the object store; only the reference and the
// client's face-match assertion are recorded here.
type WebcamSnapshot struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"sessionId"`
	CapturedAt        time.Time `json:"capturedAt"`
	MinuteIntoMeeting int       `json:"minuteIntoMeeting"`
	BlobRef           string    `json:"blobRef"`
	FaceDetected      *bool     `json:"faceDetected,omitempty"`
	MatchScore        *float64  `json:"matchScore,omitempty"`
}

// DigestStatus is the delivery state of an officer daily digest.
type DigestStatus string

const (
	DigestPending DigestStatus = "PENDING"
	DigestSent    DigestStatus = "SENT"
	DigestFailed  DigestStatus = "FAILED"
)

// DigestBatch aggregates one officer's newly issued cards for one date.
// Idempotency key: (OfficerID, Date).
type DigestBatch struct {
	ID         string       `json:"id"`
	OfficerID  string       `json:"officerId"`
	Date       string       `json:"date"` // YYYY-MM-DD in the digest cutoff's local zone
	SessionIDs []string     `json:"sessionIds"`
	Status     DigestStatus `json:"status"`
	SentAt     *time.Time   `json:"sentAt,omitempty"`
	Attempts   int          `json:"attempts"`
}
