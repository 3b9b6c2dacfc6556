package timeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/internal/provider"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Event Normalizer
//
// Maps heterogeneous source events — provider webhooks, client
// heartbeats, explicit join/leave API calls — onto the canonical
// timeline event and routes each to its session. Webhooks resolve the
// session via (providerMeetingId, participantEmail); heartbeats and
// API calls carry the session id directly.
// ──────────────────────────────────────────────────────────────────

// clockTrustWindow bounds how far a source-reported timestamp may sit
// from server time before the server stamp wins.
const clockTrustWindow = 10 * time.Minute

// lateHeartbeatWindow is how long after completion ACTIVE/IDLE
// heartbeats are still appended (they adjust engagement, not totals).
const lateHeartbeatWindow = 10 * time.Minute

var (
	ErrUnknownParticipant = errors.New("normalizer: unknown participant")
	ErrUnknownMeeting     = errors.New("normalizer: unknown meeting")
	ErrSessionClosed      = errors.New("normalizer: session is closed")
	ErrNoOfficer          = errors.New("normalizer: participant has no supervising officer")
)

// Normalizer turns raw source events into canonical timeline appends.
type Normalizer struct {
	store        *db.Store
	providerName string
	now          func() time.Time
}

func NewNormalizer(store *db.Store, providerName string) *Normalizer {
	return &Normalizer{store: store, providerName: providerName, now: time.Now}
}

// resolveTimestamp applies the clock policy: trust the source-provided
// timestamp if present and within ±10 minutes of server time, otherwise
// stamp with server time and flag the adjustment in the data bag.
func (n *Normalizer) resolveTimestamp(reported time.Time, hasReported bool, data map[string]interface{}) (time.Time, map[string]interface{}) {
	now := n.now().UTC()
	if !hasReported {
		return now, data
	}
	drift := now.Sub(reported)
	if drift < 0 {
		drift = -drift
	}
	if drift <= clockTrustWindow {
		return reported.UTC(), data
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["clockSkewAdjusted"] = true
	data["reportedTime"] = reported.UTC().Format(time.RFC3339)
	return now, data
}

// IngestWebhook routes one provider participant event. Unknown
// participants are logged and dropped; an unknown open session is
// created on the fly when the join warrants it (webhooks are the only
// source allowed to create placeholder sessions).
func (n *Normalizer) IngestWebhook(ctx context.Context, eventKind string, pe *provider.ParticipantEvent) error {
	participant, err := n.store.GetParticipantByEmail(ctx, pe.ParticipantEmail)
	if err != nil {
		if err == db.ErrNotFound {
			log.Printf("[Normalizer] Dropping webhook %s for unknown participant %s", eventKind, pe.ParticipantEmail)
			return ErrUnknownParticipant
		}
		return err
	}

	meeting, err := n.store.GetExternalMeetingByProviderID(ctx, n.providerName, pe.MeetingID)
	if err != nil {
		if err == db.ErrNotFound {
			return ErrUnknownMeeting
		}
		return err
	}

	reported, hasReported := pe.Time()
	t, data := n.resolveTimestamp(reported, hasReported, nil)

	kind, err := webhookKind(eventKind)
	if err != nil {
		return err
	}
	if kind == models.EventLeft && pe.DurationSec != nil {
		if data == nil {
			data = map[string]interface{}{}
		}
		// Authoritative provider-reported cumulative duration; the
		// reconciler prefers it downstream.
		data["providerDurationSec"] = float64(*pe.DurationSec)
	}

	sess, err := n.store.FindOpenSession(ctx, meeting.ID, participant.ID)
	if err == db.ErrNotFound {
		if kind != models.EventJoined {
			log.Printf("[Normalizer] Dropping webhook %s for %s: no open session at meeting %s",
				eventKind, pe.ParticipantEmail, pe.MeetingID)
			return nil
		}
		sess, err = n.createPlaceholderSession(ctx, participant, meeting.ID, t)
	}
	if err != nil {
		return err
	}

	ev := &models.TimelineEvent{T: t, Kind: kind, Source: models.SourceWebhook, Data: data}
	res, err := n.store.AppendEvent(ctx, sess.ID, ev)
	if err != nil {
		return err
	}
	if res == db.AppendDuplicate {
		log.Printf("[Normalizer] Suppressed duplicate webhook %s for session %s", kind, sess.ID)
	}
	return nil
}

// createPlaceholderSession opens a session from a provider join webhook
// when the participant has no open session at the meeting. Heartbeats
// never get this treatment.
func (n *Normalizer) createPlaceholderSession(ctx context.Context, p *models.Participant, meetingID string, joinTime time.Time) (*models.Session, error) {
	if p.SupervisingOfficerID == "" {
		return nil, ErrNoOfficer
	}
	sess := &models.Session{
		ParticipantID:     p.ID,
		OfficerID:         p.SupervisingOfficerID,
		ExternalMeetingID: meetingID,
		JoinTime:          joinTime,
		Metadata:          map[string]interface{}{"placeholder": true, "origin": "webhook"},
	}
	if err := n.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	log.Printf("[Normalizer] Created placeholder session %s for %s from provider webhook", sess.ID, p.Email)
	return sess, nil
}

// RecordHeartbeat appends one client activity heartbeat. The session id
// is carried in the request. Heartbeats that arrive within ten minutes
// of a session completing are still appended; anything later, or any
// heartbeat against an abandoned session, is rejected.
func (n *Normalizer) RecordHeartbeat(ctx context.Context, sessionID string, kind models.EventKind, reported time.Time, hasReported bool, meta map[string]interface{}) error {
	if !kind.IsHeartbeatKind() {
		return fmt.Errorf("normalizer: %q is not a heartbeat kind", kind)
	}

	sess, err := n.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch sess.Status {
	case models.SessionInProgress:
	case models.SessionCompleted:
		completedAt := sess.LastEventAt
		if sess.LeaveTime != nil {
			completedAt = *sess.LeaveTime
		}
		if n.now().UTC().Sub(completedAt) > lateHeartbeatWindow {
			return ErrSessionClosed
		}
	default:
		return ErrSessionClosed
	}

	t, data := n.resolveTimestamp(reported, hasReported, cloneMeta(meta))
	ev := &models.TimelineEvent{T: t, Kind: kind, Source: models.SourceHeartbeat, Data: data}
	_, err = n.store.AppendEvent(ctx, sessionID, ev)
	return err
}

// RecordAPIEvent appends an explicit join/leave/rejoin call made by the
// participant client against an open session.
func (n *Normalizer) RecordAPIEvent(ctx context.Context, sessionID string, kind models.EventKind, meta map[string]interface{}) error {
	sess, err := n.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionInProgress {
		return ErrSessionClosed
	}
	ev := &models.TimelineEvent{
		T:      n.now().UTC(),
		Kind:   kind,
		Source: models.SourceAPI,
		Data:   cloneMeta(meta),
	}
	_, err = n.store.AppendEvent(ctx, sessionID, ev)
	return err
}

func webhookKind(eventKind string) (models.EventKind, error) {
	switch eventKind {
	case provider.EventParticipantJoin:
		return models.EventJoined, nil
	case provider.EventParticipantLeave:
		return models.EventLeft, nil
	case provider.EventVideoStarted:
		return models.EventVideoOn, nil
	case provider.EventVideoStopped:
		return models.EventVideoOff, nil
	}
	return "", fmt.Errorf("normalizer: unhandled webhook event %q", eventKind)
}

// ParseHeartbeatKind validates a client-supplied activity kind string.
func ParseHeartbeatKind(raw string) (models.EventKind, error) {
	kind := models.EventKind(strings.ToUpper(strings.TrimSpace(raw)))
	if !kind.IsHeartbeatKind() {
		return "", fmt.Errorf("invalid activity kind %q", raw)
	}
	return kind, nil
}

func cloneMeta(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return nil
	}
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
