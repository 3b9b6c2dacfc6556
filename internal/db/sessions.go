package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Timeline Store
//
// Sessions carry a version counter for optimistic concurrency on the
// derived fields, and an event_seq counter that serializes appends: the
// counter bump takes the session row lock, so writers queue per session
// while readers never block.
// ──────────────────────────────────────────────────────────────────

const sessionColumns = `id, participant_id, officer_id, external_meeting_id,
	join_time, leave_time, status,
	total_duration_min, active_duration_min, idle_duration_min, video_on_duration_min,
	attendance_pct, verification_method, is_valid, metadata, card_issued,
	last_event_at, version`

// CreateSession inserts a new IN_PROGRESS session.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	meta, err := json.Marshal(orEmpty(sess.Metadata))
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	sql := `
		INSERT INTO sessions
			(id, participant_id, officer_id, external_meeting_id, join_time, status,
			 verification_method, metadata, meeting_date, last_event_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.pool.Exec(ctx, sql,
		sess.ID, sess.ParticipantID, sess.OfficerID, sess.ExternalMeetingID,
		sess.JoinTime.UTC(), models.SessionInProgress, models.VerifyNone, meta,
		sess.JoinTime.UTC().Format("2006-01-02"), sess.JoinTime.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	sess.Status = models.SessionInProgress
	sess.LastEventAt = sess.JoinTime.UTC()
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// FindOpenSession resolves the most recent IN_PROGRESS session for a
// participant at an external meeting. Used by the webhook normalizer.
func (s *Store) FindOpenSession(ctx context.Context, externalMeetingID, participantID string) (*models.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE external_meeting_id = $1 AND participant_id = $2 AND status = 'IN_PROGRESS'
		ORDER BY join_time DESC LIMIT 1`,
		externalMeetingID, participantID)
	return scanSession(row)
}

// AppendResult reports whether an event landed or was suppressed.
type AppendResult string

const (
	AppendAccepted  AppendResult = "accepted"
	AppendDuplicate AppendResult = "duplicate"
)

// AppendEvent appends one normalized event to a session's timeline.
// Idempotent on (source, kind, t rounded to the second): a duplicate is
// reported, not an error. Seq assignment holds the session row lock, so
// concurrent appends to the same session serialize.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, ev *models.TimelineEvent) (AppendResult, error) {
	data, err := json.Marshal(orEmpty(ev.Data))
	if err != nil {
		return "", fmt.Errorf("marshal event data: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	err = tx.QueryRow(ctx, `
		UPDATE sessions
		SET event_seq = event_seq + 1,
		    last_event_at = GREATEST(last_event_at, $2)
		WHERE id = $1
		RETURNING event_seq`,
		sessionID, ev.T.UTC()).Scan(&seq)
	if err != nil {
		return "", mapNoRows(fmt.Errorf("bump event seq: %w", err))
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO timeline_events (session_id, seq, ts, ts_second, kind, source, data)
		VALUES ($1, $2, $3, date_trunc('second', $3::timestamptz), $4, $5, $6)
		ON CONFLICT (session_id, source, kind, ts_second) DO NOTHING`,
		sessionID, seq, ev.T.UTC(), ev.Kind, ev.Source, data)
	if err != nil {
		return "", fmt.Errorf("insert timeline event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Suppressed duplicate — roll the seq bump back with the tx.
		return AppendDuplicate, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit append: %w", err)
	}
	ev.Seq = seq
	return AppendAccepted, nil
}

// ReadTimeline returns a session's events ordered by seq. Readers see a
// consistent prefix; appends never block this query.
func (s *Store) ReadTimeline(ctx context.Context, sessionID string) ([]models.TimelineEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, ts, kind, source, data
		FROM timeline_events WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	defer rows.Close()

	var events []models.TimelineEvent
	for rows.Next() {
		var ev models.TimelineEvent
		var data []byte
		if err := rows.Scan(&ev.Seq, &ev.T, &ev.Kind, &ev.Source, &data); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &ev.Data)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DerivedFields is the reconciled state written back onto a session.
type DerivedFields struct {
	LeaveTime          *time.Time
	Status             models.SessionStatus
	Totals             models.SessionTotals
	AttendancePct      float64
	VerificationMethod models.VerificationMethod
	IsValid            bool
	CardIssued         bool
}

// UpdateDerived swaps a session's derived fields under optimistic
// concurrency. Returns ErrCASFailed when the version moved; callers
// re-read and retry at most three times before surfacing a transient
// error.
func (s *Store) UpdateDerived(ctx context.Context, sessionID string, version int64, d DerivedFields) error {
	var leave interface{}
	if d.LeaveTime != nil {
		leave = d.LeaveTime.UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET
			leave_time = $3,
			status = $4,
			total_duration_min = $5,
			active_duration_min = $6,
			idle_duration_min = $7,
			video_on_duration_min = $8,
			attendance_pct = $9,
			verification_method = $10,
			is_valid = $11,
			card_issued = $12,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		sessionID, version, leave, d.Status,
		d.Totals.TotalDurationMin, d.Totals.ActiveDurationMin,
		d.Totals.IdleDurationMin, d.Totals.VideoOnDurationMin,
		d.AttendancePct, d.VerificationMethod, d.IsValid, d.CardIssued)
	if err != nil {
		return fmt.Errorf("update derived fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCASFailed
	}
	return nil
}

// UpdateDerivedRetry wraps UpdateDerived with the re-read-and-retry
// contract. apply receives the freshly read session and returns the
// fields to swap in.
func (s *Store) UpdateDerivedRetry(ctx context.Context, sessionID string, apply func(*models.Session) DerivedFields) error {
	const maxAttempts = 3
	for attempt := 1; ; attempt++ {
		sess, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		err = s.UpdateDerived(ctx, sessionID, sess.Version, apply(sess))
		if err == nil {
			return nil
		}
		if err != ErrCASFailed || attempt == maxAttempts {
			return err
		}
	}
}

// StaleSessions finds IN_PROGRESS sessions whose last evidence is older
// than the per-session grace window: grace = min(capMin, 0.25 × scheduled).
func (s *Store) StaleSessions(ctx context.Context, now time.Time, capMin int) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+qualified(sessionColumns, "s")+`
		FROM sessions s
		JOIN external_meetings m ON m.id = s.external_meeting_id
		WHERE s.status = 'IN_PROGRESS'
		  AND s.last_event_at < $1::timestamptz
		        - LEAST($2 * interval '1 minute', m.scheduled_duration_min * interval '15 seconds')`,
		now.UTC(), capMin)
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// SessionsAwaitingIssuance finds COMPLETED sessions with no card yet.
func (s *Store) SessionsAwaitingIssuance(ctx context.Context, limit int) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status = 'COMPLETED' AND NOT card_issued
		ORDER BY last_event_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions awaiting issuance: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// SessionsByParticipant lists a participant's sessions, optionally
// filtered by status, newest first.
func (s *Store) SessionsByParticipant(ctx context.Context, participantID string, status models.SessionStatus, limit int) ([]models.Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	sql := `SELECT ` + sessionColumns + ` FROM sessions WHERE participant_id = $1`
	args := []interface{}{participantID}
	if status != "" {
		sql += ` AND status = $2`
		args = append(args, status)
	}
	sql += fmt.Sprintf(` ORDER BY join_time DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions by participant: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// SaveWebcamSnapshot records one webcam capture reference for a session.
func (s *Store) SaveWebcamSnapshot(ctx context.Context, snap *models.WebcamSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webcam_snapshots
			(id, session_id, captured_at, minute_into_meeting, blob_ref, face_detected, match_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.SessionID, snap.CapturedAt.UTC(), snap.MinuteIntoMeeting,
		snap.BlobRef, snap.FaceDetected, snap.MatchScore)
	if err != nil {
		return fmt.Errorf("insert webcam snapshot: %w", err)
	}
	return nil
}

// WebcamSnapshots lists a session's snapshot records in capture order.
func (s *Store) WebcamSnapshots(ctx context.Context, sessionID string) ([]models.WebcamSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, captured_at, minute_into_meeting, blob_ref, face_detected, match_score
		FROM webcam_snapshots WHERE session_id = $1 ORDER BY captured_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query webcam snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.WebcamSnapshot
	for rows.Next() {
		var sn models.WebcamSnapshot
		if err := rows.Scan(&sn.ID, &sn.SessionID, &sn.CapturedAt, &sn.MinuteIntoMeeting,
			&sn.BlobRef, &sn.FaceDetected, &sn.MatchScore); err != nil {
			return nil, fmt.Errorf("scan webcam snapshot: %w", err)
		}
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

// ── scan helpers ─────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var meta []byte
	err := row.Scan(&sess.ID, &sess.ParticipantID, &sess.OfficerID, &sess.ExternalMeetingID,
		&sess.JoinTime, &sess.LeaveTime, &sess.Status,
		&sess.Totals.TotalDurationMin, &sess.Totals.ActiveDurationMin,
		&sess.Totals.IdleDurationMin, &sess.Totals.VideoOnDurationMin,
		&sess.AttendancePct, &sess.VerificationMethod, &sess.IsValid, &meta, &sess.CardIssued,
		&sess.LastEventAt, &sess.Version)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &sess.Metadata)
	}
	return &sess, nil
}

type pgxRows interface {
	rowScanner
	Next() bool
	Err() error
}

func scanSessions(rows pgxRows) ([]models.Session, error) {
	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// qualified prefixes each column in a comma-separated list with a table
// alias, for joined queries sharing the scan helpers.
func qualified(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
