package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Directory records: participants, officers, requirements, meetings.
// ──────────────────────────────────────────────────────────────────

// CreateParticipant registers a participant. Email is normalized to
// lowercase; a duplicate email returns ErrConflict.
func (s *Store) CreateParticipant(ctx context.Context, p *models.Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	var officerID interface{}
	if p.SupervisingOfficerID != "" {
		officerID = p.SupervisingOfficerID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participants (id, email, name, case_number, supervising_officer_id, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)`,
		p.ID, p.Email, p.Name, p.CaseNumber, officerID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	p.IsActive = true
	return nil
}

// GetParticipant loads a participant by id.
func (s *Store) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	return s.participantWhere(ctx, `id = $1`, id)
}

// GetParticipantByEmail loads a participant by lowercase email.
func (s *Store) GetParticipantByEmail(ctx context.Context, email string) (*models.Participant, error) {
	return s.participantWhere(ctx, `email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) participantWhere(ctx context.Context, where string, arg interface{}) (*models.Participant, error) {
	var p models.Participant
	var officerID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, case_number, supervising_officer_id, is_active, created_at
		FROM participants WHERE `+where, arg).
		Scan(&p.ID, &p.Email, &p.Name, &p.CaseNumber, &officerID, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if officerID != nil {
		p.SupervisingOfficerID = *officerID
	}
	return &p, nil
}

// ParticipantsByOfficer lists the participants an officer supervises,
// optionally filtered to active ones.
func (s *Store) ParticipantsByOfficer(ctx context.Context, officerID string, activeOnly bool) ([]models.Participant, error) {
	sql := `
		SELECT id, email, name, case_number, supervising_officer_id, is_active, created_at
		FROM participants WHERE supervising_officer_id = $1`
	if activeOnly {
		sql += ` AND is_active`
	}
	sql += ` ORDER BY name, email`

	rows, err := s.pool.Query(ctx, sql, officerID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		var oid *string
		if err := rows.Scan(&p.ID, &p.Email, &p.Name, &p.CaseNumber, &oid, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if oid != nil {
			p.SupervisingOfficerID = *oid
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeactivateParticipant soft-deletes a participant.
func (s *Store) DeactivateParticipant(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE participants SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateOfficer registers a supervising officer.
func (s *Store) CreateOfficer(ctx context.Context, o *models.Officer) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Email = strings.ToLower(strings.TrimSpace(o.Email))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO officers (id, email, name, badge, organization, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)`,
		o.ID, o.Email, o.Name, o.Badge, o.Organization)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert officer: %w", err)
	}
	o.IsActive = true
	return nil
}

// GetOfficer loads an officer by id.
func (s *Store) GetOfficer(ctx context.Context, id string) (*models.Officer, error) {
	var o models.Officer
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, badge, organization, is_active, created_at
		FROM officers WHERE id = $1`, id).
		Scan(&o.ID, &o.Email, &o.Name, &o.Badge, &o.Organization, &o.IsActive, &o.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &o, nil
}

// SetRequirement activates a new requirement for a participant,
// deactivating any prior one in the same transaction so the
// one-active-requirement invariant holds at every instant.
func (s *Store) SetRequirement(ctx context.Context, r *models.Requirement) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set requirement: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`UPDATE requirements SET active = FALSE WHERE participant_id = $1 AND active`,
		r.ParticipantID)
	if err != nil {
		return fmt.Errorf("deactivate prior requirement: %w", err)
	}

	programs := r.RequiredPrograms
	if programs == nil {
		programs = []string{}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO requirements
			(id, participant_id, officer_id, total_meetings_required, meetings_per_week,
			 required_programs, minimum_duration_min, minimum_attendance_pct, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
		r.ID, r.ParticipantID, r.OfficerID, r.TotalMeetingsRequired, r.MeetingsPerWeek,
		programs, r.MinimumDurationMin, r.MinimumAttendancePct)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert requirement: %w", err)
	}

	r.Active = true
	return tx.Commit(ctx)
}

// ActiveRequirement loads the participant's single active requirement.
func (s *Store) ActiveRequirement(ctx context.Context, participantID string) (*models.Requirement, error) {
	var r models.Requirement
	err := s.pool.QueryRow(ctx, `
		SELECT id, participant_id, officer_id, total_meetings_required, meetings_per_week,
		       required_programs, minimum_duration_min, minimum_attendance_pct, active, created_at
		FROM requirements WHERE participant_id = $1 AND active`, participantID).
		Scan(&r.ID, &r.ParticipantID, &r.OfficerID, &r.TotalMeetingsRequired, &r.MeetingsPerWeek,
			&r.RequiredPrograms, &r.MinimumDurationMin, &r.MinimumAttendancePct, &r.Active, &r.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &r, nil
}

// UpsertExternalMeeting stores or refreshes a provider meeting record.
func (s *Store) UpsertExternalMeeting(ctx context.Context, m *models.ExternalMeeting) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO external_meetings
			(id, provider, provider_meeting_id, name, program, scheduled_start,
			 scheduled_duration_min, timezone, join_url, passcode, tags)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (provider, provider_meeting_id) DO UPDATE SET
			name = EXCLUDED.name, program = EXCLUDED.program,
			scheduled_start = EXCLUDED.scheduled_start,
			scheduled_duration_min = EXCLUDED.scheduled_duration_min,
			timezone = EXCLUDED.timezone, join_url = EXCLUDED.join_url,
			tags = EXCLUDED.tags
		RETURNING id`,
		m.ID, m.Provider, m.ProviderMeetingID, m.Name, m.Program, m.ScheduledStart.UTC(),
		m.ScheduledDurationMin, m.Timezone, m.JoinURL, m.Passcode, tags).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("upsert external meeting: %w", err)
	}
	return nil
}

// GetExternalMeeting loads a meeting by id.
func (s *Store) GetExternalMeeting(ctx context.Context, id string) (*models.ExternalMeeting, error) {
	return s.meetingWhere(ctx, `id = $1`, id)
}

// GetExternalMeetingByProviderID resolves a provider's meeting id.
func (s *Store) GetExternalMeetingByProviderID(ctx context.Context, provider, providerMeetingID string) (*models.ExternalMeeting, error) {
	var m models.ExternalMeeting
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider, provider_meeting_id, name, program, scheduled_start,
		       scheduled_duration_min, timezone, join_url, passcode, tags
		FROM external_meetings WHERE provider = $1 AND provider_meeting_id = $2`,
		provider, providerMeetingID).
		Scan(&m.ID, &m.Provider, &m.ProviderMeetingID, &m.Name, &m.Program, &m.ScheduledStart,
			&m.ScheduledDurationMin, &m.Timezone, &m.JoinURL, &m.Passcode, &m.Tags)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &m, nil
}

func (s *Store) meetingWhere(ctx context.Context, where string, arg interface{}) (*models.ExternalMeeting, error) {
	var m models.ExternalMeeting
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider, provider_meeting_id, name, program, scheduled_start,
		       scheduled_duration_min, timezone, join_url, passcode, tags
		FROM external_meetings WHERE `+where, arg).
		Scan(&m.ID, &m.Provider, &m.ProviderMeetingID, &m.Name, &m.Program, &m.ScheduledStart,
			&m.ScheduledDurationMin, &m.Timezone, &m.JoinURL, &m.Passcode, &m.Tags)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &m, nil
}
