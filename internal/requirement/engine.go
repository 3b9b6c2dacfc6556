package requirement

import (
	"time"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Requirement Engine
//
// Computes a participant's rolling compliance status from their stream
// of validated cards. Only valid cards count: verdict PASSED, not
// tampered, and (when the requirement names programs) a matching
// meeting program. Program matching is an eligibility filter here and
// nowhere else — issuance never blocks on it.
// ──────────────────────────────────────────────────────────────────

// ComplianceState is the aggregate judgment for a participant.
type ComplianceState string

const (
	Compliant    ComplianceState = "COMPLIANT"
	InProgress   ComplianceState = "IN_PROGRESS"
	NotStarted   ComplianceState = "NOT_STARTED"
	AtRisk       ComplianceState = "AT_RISK"
	NonCompliant ComplianceState = "NON_COMPLIANT"
)

// Status is the full compliance report.
type Status struct {
	State           ComplianceState `json:"state"`
	Mode            string          `json:"mode"` // "cumulative" or "weekly"
	ValidCards      int             `json:"validCards"`
	Required        int             `json:"required"`
	ThisWeek        int             `json:"thisWeek,omitempty"`
	WeekStart       time.Time       `json:"weekStart,omitempty"`
	IneligibleCards int             `json:"ineligibleCards"` // failed, tampered or program-mismatched
}

// Evaluate computes the compliance status at `now`. tz is the
// participant's IANA timezone for week boundaries; empty or invalid
// falls back to UTC. Weeks start Sunday 00:00.
func Evaluate(req *models.Requirement, cards []models.CourtCard, now time.Time, tz string) Status {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	var valid []models.CourtCard
	ineligible := 0
	for _, c := range cards {
		if c.Verdict != models.VerdictPassed || c.Tampered || !programMatches(req, c.Meeting.Program) {
			ineligible++
			continue
		}
		valid = append(valid, c)
	}

	if req.TotalMeetingsRequired > 0 {
		return cumulative(req, valid, ineligible)
	}
	return weekly(req, valid, ineligible, now, loc)
}

func cumulative(req *models.Requirement, valid []models.CourtCard, ineligible int) Status {
	st := Status{
		Mode:            "cumulative",
		ValidCards:      len(valid),
		Required:        req.TotalMeetingsRequired,
		IneligibleCards: ineligible,
	}
	switch {
	case len(valid) >= req.TotalMeetingsRequired:
		st.State = Compliant
	case len(valid) > 0:
		st.State = InProgress
	default:
		st.State = NotStarted
	}
	return st
}

func weekly(req *models.Requirement, valid []models.CourtCard, ineligible int, now time.Time, loc *time.Location) Status {
	weekStart := WeekStart(now, loc)
	thisWeek := 0
	for _, c := range valid {
		if !c.GeneratedAt.Before(weekStart) {
			thisWeek++
		}
	}

	st := Status{
		Mode:            "weekly",
		ValidCards:      len(valid),
		Required:        req.MeetingsPerWeek,
		ThisWeek:        thisWeek,
		WeekStart:       weekStart,
		IneligibleCards: ineligible,
	}
	switch {
	case thisWeek >= req.MeetingsPerWeek:
		st.State = Compliant
	case thisWeek > 0:
		st.State = AtRisk
	default:
		st.State = NonCompliant
	}
	return st
}

// WeekStart returns the most recent Sunday 00:00 in loc, at or before t.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, -int(midnight.Weekday()))
}

func programMatches(req *models.Requirement, program string) bool {
	if len(req.RequiredPrograms) == 0 {
		return true
	}
	for _, p := range req.RequiredPrograms {
		if p == program {
			return true
		}
	}
	return false
}
