package requirement

import (
	"testing"
	"time"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

func passedCard(generatedAt time.Time, program string) models.CourtCard {
	return models.CourtCard{
		Verdict:     models.VerdictPassed,
		GeneratedAt: generatedAt,
		Meeting:     models.MeetingSnapshot{Program: program},
	}
}

// Wednesday 2025-03-12 15:00 UTC; the week started Sunday 2025-03-09.
var now = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

func TestEvaluate_CumulativeMode(t *testing.T) {
	req := &models.Requirement{TotalMeetingsRequired: 3}

	tests := []struct {
		name  string
		cards []models.CourtCard
		want  ComplianceState
	}{
		{"no cards", nil, NotStarted},
		{"partial", []models.CourtCard{passedCard(now, "AA")}, InProgress},
		{"complete", []models.CourtCard{
			passedCard(now.AddDate(0, 0, -14), "AA"),
			passedCard(now.AddDate(0, 0, -7), "NA"),
			passedCard(now, "AA"),
		}, Compliant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Evaluate(req, tt.cards, now, "")
			if st.State != tt.want {
				t.Errorf("state = %s, want %s", st.State, tt.want)
			}
			if st.Mode != "cumulative" {
				t.Errorf("mode = %s, want cumulative", st.Mode)
			}
		})
	}
}

func TestEvaluate_WeeklyMode(t *testing.T) {
	req := &models.Requirement{MeetingsPerWeek: 2}

	lastWeek := now.AddDate(0, 0, -7)
	tests := []struct {
		name  string
		cards []models.CourtCard
		want  ComplianceState
	}{
		{"nothing this week", []models.CourtCard{passedCard(lastWeek, "AA")}, NonCompliant},
		{"one of two", []models.CourtCard{passedCard(now.AddDate(0, 0, -1), "AA")}, AtRisk},
		{"met", []models.CourtCard{
			passedCard(now.AddDate(0, 0, -2), "AA"),
			passedCard(now.AddDate(0, 0, -1), "AA"),
		}, Compliant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Evaluate(req, tt.cards, now, "")
			if st.State != tt.want {
				t.Errorf("state = %s, want %s (thisWeek=%d)", st.State, tt.want, st.ThisWeek)
			}
		})
	}
}

func TestEvaluate_FiltersInvalidCards(t *testing.T) {
	req := &models.Requirement{TotalMeetingsRequired: 2}

	failed := passedCard(now, "AA")
	failed.Verdict = models.VerdictFailed
	tampered := passedCard(now, "AA")
	tampered.Tampered = true

	st := Evaluate(req, []models.CourtCard{failed, tampered, passedCard(now, "AA")}, now, "")
	if st.ValidCards != 1 {
		t.Errorf("validCards = %d, want 1", st.ValidCards)
	}
	if st.IneligibleCards != 2 {
		t.Errorf("ineligibleCards = %d, want 2", st.IneligibleCards)
	}
	if st.State != InProgress {
		t.Errorf("state = %s, want IN_PROGRESS", st.State)
	}
}

func TestEvaluate_ProgramEligibilityFilter(t *testing.T) {
	req := &models.Requirement{
		TotalMeetingsRequired: 1,
		RequiredPrograms:      []string{"AA", "SMART"},
	}

	st := Evaluate(req, []models.CourtCard{passedCard(now, "NA")}, now, "")
	if st.State != NotStarted {
		t.Errorf("state = %s, want NOT_STARTED (NA card must not count)", st.State)
	}

	st = Evaluate(req, []models.CourtCard{passedCard(now, "SMART")}, now, "")
	if st.State != Compliant {
		t.Errorf("state = %s, want COMPLIANT", st.State)
	}
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			"midweek UTC",
			time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC),
			time.UTC,
			time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			"sunday itself",
			time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
			time.UTC,
			time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			"saturday late",
			time.Date(2025, 3, 15, 23, 59, 0, 0, time.UTC),
			time.UTC,
			time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeekStart(tt.t, tt.loc)
			if !got.Equal(tt.want) {
				t.Errorf("WeekStart = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeekStart_ParticipantTimezone(t *testing.T) {
	// Sunday 02:00 UTC is still Saturday evening in Los Angeles, so the
	// LA week has not rolled over yet.
	utcSunday := time.Date(2025, 3, 9, 2, 0, 0, 0, time.UTC)
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	got := WeekStart(utcSunday, la)
	want := time.Date(2025, 3, 2, 0, 0, 0, 0, la)
	if !got.Equal(want) {
		t.Errorf("WeekStart in LA = %v, want %v", got, want)
	}
}
