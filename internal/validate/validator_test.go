package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/proofmeet/courtcard-engine/internal/config"
	"github.com/proofmeet/courtcard-engine/internal/reconcile"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

var sched = time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)

// input builds a 60-minute scheduled meeting with the given join/leave
// offsets and metric overrides.
func input(joinOffsetMin, leaveOffsetMin float64, totals models.SessionTotals, coverage float64) Input {
	return Input{
		Reconciled: reconcile.Result{
			JoinTime:      sched.Add(time.Duration(joinOffsetMin * float64(time.Minute))),
			LeaveTime:     sched.Add(time.Duration(leaveOffsetMin * float64(time.Minute))),
			Totals:        totals,
			CoverageRatio: coverage,
			AttendancePct: min100(coverage * 100),
		},
		ScheduledStart:       sched,
		ScheduledDurationMin: 60,
		GraceWindowMin:       10,
		WindowRule:           config.WindowRuleMax,
	}
}

func min100(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}

func hasCode(out Outcome, code string, severity string) bool {
	for _, v := range out.Violations {
		if v.Code == code && v.Severity == severity {
			return true
		}
	}
	return false
}

func TestWindowRule_MaxVariantBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		joinOff  float64
		leaveOff float64
		wantFail bool
	}{
		{"on time", 0, 60, false},
		{"exactly at grace", 10, 60, false},
		{"one past grace", 11, 60, true},
		{"early arrival never counts", -20, 60, false},
		{"early leave past grace", 0, 49, true},
		{"both sides within grace", 8, 52, false}, // max(8,8)=8 ≤ 10
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(tt.joinOff, tt.leaveOff,
				models.SessionTotals{TotalDurationMin: 60, ActiveDurationMin: 60}, 1.0)
			_, breached := windowViolation(in, config.WindowRuleMax)
			if breached != tt.wantFail {
				t.Errorf("breached = %v, want %v", breached, tt.wantFail)
			}
		})
	}
}

func TestWindowRule_CumulativeVariant(t *testing.T) {
	// 8 min late + 8 min early: passes max rule, fails cumulative rule.
	in := input(8, 52, models.SessionTotals{TotalDurationMin: 44, ActiveDurationMin: 44}, 44.0/60.0)

	if _, breached := windowViolation(in, config.WindowRuleMax); breached {
		t.Errorf("max rule breached on 8+8, want pass")
	}
	v, breached := windowViolation(in, config.WindowRuleCumulative)
	if !breached {
		t.Fatalf("cumulative rule not breached on 8+8, want fail")
	}
	if v.Code != models.CodeAttendanceWindow {
		t.Errorf("code = %s, want %s", v.Code, models.CodeAttendanceWindow)
	}
	// The message must cite both 8-minute figures.
	if !strings.Contains(v.Message, "8.0 min after") || !strings.Contains(v.Message, "8.0 min before") {
		t.Errorf("message does not cite both sides: %q", v.Message)
	}
}

func TestActiveRatioBoundary(t *testing.T) {
	tests := []struct {
		name     string
		active   float64
		wantFail bool
	}{
		{"exactly 80 percent", 48.0, false},
		{"just under 80 percent", 47.994, true}, // 79.99%
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(0, 60, models.SessionTotals{
				TotalDurationMin:  60,
				ActiveDurationMin: tt.active,
				IdleDurationMin:   0,
			}, 1.0)
			out := Validate(in)
			got := hasCode(out, models.CodeLowActiveTime, models.SeverityCritical)
			if got != tt.wantFail {
				t.Errorf("LOW_ACTIVE_TIME critical = %v, want %v", got, tt.wantFail)
			}
		})
	}
}

func TestCoverageBoundary(t *testing.T) {
	tests := []struct {
		name     string
		coverage float64
		wantFail bool
	}{
		{"exactly 80 percent", 0.80, false},
		{"below 80 percent", 0.7999, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := tt.coverage * 60
			in := input(0, total, models.SessionTotals{
				TotalDurationMin:  total,
				ActiveDurationMin: total,
			}, tt.coverage)
			// Keep the window rule quiet; this test is about coverage.
			in.GraceWindowMin = 60
			out := Validate(in)
			got := hasCode(out, models.CodeInsufficientAttendance, models.SeverityCritical)
			if got != tt.wantFail {
				t.Errorf("INSUFFICIENT_ATTENDANCE critical = %v, want %v", got, tt.wantFail)
			}
		})
	}
}

func TestEngagementOverride_WaivesIdleOnly(t *testing.T) {
	// 25% idle with engagement 90 → WARNING only, verdict PASSED.
	in := input(0, 60, models.SessionTotals{
		TotalDurationMin:  60,
		ActiveDurationMin: 48, // 80% active keeps the active-ratio rule quiet
		IdleDurationMin:   15, // 25% idle trips the idle rule
	}, 1.0)
	in.EngagementScore = 90
	in.HasEngagementScore = true

	out := Validate(in)
	if out.Verdict != models.VerdictPassed {
		t.Errorf("verdict = %s, want PASSED (idle waived at engagement 90)", out.Verdict)
	}
	if !hasCode(out, models.CodeExcessiveIdleTime, models.SeverityWarning) {
		t.Errorf("expected EXCESSIVE_IDLE_TIME downgraded to WARNING, got %+v", out.Violations)
	}

	// Engagement 89 → still CRITICAL, verdict FAILED.
	in.EngagementScore = 89
	out = Validate(in)
	if out.Verdict != models.VerdictFailed {
		t.Errorf("verdict = %s, want FAILED at engagement 89", out.Verdict)
	}
	if !hasCode(out, models.CodeExcessiveIdleTime, models.SeverityCritical) {
		t.Errorf("expected EXCESSIVE_IDLE_TIME critical at engagement 89, got %+v", out.Violations)
	}
}

func TestEngagementOverride_DoesNotTouchOtherRules(t *testing.T) {
	// Low active ratio must stay CRITICAL regardless of engagement.
	in := input(0, 60, models.SessionTotals{
		TotalDurationMin:  60,
		ActiveDurationMin: 30,
		IdleDurationMin:   30,
	}, 1.0)
	in.EngagementScore = 99
	in.HasEngagementScore = true

	out := Validate(in)
	if out.Verdict != models.VerdictFailed {
		t.Errorf("verdict = %s, want FAILED", out.Verdict)
	}
	if !hasCode(out, models.CodeLowActiveTime, models.SeverityCritical) {
		t.Errorf("LOW_ACTIVE_TIME must stay CRITICAL under engagement override")
	}
}

func TestAdvisories(t *testing.T) {
	t.Run("low attendance band", func(t *testing.T) {
		in := input(0, 51, models.SessionTotals{
			TotalDurationMin:  51,
			ActiveDurationMin: 51,
		}, 0.85)
		in.GraceWindowMin = 60
		out := Validate(in)
		if out.Verdict != models.VerdictPassed {
			t.Errorf("verdict = %s, want PASSED", out.Verdict)
		}
		if !hasCode(out, models.CodeLowAttendance, models.SeverityWarning) {
			t.Errorf("expected LOW_ATTENDANCE warning in the 80–90 band")
		}
	})

	t.Run("no heartbeats", func(t *testing.T) {
		in := input(0, 60, models.SessionTotals{TotalDurationMin: 60, ActiveDurationMin: 60}, 1.0)
		out := Validate(in)
		if !hasCode(out, models.CodeNoHeartbeats, models.SeverityWarning) {
			t.Errorf("expected NO_HEARTBEATS warning")
		}
	})

	t.Run("good heartbeat coverage", func(t *testing.T) {
		in := input(0, 60, models.SessionTotals{TotalDurationMin: 60, ActiveDurationMin: 60}, 1.0)
		in.Reconciled.HeartbeatCount = 115
		in.Reconciled.HeartbeatCoverage = 0.96
		out := Validate(in)
		if !hasCode(out, models.CodeGoodHeartbeatCoverage, models.SeverityInfo) {
			t.Errorf("expected GOOD_HEARTBEAT_COVERAGE info")
		}
	})
}

func TestExplanationMentionsVerdictAndViolations(t *testing.T) {
	in := input(11, 60, models.SessionTotals{TotalDurationMin: 49, ActiveDurationMin: 49}, 49.0/60.0)
	out := Validate(in)
	if out.Verdict != models.VerdictFailed {
		t.Fatalf("verdict = %s, want FAILED", out.Verdict)
	}
	if !strings.Contains(out.Explanation, "FAILED") {
		t.Errorf("explanation missing verdict: %q", out.Explanation)
	}
	if !strings.Contains(out.Explanation, models.CodeAttendanceWindow) {
		t.Errorf("explanation missing violation code: %q", out.Explanation)
	}
}
