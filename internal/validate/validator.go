package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/proofmeet/courtcard-engine/internal/config"
	"github.com/proofmeet/courtcard-engine/internal/reconcile"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Validation rule set
//
// Applies the policy rules in order against reconciled metrics plus the
// scheduled meeting window. Only CRITICAL violations flip the verdict
// to FAILED; WARNING and INFO advisories ride along on the card.
// ──────────────────────────────────────────────────────────────────

// Rule thresholds.
const (
	minActiveRatio      = 0.80 // active/total below this is CRITICAL
	maxIdleRatio        = 0.20 // idle/total above this is CRITICAL
	minCoverageRatio    = 0.80 // total/scheduled below this is CRITICAL
	lowAttendanceBound  = 90.0 // attendance in [80, 90) draws a WARNING
	lowHeartbeatRatio   = 0.50 // heartbeat coverage below this draws a WARNING
	goodHeartbeatRatio  = 0.90 // heartbeat coverage at or above this is noted
	engagementWaiverMin = 90.0 // metadata engagement score that downgrades the idle rule
)

// Input carries everything the rule set reads.
type Input struct {
	Reconciled reconcile.Result

	ScheduledStart       time.Time
	ScheduledDurationMin int

	// EngagementScore is the optional client-computed engagement figure
	// from the session metadata bag.
	EngagementScore    float64
	HasEngagementScore bool

	GraceWindowMin int
	WindowRule     config.WindowRule
}

// Outcome is the verdict plus its full justification.
type Outcome struct {
	Verdict     models.Verdict     `json:"verdict"`
	Violations  []models.Violation `json:"violations"`
	Explanation string             `json:"explanation"`
}

// HasCritical reports whether any violation carries CRITICAL severity.
func (o Outcome) HasCritical() bool {
	for _, v := range o.Violations {
		if v.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

// Validate applies the rule set in order and produces the verdict, the
// violation vector and a human-readable explanation.
func Validate(in Input) Outcome {
	var out Outcome
	r := in.Reconciled

	// Attendance window rule.
	if v, ok := windowViolation(in, in.WindowRule); ok {
		out.Violations = append(out.Violations, v)
	}

	total := r.Totals.TotalDurationMin
	if total > 0 {
		activeRatio := r.Totals.ActiveDurationMin / total
		idleRatio := r.Totals.IdleDurationMin / total

		// Active-ratio rule.
		if activeRatio < minActiveRatio {
			out.Violations = append(out.Violations, models.Violation{
				Code:     models.CodeLowActiveTime,
				Severity: models.SeverityCritical,
				Message: fmt.Sprintf("Active time is %.1f%% of attended time; at least %.0f%% is required",
					activeRatio*100, minActiveRatio*100),
				Actual: activeRatio,
				Limit:  minActiveRatio,
			})
		}

		// Idle-ratio rule. An engagement score of 90+ downgrades this
		// rule, and only this rule, to a WARNING.
		if idleRatio > maxIdleRatio {
			severity := models.SeverityCritical
			msg := fmt.Sprintf("Idle time is %.1f%% of attended time; at most %.0f%% is allowed",
				idleRatio*100, maxIdleRatio*100)
			if in.HasEngagementScore && in.EngagementScore >= engagementWaiverMin {
				severity = models.SeverityWarning
				msg += fmt.Sprintf(" (waived: engagement score %.0f)", in.EngagementScore)
			}
			out.Violations = append(out.Violations, models.Violation{
				Code:     models.CodeExcessiveIdleTime,
				Severity: severity,
				Message:  msg,
				Actual:   idleRatio,
				Limit:    maxIdleRatio,
			})
		} else if r.Totals.IdleDurationMin > 0 {
			// Advisory: idle present but within limits.
			out.Violations = append(out.Violations, models.Violation{
				Code:     models.CodeIdleWithinLimits,
				Severity: models.SeverityInfo,
				Message: fmt.Sprintf("%.1f min of idle time recorded, within the %.0f%% allowance",
					r.Totals.IdleDurationMin, maxIdleRatio*100),
				Actual: idleRatio,
				Limit:  maxIdleRatio,
			})
		}
	}

	// Coverage of the scheduled duration.
	if r.CoverageRatio < minCoverageRatio {
		out.Violations = append(out.Violations, models.Violation{
			Code:     models.CodeInsufficientAttendance,
			Severity: models.SeverityCritical,
			Message: fmt.Sprintf("Attended %.1f of %d scheduled minutes (%.1f%%); at least %.0f%% is required",
				total, in.ScheduledDurationMin, r.CoverageRatio*100, minCoverageRatio*100),
			Actual: r.CoverageRatio,
			Limit:  minCoverageRatio,
		})
	} else if r.AttendancePct < lowAttendanceBound {
		// Advisory: attendance in the [80, 90) band.
		out.Violations = append(out.Violations, models.Violation{
			Code:     models.CodeLowAttendance,
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("Attendance is %.1f%%, below the %.0f%% comfort band", r.AttendancePct, lowAttendanceBound),
			Actual:   r.AttendancePct,
			Limit:    lowAttendanceBound,
		})
	}

	// Advisories on heartbeat stream health.
	switch {
	case r.HeartbeatCount == 0:
		out.Violations = append(out.Violations, models.Violation{
			Code:     models.CodeNoHeartbeats,
			Severity: models.SeverityWarning,
			Message:  "No client heartbeats were received; engagement was verified from provider events only",
			Actual:   0,
			Limit:    0,
		})
	case r.HeartbeatCoverage < lowHeartbeatRatio:
		out.Violations = append(out.Violations, models.Violation{
			Code:     models.CodeLowHeartbeatCoverage,
			Severity: models.SeverityWarning,
			Message: fmt.Sprintf("Heartbeat coverage is %.0f%% of expected; below %.0f%%",
				r.HeartbeatCoverage*100, lowHeartbeatRatio*100),
			Actual: r.HeartbeatCoverage,
			Limit:  lowHeartbeatRatio,
		})
	case r.HeartbeatCoverage >= goodHeartbeatRatio:
		out.Violations = append(out.Violations, models.Violation{
			Code:     models.CodeGoodHeartbeatCoverage,
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("Heartbeat coverage is %.0f%% of expected", r.HeartbeatCoverage*100),
			Actual:   r.HeartbeatCoverage,
			Limit:    goodHeartbeatRatio,
		})
	}

	out.Verdict = models.VerdictPassed
	if out.HasCritical() {
		out.Verdict = models.VerdictFailed
	}
	out.Explanation = explain(in, out)
	return out
}

// windowViolation evaluates the attendance window under the given rule variant.
// L is lateness past the scheduled start (early arrival never counts);
// E is early departure before the scheduled end.
func windowViolation(in Input, rule config.WindowRule) (models.Violation, bool) {
	r := in.Reconciled
	scheduledEnd := in.ScheduledStart.Add(time.Duration(in.ScheduledDurationMin) * time.Minute)

	lateMin := r.JoinTime.Sub(in.ScheduledStart).Minutes()
	if lateMin < 0 {
		lateMin = 0
	}
	earlyMin := scheduledEnd.Sub(r.LeaveTime).Minutes()
	if earlyMin < 0 {
		earlyMin = 0
	}

	grace := float64(in.GraceWindowMin)
	var breached bool
	var actual float64
	switch rule {
	case config.WindowRuleCumulative:
		actual = lateMin + earlyMin
		breached = actual > grace
	default: // WindowRuleMax
		actual = lateMin
		if earlyMin > actual {
			actual = earlyMin
		}
		breached = actual > grace
	}
	if !breached {
		return models.Violation{}, false
	}

	var sides []string
	if lateMin > 0 && (rule == config.WindowRuleCumulative || lateMin > grace) {
		sides = append(sides, fmt.Sprintf("joined %.1f min after the scheduled start", lateMin))
	}
	if earlyMin > 0 && (rule == config.WindowRuleCumulative || earlyMin > grace) {
		sides = append(sides, fmt.Sprintf("left %.1f min before the scheduled end", earlyMin))
	}
	return models.Violation{
		Code:     models.CodeAttendanceWindow,
		Severity: models.SeverityCritical,
		Message: fmt.Sprintf("Attendance window violated (%s rule, grace %d min): %s",
			rule, in.GraceWindowMin, strings.Join(sides, "; ")),
		Actual: actual,
		Limit:  grace,
	}, true
}

// explain renders the stored human-readable summary of the verdict.
func explain(in Input, out Outcome) string {
	r := in.Reconciled
	var b strings.Builder
	fmt.Fprintf(&b, "Verdict %s. Attended %.1f min of %d scheduled (%.1f%%); active %.1f min, idle %.1f min, video on %.1f min.",
		out.Verdict, r.Totals.TotalDurationMin, in.ScheduledDurationMin, r.AttendancePct,
		r.Totals.ActiveDurationMin, r.Totals.IdleDurationMin, r.Totals.VideoOnDurationMin)
	if r.HeartbeatCount > 0 {
		fmt.Fprintf(&b, " Heartbeat coverage %.0f%%.", r.HeartbeatCoverage*100)
	}
	critical, warnings := 0, 0
	for _, v := range out.Violations {
		switch v.Severity {
		case models.SeverityCritical:
			critical++
		case models.SeverityWarning:
			warnings++
		}
	}
	if critical > 0 || warnings > 0 {
		fmt.Fprintf(&b, " %d critical violation(s), %d warning(s):", critical, warnings)
		for _, v := range out.Violations {
			if v.Severity == models.SeverityInfo {
				continue
			}
			fmt.Fprintf(&b, " [%s] %s.", v.Code, v.Message)
		}
	} else {
		b.WriteString(" No violations.")
	}
	return b.String()
}
