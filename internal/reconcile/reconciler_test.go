package reconcile

import (
	"math"
	"testing"
	"time"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

var base = time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

func ev(seq int64, t time.Time, kind models.EventKind, source models.EventSource) models.TimelineEvent {
	return models.TimelineEvent{Seq: seq, T: t, Kind: kind, Source: source}
}

func approx(got, want float64) bool { return math.Abs(got-want) < 0.01 }

func TestReconcile_HappyPath(t *testing.T) {
	// 60 min meeting, join on time, ACTIVE heartbeat every 30 s, leave on time.
	events := []models.TimelineEvent{
		ev(1, at(0), models.EventJoined, models.SourceWebhook),
		ev(2, at(0), models.EventVideoOn, models.SourceWebhook),
	}
	seq := int64(3)
	for s := 0; s < 60*60; s += 30 {
		events = append(events, models.TimelineEvent{
			Seq: seq, T: base.Add(time.Duration(s) * time.Second),
			Kind: models.EventActive, Source: models.SourceHeartbeat,
		})
		seq++
	}
	left := ev(seq, at(60), models.EventLeft, models.SourceWebhook)
	left.Data = map[string]interface{}{"providerDurationSec": float64(3600)}
	events = append(events, left)

	res := Reconcile(events, 60, 30)

	if !approx(res.Totals.TotalDurationMin, 60) {
		t.Errorf("total = %v, want 60", res.Totals.TotalDurationMin)
	}
	if !approx(res.Totals.ActiveDurationMin, 60) {
		t.Errorf("active = %v, want 60", res.Totals.ActiveDurationMin)
	}
	if res.Totals.IdleDurationMin != 0 {
		t.Errorf("idle = %v, want 0", res.Totals.IdleDurationMin)
	}
	if !approx(res.AttendancePct, 100) {
		t.Errorf("attendancePct = %v, want 100", res.AttendancePct)
	}
	if res.VerificationMethod != models.VerifyBoth {
		t.Errorf("verificationMethod = %v, want BOTH", res.VerificationMethod)
	}
	if !res.HasProviderDuration || !approx(res.ProviderDurationMin, 60) {
		t.Errorf("providerDuration = %v (present=%v), want 60", res.ProviderDurationMin, res.HasProviderDuration)
	}
}

func TestReconcile_RejoinWithProviderDuration(t *testing.T) {
	// Join 19:00, LEFT 19:20, JOINED 19:28, LEFT 20:00 with provider
	// cumulative 52 min. Away period 8 min.
	left := ev(4, at(60), models.EventLeft, models.SourceWebhook)
	left.Data = map[string]interface{}{"providerDurationSec": float64(52 * 60)}
	events := []models.TimelineEvent{
		ev(1, at(0), models.EventJoined, models.SourceWebhook),
		ev(2, at(20), models.EventLeft, models.SourceWebhook),
		ev(3, at(28), models.EventJoined, models.SourceWebhook),
		left,
	}

	res := Reconcile(events, 60, 30)

	if !approx(res.Totals.IdleDurationMin, 8) {
		t.Errorf("idle = %v, want 8", res.Totals.IdleDurationMin)
	}
	if !approx(res.Totals.ActiveDurationMin, 52) {
		t.Errorf("active = %v, want 52", res.Totals.ActiveDurationMin)
	}
	if !approx(res.AttendancePct, 100) {
		t.Errorf("attendancePct = %v, want 100", res.AttendancePct)
	}
	if len(res.LeaveRejoinPeriods) != 1 {
		t.Fatalf("expected 1 leave/rejoin period, got %d", len(res.LeaveRejoinPeriods))
	}
	if !approx(res.LeaveRejoinPeriods[0].Minutes(), 8) {
		t.Errorf("away period = %v min, want 8", res.LeaveRejoinPeriods[0].Minutes())
	}
}

func TestReconcile_StaleSessionCoverage(t *testing.T) {
	// Join 19:00, heartbeats stop at 19:40, synthetic LEFT at 19:40.
	events := []models.TimelineEvent{
		ev(1, at(0), models.EventJoined, models.SourceAPI),
	}
	seq := int64(2)
	for s := 0; s < 40*60; s += 30 {
		events = append(events, models.TimelineEvent{
			Seq: seq, T: base.Add(time.Duration(s) * time.Second),
			Kind: models.EventActive, Source: models.SourceHeartbeat,
		})
		seq++
	}
	events = append(events, ev(seq, at(40), models.EventLeft, models.SourceAPI))

	res := Reconcile(events, 60, 30)

	if !approx(res.Totals.TotalDurationMin, 40) {
		t.Errorf("total = %v, want 40", res.Totals.TotalDurationMin)
	}
	if !approx(res.CoverageRatio, 40.0/60.0) {
		t.Errorf("coverage = %v, want 0.667", res.CoverageRatio)
	}
	if !approx(res.AttendancePct, 66.67) {
		t.Errorf("attendancePct = %v, want 66.67", res.AttendancePct)
	}
}

func TestReconcile_HeartbeatVisibilityAway(t *testing.T) {
	// No webhooks at all: visibility-hidden pair 19:10 → 19:20 with
	// 5 s debounce on each edge.
	hidden := ev(2, at(10), models.EventIdle, models.SourceHeartbeat)
	hidden.Data = map[string]interface{}{"visibility": "hidden"}
	visible := ev(3, at(20), models.EventActive, models.SourceHeartbeat)
	visible.Data = map[string]interface{}{"visibility": "visible"}

	events := []models.TimelineEvent{
		ev(1, at(0), models.EventJoined, models.SourceAPI),
		hidden,
		visible,
		ev(4, at(60), models.EventLeft, models.SourceAPI),
	}

	res := Reconcile(events, 60, 30)

	if len(res.LeaveRejoinPeriods) != 1 {
		t.Fatalf("expected 1 away period, got %d", len(res.LeaveRejoinPeriods))
	}
	wantMin := 10.0 - 10.0/60.0 // 10 min minus 5 s debounce per edge
	if !approx(res.LeaveRejoinPeriods[0].Minutes(), wantMin) {
		t.Errorf("away = %v min, want %v", res.LeaveRejoinPeriods[0].Minutes(), wantMin)
	}
}

func TestReconcile_OverlappingAwayPeriodsMerge(t *testing.T) {
	events := []models.TimelineEvent{
		ev(1, at(0), models.EventJoined, models.SourceWebhook),
		ev(2, at(10), models.EventLeft, models.SourceWebhook),
		ev(3, at(15), models.EventJoined, models.SourceWebhook),
		ev(4, at(14), models.EventLeft, models.SourceWebhook), // out-of-order duplicate leave
		ev(5, at(18), models.EventJoined, models.SourceWebhook),
		ev(6, at(60), models.EventLeft, models.SourceWebhook),
	}

	res := Reconcile(events, 60, 30)

	// [10,15] and [14,18] merge into [10,18].
	if len(res.LeaveRejoinPeriods) != 1 {
		t.Fatalf("expected merged single away period, got %d", len(res.LeaveRejoinPeriods))
	}
	if !approx(res.Totals.IdleDurationMin, 8) {
		t.Errorf("idle = %v, want 8", res.Totals.IdleDurationMin)
	}
}

func TestReconcile_HeartbeatFigurePreferredWhenLarger(t *testing.T) {
	// Webhook span says 40 min with a 20 min away gap (active 20), but a
	// complete heartbeat stream shows 35 min of activity. The larger
	// non-negative figure wins, capped at total − idle.
	events := []models.TimelineEvent{
		ev(1, at(0), models.EventJoined, models.SourceWebhook),
		ev(2, at(10), models.EventLeft, models.SourceWebhook),
		ev(3, at(30), models.EventJoined, models.SourceWebhook),
	}
	seq := int64(4)
	for s := 0; s < 35*60; s += 30 {
		events = append(events, models.TimelineEvent{
			Seq: seq, T: base.Add(time.Duration(s) * time.Second),
			Kind: models.EventActive, Source: models.SourceHeartbeat,
		})
		seq++
	}
	events = append(events, ev(seq, at(40), models.EventLeft, models.SourceWebhook))

	res := Reconcile(events, 60, 30)

	if !approx(res.Totals.IdleDurationMin, 20) {
		t.Errorf("idle = %v, want 20", res.Totals.IdleDurationMin)
	}
	// hbActive = 70 beats × 0.5 min = 35, capped at total − idle = 20.
	if !approx(res.Totals.ActiveDurationMin, 20) {
		t.Errorf("active = %v, want 20 (capped)", res.Totals.ActiveDurationMin)
	}
}

func TestReconcile_VideoOnOpenUntilLeave(t *testing.T) {
	events := []models.TimelineEvent{
		ev(1, at(0), models.EventJoined, models.SourceWebhook),
		ev(2, at(5), models.EventVideoOn, models.SourceWebhook),
		ev(3, at(25), models.EventVideoOff, models.SourceWebhook),
		ev(4, at(30), models.EventVideoOn, models.SourceWebhook),
		ev(5, at(60), models.EventLeft, models.SourceWebhook), // video still on at end
	}

	res := Reconcile(events, 60, 30)

	if !approx(res.Totals.VideoOnDurationMin, 50) {
		t.Errorf("videoOn = %v, want 50", res.Totals.VideoOnDurationMin)
	}
}

func TestReconcile_TieBreakSourcePriority(t *testing.T) {
	// Equal timestamps: WEBHOOK must sort ahead of API ahead of HEARTBEAT.
	events := []models.TimelineEvent{
		ev(3, at(0), models.EventActive, models.SourceHeartbeat),
		ev(2, at(0), models.EventJoined, models.SourceAPI),
		ev(1, at(0), models.EventJoined, models.SourceWebhook),
		ev(4, at(30), models.EventLeft, models.SourceWebhook),
	}
	sorted := sortEvents(events)
	if sorted[0].Source != models.SourceWebhook {
		t.Errorf("first event source = %v, want WEBHOOK", sorted[0].Source)
	}
	if sorted[1].Source != models.SourceAPI {
		t.Errorf("second event source = %v, want API", sorted[1].Source)
	}
	if sorted[2].Source != models.SourceHeartbeat {
		t.Errorf("third event source = %v, want HEARTBEAT", sorted[2].Source)
	}
}

func TestReconcile_EmptyTimeline(t *testing.T) {
	res := Reconcile(nil, 60, 30)
	if res.VerificationMethod != models.VerifyNone {
		t.Errorf("verificationMethod = %v, want NONE", res.VerificationMethod)
	}
	if res.Totals.TotalDurationMin != 0 {
		t.Errorf("total = %v, want 0", res.Totals.TotalDurationMin)
	}
}

func TestInvariant_ActivePlusIdleWithinTotal(t *testing.T) {
	cases := []struct {
		name   string
		events []models.TimelineEvent
	}{
		{"rejoin", []models.TimelineEvent{
			ev(1, at(0), models.EventJoined, models.SourceWebhook),
			ev(2, at(20), models.EventLeft, models.SourceWebhook),
			ev(3, at(28), models.EventJoined, models.SourceWebhook),
			ev(4, at(60), models.EventLeft, models.SourceWebhook),
		}},
		{"short", []models.TimelineEvent{
			ev(1, at(0), models.EventJoined, models.SourceAPI),
			ev(2, at(7), models.EventLeft, models.SourceAPI),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Reconcile(tc.events, 60, 30)
			sum := res.Totals.ActiveDurationMin + res.Totals.IdleDurationMin
			if sum > res.Totals.TotalDurationMin+0.001 {
				t.Errorf("active+idle = %v exceeds total = %v", sum, res.Totals.TotalDurationMin)
			}
			span := res.LeaveTime.Sub(res.JoinTime).Minutes()
			if res.Totals.TotalDurationMin > span+0.001 {
				t.Errorf("total = %v exceeds span = %v", res.Totals.TotalDurationMin, span)
			}
		})
	}
}
