package reconcile

import (
	"sort"
	"time"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Timeline Reconciler
//
// Pure fold over a session's normalized event list. Fuses the three
// evidence streams (provider webhooks, client heartbeats, manual API
// calls) into one set of derived duration metrics. Never touches the
// store: once the timeline is loaded, reconciliation cannot block.
// ──────────────────────────────────────────────────────────────────

// visibilityDebounce guards the heartbeat-derived away edges: a tab
// flicker shorter than twice this window is not an away period.
const visibilityDebounce = 5 * time.Second

// AwayPeriod is one leave/rejoin interval identified in the timeline.
type AwayPeriod struct {
	Start  time.Time          `json:"start"`
	End    time.Time          `json:"end"`
	Source models.EventSource `json:"source"` // WEBHOOK pair or HEARTBEAT visibility pair
}

// Minutes returns the away period's length in minutes.
func (p AwayPeriod) Minutes() float64 {
	return p.End.Sub(p.Start).Minutes()
}

// Result holds every figure the validator and card issuer need.
type Result struct {
	JoinTime  time.Time `json:"joinTime"`
	LeaveTime time.Time `json:"leaveTime"`

	Totals             models.SessionTotals      `json:"totals"`
	AttendancePct      float64                   `json:"attendancePct"`
	CoverageRatio      float64                   `json:"coverageRatio"` // totalDuration / scheduledDuration
	HeartbeatCoverage  float64                   `json:"heartbeatCoverage"`
	HeartbeatCount     int                       `json:"heartbeatCount"`
	LeaveRejoinPeriods []AwayPeriod              `json:"leaveRejoinPeriods"`
	VerificationMethod models.VerificationMethod `json:"verificationMethod"`

	// ProviderDurationMin is the authoritative cumulative duration the
	// provider attached to the final LEFT event, when present.
	ProviderDurationMin float64 `json:"providerDurationMin"`
	HasProviderDuration bool    `json:"hasProviderDuration"`
}

// Reconcile folds a timeline into derived metrics. scheduledDurationMin
// is the meeting's scheduled length; heartbeatPeriodSec is the nominal
// client heartbeat period (30 s unless reconfigured).
func Reconcile(events []models.TimelineEvent, scheduledDurationMin int, heartbeatPeriodSec int) Result {
	events = sortEvents(events)

	var res Result
	if len(events) == 0 {
		res.VerificationMethod = models.VerifyNone
		return res
	}

	res.JoinTime = firstOf(events, models.EventJoined)
	res.LeaveTime = lastLeave(events)
	res.VerificationMethod = verificationMethod(events)

	span := res.LeaveTime.Sub(res.JoinTime).Minutes()
	if span < 0 {
		span = 0
	}

	// Away periods: webhook LEFT→JOINED pairs take precedence; fall back
	// to heartbeat visibility pairs when the webhook stream is absent.
	away := webhookAwayPeriods(events)
	if len(away) == 0 {
		away = heartbeatAwayPeriods(events, res.LeaveTime)
	}
	away = clampPeriods(mergePeriods(away), res.JoinTime, res.LeaveTime)
	res.LeaveRejoinPeriods = away

	idle := 0.0
	for _, p := range away {
		idle += p.Minutes()
	}
	if idle > span {
		idle = span
	}

	// Provider cumulative duration on the final LEFT is authoritative
	// for in-meeting time; otherwise derive it from the span minus the
	// identified away periods.
	inMeeting := span - idle
	for i := len(events) - 1; i >= 0; i-- {
		if d, ok := events[i].ProviderDurationMin(); ok {
			res.ProviderDurationMin = d
			res.HasProviderDuration = true
			inMeeting = d
			break
		}
	}

	// Alternate engagement figure from the heartbeat stream: trust
	// whichever source is more complete.
	nActive, nIdle, nHeartbeats := heartbeatCounts(events)
	res.HeartbeatCount = nHeartbeats
	hbActive := float64(nActive-nIdle) * float64(heartbeatPeriodSec) / 60.0
	if hbActive < 0 {
		hbActive = 0
	}

	active := inMeeting
	if nHeartbeats > 0 && hbActive > active {
		active = hbActive
	}
	if active < 0 {
		active = 0
	}
	if active > span-idle {
		active = span - idle
	}

	res.Totals = models.SessionTotals{
		TotalDurationMin:   span,
		ActiveDurationMin:  active,
		IdleDurationMin:    idle,
		VideoOnDurationMin: videoOnMinutes(events, res.LeaveTime, span),
	}

	if scheduledDurationMin > 0 {
		res.CoverageRatio = span / float64(scheduledDurationMin)
		res.AttendancePct = res.CoverageRatio * 100
		if res.AttendancePct > 100 {
			res.AttendancePct = 100
		}
	} else {
		res.CoverageRatio = 1
		res.AttendancePct = 100
	}

	if span > 0 {
		expected := span * 60.0 / float64(heartbeatPeriodSec)
		res.HeartbeatCoverage = float64(nHeartbeats) / expected
		if res.HeartbeatCoverage > 1 {
			res.HeartbeatCoverage = 1
		}
	}

	return res
}

// sortEvents orders by timestamp; ties break on source priority
// (WEBHOOK > API > HEARTBEAT) then seq.
func sortEvents(events []models.TimelineEvent) []models.TimelineEvent {
	sorted := make([]models.TimelineEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].T.Equal(sorted[j].T) {
			return sorted[i].T.Before(sorted[j].T)
		}
		if pi, pj := sorted[i].Source.Priority(), sorted[j].Source.Priority(); pi != pj {
			return pi > pj
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	return sorted
}

func firstOf(events []models.TimelineEvent, kind models.EventKind) time.Time {
	for _, ev := range events {
		if ev.Kind == kind {
			return ev.T
		}
	}
	return events[0].T
}

func lastLeave(events []models.TimelineEvent) time.Time {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == models.EventLeft {
			return events[i].T
		}
	}
	return events[len(events)-1].T
}

func verificationMethod(events []models.TimelineEvent) models.VerificationMethod {
	var webhook, heartbeat bool
	for _, ev := range events {
		switch ev.Source {
		case models.SourceWebhook:
			webhook = true
		case models.SourceHeartbeat:
			heartbeat = true
		}
	}
	switch {
	case webhook && heartbeat:
		return models.VerifyBoth
	case webhook:
		return models.VerifyWebhook
	case heartbeat:
		return models.VerifyHeartbeat
	}
	return models.VerifyNone
}

// webhookAwayPeriods pairs each webhook LEFT with the next unconsumed
// webhook JOINED after it. Overlapping pairs are legal here; the caller
// merges them. A LEFT with no later JOINED is the session end, not an
// away period.
func webhookAwayPeriods(events []models.TimelineEvent) []AwayPeriod {
	var lefts, joins []time.Time
	for _, ev := range events {
		if ev.Source != models.SourceWebhook {
			continue
		}
		switch ev.Kind {
		case models.EventLeft:
			lefts = append(lefts, ev.T)
		case models.EventJoined:
			joins = append(joins, ev.T)
		}
	}

	var periods []AwayPeriod
	j := 0
	for _, left := range lefts {
		for j < len(joins) && !joins[j].After(left) {
			j++
		}
		if j == len(joins) {
			break
		}
		periods = append(periods, AwayPeriod{Start: left, End: joins[j], Source: models.SourceWebhook})
		j++
	}
	return periods
}

// heartbeatAwayPeriods derives away periods from visibility-hidden /
// visible heartbeat edges, debouncing each edge so tab flickers do not
// register.
func heartbeatAwayPeriods(events []models.TimelineEvent, sessionEnd time.Time) []AwayPeriod {
	var periods []AwayPeriod
	var hiddenAt *time.Time
	for _, ev := range events {
		if ev.Source != models.SourceHeartbeat {
			continue
		}
		visibility, _ := ev.Data["visibility"].(string)
		switch visibility {
		case "hidden":
			if hiddenAt == nil {
				t := ev.T
				hiddenAt = &t
			}
		case "visible":
			if hiddenAt != nil {
				appendDebounced(&periods, *hiddenAt, ev.T)
				hiddenAt = nil
			}
		}
	}
	if hiddenAt != nil && sessionEnd.After(*hiddenAt) {
		appendDebounced(&periods, *hiddenAt, sessionEnd)
	}
	return periods
}

func appendDebounced(periods *[]AwayPeriod, start, end time.Time) {
	start = start.Add(visibilityDebounce)
	end = end.Add(-visibilityDebounce)
	if end.After(start) {
		*periods = append(*periods, AwayPeriod{Start: start, End: end, Source: models.SourceHeartbeat})
	}
}

// mergePeriods collapses overlapping or touching away periods.
func mergePeriods(periods []AwayPeriod) []AwayPeriod {
	if len(periods) < 2 {
		return periods
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Start.Before(periods[j].Start) })

	merged := periods[:1]
	for _, p := range periods[1:] {
		last := &merged[len(merged)-1]
		if !p.Start.After(last.End) {
			if p.End.After(last.End) {
				last.End = p.End
			}
			continue
		}
		merged = append(merged, p)
	}
	return merged
}

func clampPeriods(periods []AwayPeriod, start, end time.Time) []AwayPeriod {
	var out []AwayPeriod
	for _, p := range periods {
		if p.Start.Before(start) {
			p.Start = start
		}
		if p.End.After(end) {
			p.End = end
		}
		if p.End.After(p.Start) {
			out = append(out, p)
		}
	}
	return out
}

func heartbeatCounts(events []models.TimelineEvent) (active, idle, total int) {
	for _, ev := range events {
		if ev.Source != models.SourceHeartbeat {
			continue
		}
		switch ev.Kind {
		case models.EventActive:
			active++
			total++
		case models.EventIdle:
			idle++
			total++
		}
	}
	return active, idle, total
}

// videoOnMinutes sums the time between each VIDEO_ON and the next
// VIDEO_OFF (or session end), clamped to [0, total].
func videoOnMinutes(events []models.TimelineEvent, sessionEnd time.Time, totalMin float64) float64 {
	var sum float64
	var onAt *time.Time
	for _, ev := range events {
		switch ev.Kind {
		case models.EventVideoOn:
			if onAt == nil {
				t := ev.T
				onAt = &t
			}
		case models.EventVideoOff:
			if onAt != nil {
				sum += ev.T.Sub(*onAt).Minutes()
				onAt = nil
			}
		}
	}
	if onAt != nil && sessionEnd.After(*onAt) {
		sum += sessionEnd.Sub(*onAt).Minutes()
	}
	if sum < 0 {
		sum = 0
	}
	if sum > totalMin {
		sum = totalMin
	}
	return sum
}
