package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

func TestDigestDateFor(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name   string
		at     time.Time
		cutoff string
		want   string
	}{
		{"after cutoff belongs to today", time.Date(2025, 3, 10, 18, 0, 0, 0, loc), "17:00", "2025-03-10"},
		{"exactly at cutoff belongs to today", time.Date(2025, 3, 10, 17, 0, 0, 0, loc), "17:00", "2025-03-10"},
		{"before cutoff belongs to yesterday", time.Date(2025, 3, 10, 9, 0, 0, 0, loc), "17:00", "2025-03-09"},
		{"bad cutoff falls back to calendar date", time.Date(2025, 3, 10, 9, 0, 0, 0, loc), "bogus", "2025-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DigestDateFor(tt.at, tt.cutoff, loc); got != tt.want {
				t.Errorf("DigestDateFor = %s, want %s", got, tt.want)
			}
		})
	}
}

type captureSink struct {
	mails []Mail
}

func (c *captureSink) Enqueue(_ context.Context, m Mail) error {
	c.mails = append(c.mails, m)
	return nil
}

func TestNotifyCardIssued_MessageContents(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(nil, sink)

	card := &models.CourtCard{
		Number: "CC-2025-12345-001",
		Participant: models.ParticipantSnapshot{
			Email: "jordan.avery@example.com",
		},
		Meeting: models.MeetingSnapshot{Name: "Tuesday Night Recovery", Program: "AA", Date: "2025-03-10"},
		Metrics: models.CardMetrics{
			SessionTotals: models.SessionTotals{TotalDurationMin: 60},
			AttendancePct: 100,
		},
		Verdict:         models.VerdictPassed,
		VerificationURL: "https://cards.example.org/verify/abc",
	}

	d.NotifyCardIssued(card)

	// Drain synchronously: the queue is buffered, pull the one message.
	select {
	case m := <-d.queue:
		if m.To != "jordan.avery@example.com" {
			t.Errorf("to = %s", m.To)
		}
		for _, want := range []string{"CC-2025-12345-001", "PASSED", "60.0 minutes", "100.0%", "https://cards.example.org/verify/abc"} {
			if !strings.Contains(m.Subject+m.Body, want) {
				t.Errorf("confirmation missing %q:\n%s", want, m.Body)
			}
		}
	default:
		t.Fatalf("no confirmation enqueued")
	}
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(nil, LogSink{})
	for i := 0; i < queueCapacity; i++ {
		d.enqueue(Mail{To: "x@example.com"})
	}
	// The overflow message must not block.
	done := make(chan struct{})
	go func() {
		d.enqueue(Mail{To: "overflow@example.com"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on a full queue")
	}
}
