package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Notification Dispatcher
//
// Two channels: per-participant confirmations fired on card issuance,
// and per-officer daily digests flushed at the configured cutoff. Mail
// leaves through the Sink, an enqueue-and-forget boundary to whatever
// transport is deployed. Notification failures never block issuance;
// digest batches retry with bounded attempts and a SENT batch is never
// re-sent.
// ──────────────────────────────────────────────────────────────────

const (
	queueCapacity     = 256
	workerCount       = 4
	maxDigestAttempts = 5
)

// Mail is one outbound message handed to the transport.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Sink is the mail transport boundary.
type Sink interface {
	Enqueue(ctx context.Context, m Mail) error
}

// LogSink is the default transport: it logs instead of sending. Used
// in development and whenever no real transport is configured.
type LogSink struct{}

func (LogSink) Enqueue(_ context.Context, m Mail) error {
	log.Printf("[Mail] → %s | %s", m.To, m.Subject)
	return nil
}

// Dispatcher drains a bounded queue through a small worker pool.
type Dispatcher struct {
	store *db.Store
	sink  Sink

	queue chan Mail
	wg    sync.WaitGroup
}

func NewDispatcher(store *db.Store, sink Sink) *Dispatcher {
	if sink == nil {
		sink = LogSink{}
	}
	return &Dispatcher{
		store: store,
		sink:  sink,
		queue: make(chan Mail, queueCapacity),
	}
}

// Start launches the worker pool. Workers exit as soon as ctx is
// cancelled; mail still in the queue at that point is not delivered.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case m := <-d.queue:
					if err := d.sink.Enqueue(ctx, m); err != nil {
						log.Printf("[Dispatcher] Worker %d failed to enqueue mail to %s: %v", worker, m.To, err)
					}
				}
			}
		}(i)
	}
	log.Printf("[Dispatcher] Started %d notification workers", workerCount)
}

// Wait blocks until the workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// enqueue never blocks issuance: when the queue is full the message is
// dropped with a loud log line.
func (d *Dispatcher) enqueue(m Mail) {
	select {
	case d.queue <- m:
	default:
		log.Printf("[Dispatcher] Queue full — dropping notification to %s (%s)", m.To, m.Subject)
	}
}

// NotifyCardIssued sends the participant confirmation for a new card.
func (d *Dispatcher) NotifyCardIssued(card *models.CourtCard) {
	var b strings.Builder
	fmt.Fprintf(&b, "Your attendance record %s has been issued.\n\n", card.Number)
	fmt.Fprintf(&b, "Meeting: %s (%s) on %s\n", card.Meeting.Name, card.Meeting.Program, card.Meeting.Date)
	fmt.Fprintf(&b, "Result: %s\n", card.Verdict)
	fmt.Fprintf(&b, "Duration: %.1f minutes (%.1f%% of scheduled)\n",
		card.Metrics.TotalDurationMin, card.Metrics.AttendancePct)
	fmt.Fprintf(&b, "\nVerify this record at any time:\n%s\n", card.VerificationURL)

	d.enqueue(Mail{
		To:      card.Participant.Email,
		Subject: fmt.Sprintf("Court Card %s — %s", card.Number, card.Verdict),
		Body:    b.String(),
	})
}

// FlushDigests renders and sends every digest batch dated strictly
// before the given period date (YYYY-MM-DD) — i.e. every period whose
// cutoff has passed. A batch is marked SENT only after the transport
// accepts it; failures are marked FAILED and retried on a later flush,
// up to the attempt cap.
func (d *Dispatcher) FlushDigests(ctx context.Context, date string) error {
	batches, err := d.store.DigestsDue(ctx, date, maxDigestAttempts)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		if err := d.sendDigest(ctx, batch); err != nil {
			log.Printf("[Dispatcher] Digest %s (officer %s, %s) failed attempt %d: %v",
				batch.ID, batch.OfficerID, batch.Date, batch.Attempts+1, err)
			if markErr := d.store.MarkDigest(ctx, batch.ID, models.DigestFailed); markErr != nil {
				log.Printf("[Dispatcher] Failed to mark digest %s FAILED: %v", batch.ID, markErr)
			}
			continue
		}
		if err := d.store.MarkDigest(ctx, batch.ID, models.DigestSent); err != nil {
			log.Printf("[Dispatcher] Failed to mark digest %s SENT: %v", batch.ID, err)
		}
	}
	return nil
}

func (d *Dispatcher) sendDigest(ctx context.Context, batch models.DigestBatch) error {
	officer, err := d.store.GetOfficer(ctx, batch.OfficerID)
	if err != nil {
		return fmt.Errorf("load officer: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily attendance digest for %s\n\n", batch.Date)
	passed, failed := 0, 0
	for _, sessionID := range batch.SessionIDs {
		card, err := d.store.GetCardBySession(ctx, sessionID)
		if err != nil {
			if err == db.ErrNotFound {
				continue
			}
			return fmt.Errorf("load card for session %s: %w", sessionID, err)
		}
		if card.Verdict == models.VerdictPassed {
			passed++
		} else {
			failed++
		}
		fmt.Fprintf(&b, "• %s — %s — %s (%s, %.1f min, %.1f%%)\n",
			card.Number, card.Participant.Name, card.Verdict,
			card.Meeting.Name, card.Metrics.TotalDurationMin, card.Metrics.AttendancePct)
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed, %d total.\n", passed, failed, passed+failed)

	return d.sink.Enqueue(ctx, Mail{
		To:      officer.Email,
		Subject: fmt.Sprintf("Attendance digest %s — %d record(s)", batch.Date, passed+failed),
		Body:    b.String(),
	})
}

// DigestDateFor maps an instant to the digest date it belongs to in the
// cutoff's local zone: before the cutoff the instant still belongs to
// the previous day's digest.
func DigestDateFor(t time.Time, cutoffLocalTime string, loc *time.Location) string {
	local := t.In(loc)
	cutoff, err := time.Parse("15:04", cutoffLocalTime)
	if err != nil {
		return local.Format("2006-01-02")
	}
	boundary := time.Date(local.Year(), local.Month(), local.Day(), cutoff.Hour(), cutoff.Minute(), 0, 0, loc)
	if local.Before(boundary) {
		return local.AddDate(0, 0, -1).Format("2006-01-02")
	}
	return local.Format("2006-01-02")
}
