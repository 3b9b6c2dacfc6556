package finalize

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proofmeet/courtcard-engine/internal/card"
	"github.com/proofmeet/courtcard-engine/internal/config"
	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/internal/notify"
	"github.com/proofmeet/courtcard-engine/internal/reconcile"
	"github.com/proofmeet/courtcard-engine/internal/validate"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Finalization Scheduler
//
// Periodic driver that pushes stalled sessions to a terminal state and
// re-enters the pipeline for COMPLETED sessions that never got a card.
// Exactly one finalizer runs per deployment: ticks race for a
// store-backed advisory lock, and within a tick each session is worked
// under its own advisory lock with a hard per-session budget.
// ──────────────────────────────────────────────────────────────────

const (
	// leaderLockKey is the fixed advisory-lock key electing the single
	// process-wide finalizer.
	leaderLockKey = int64(0x434F555254) // "COURT"

	issuanceBatchSize = 100
	sessionBudget     = 30 * time.Second
	maxIssueAttempts  = 3
)

// Progress mirrors the scheduler's counters for the dashboard.
type Progress struct {
	IsRunning      bool  `json:"isRunning"`
	TicksCompleted int64 `json:"ticksCompleted"`
	SessionsClosed int64 `json:"sessionsClosed"`
	CardsIssued    int64 `json:"cardsIssued"`
	IssueFailures  int64 `json:"issueFailures"`
}

// Scheduler drives the stale, issuance and digest sweeps.
type Scheduler struct {
	store      *db.Store
	issuer     *card.Issuer
	dispatcher *notify.Dispatcher
	cfg        config.Config
	digestLoc  *time.Location
	now        func() time.Time

	// Progress tracking (atomic for safe concurrent reads)
	isRunning      atomic.Bool
	ticksCompleted atomic.Int64
	sessionsClosed atomic.Int64
	cardsIssued    atomic.Int64
	issueFailures  atomic.Int64
}

func NewScheduler(store *db.Store, issuer *card.Issuer, dispatcher *notify.Dispatcher, cfg config.Config) *Scheduler {
	loc, err := time.LoadLocation(cfg.DigestTimezone)
	if err != nil {
		log.Printf("[Finalizer] Invalid DIGEST_TIMEZONE %q, using UTC", cfg.DigestTimezone)
		loc = time.UTC
	}
	return &Scheduler{
		store:      store,
		issuer:     issuer,
		dispatcher: dispatcher,
		cfg:        cfg,
		digestLoc:  loc,
		now:        time.Now,
	}
}

// GetProgress returns the scheduler's counters (thread-safe).
func (s *Scheduler) GetProgress() Progress {
	return Progress{
		IsRunning:      s.isRunning.Load(),
		TicksCompleted: s.ticksCompleted.Load(),
		SessionsClosed: s.sessionsClosed.Load(),
		CardsIssued:    s.cardsIssued.Load(),
		IssueFailures:  s.issueFailures.Load(),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("[Finalizer] Starting finalization scheduler (tick %ds)", s.cfg.FinalizerTickSec)

	ticker := time.NewTicker(time.Duration(s.cfg.FinalizerTickSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Finalizer] Stopping finalization scheduler...")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full sweep if this process wins the leader lock.
func (s *Scheduler) Tick(ctx context.Context) {
	conn, err := s.store.Pool().Acquire(ctx)
	if err != nil {
		log.Printf("[Finalizer] Failed to acquire connection for leader lock: %v", err)
		return
	}
	defer conn.Release()

	var isLeader bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, leaderLockKey).Scan(&isLeader); err != nil {
		log.Printf("[Finalizer] Leader lock query failed: %v", err)
		return
	}
	if !isLeader {
		return // another finalizer holds the tick
	}
	defer func() {
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, leaderLockKey); err != nil {
			log.Printf("[Finalizer] Leader unlock failed: %v", err)
		}
	}()

	s.isRunning.Store(true)
	defer s.isRunning.Store(false)

	s.sweepStale(ctx)
	s.sweepIssuance(ctx)
	s.flushDigests(ctx)

	s.ticksCompleted.Add(1)
}

// sweepStale closes IN_PROGRESS sessions whose evidence went quiet past
// the grace window: a synthetic LEFT is appended at the last event time
// and the session transitions to COMPLETED.
func (s *Scheduler) sweepStale(ctx context.Context) {
	stale, err := s.store.StaleSessions(ctx, s.now().UTC(), s.cfg.SessionIdleGraceMin)
	if err != nil {
		log.Printf("[Finalizer] Stale sweep query failed: %v", err)
		return
	}

	for i := range stale {
		sess := &stale[i]
		leaveAt := sess.LastEventAt
		if leaveAt.Before(sess.JoinTime) {
			// No evidence beyond the join: assume the scheduled length.
			if meeting, err := s.store.GetExternalMeeting(ctx, sess.ExternalMeetingID); err == nil {
				leaveAt = sess.JoinTime.Add(time.Duration(meeting.ScheduledDurationMin) * time.Minute)
			} else {
				leaveAt = sess.JoinTime
			}
		}

		ev := &models.TimelineEvent{
			T:      leaveAt,
			Kind:   models.EventLeft,
			Source: models.SourceAPI,
			Data:   map[string]interface{}{"synthetic": true, "reason": "stale_finalized"},
		}
		if _, err := s.store.AppendEvent(ctx, sess.ID, ev); err != nil {
			log.Printf("[Finalizer] Failed to append synthetic LEFT to session %s: %v", sess.ID, err)
			continue
		}

		err := s.store.UpdateDerivedRetry(ctx, sess.ID, func(cur *models.Session) db.DerivedFields {
			leave := leaveAt
			return db.DerivedFields{
				LeaveTime:          &leave,
				Status:             models.SessionCompleted,
				Totals:             cur.Totals,
				AttendancePct:      cur.AttendancePct,
				VerificationMethod: cur.VerificationMethod,
				IsValid:            cur.IsValid,
				CardIssued:         cur.CardIssued,
			}
		})
		if err != nil {
			log.Printf("[Finalizer] Failed to complete stale session %s: %v", sess.ID, err)
			continue
		}
		s.sessionsClosed.Add(1)
		log.Printf("[Finalizer] Closed stale session %s (synthetic LEFT at %s)",
			sess.ID, leaveAt.Format(time.RFC3339))
	}
}

// sweepIssuance runs Reconciler → Validator → Card Issuer for every
// COMPLETED session with no card, each under its own per-session lock
// and budget, in parallel.
func (s *Scheduler) sweepIssuance(ctx context.Context) {
	pending, err := s.store.SessionsAwaitingIssuance(ctx, issuanceBatchSize)
	if err != nil {
		log.Printf("[Finalizer] Issuance sweep query failed: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i := range pending {
		sess := pending[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.finalizeSession(ctx, &sess); err != nil {
				s.issueFailures.Add(1)
				log.Printf("[Finalizer] Session %s finalization failed: %v", sess.ID, err)
			}
		}()
	}
	wg.Wait()
}

// finalizeSession holds the per-session advisory lock for the whole
// reconcile/validate/issue pipeline, retrying transient store errors
// with exponential backoff inside the session budget.
func (s *Scheduler) finalizeSession(ctx context.Context, sess *models.Session) error {
	ctx, cancel := context.WithTimeout(ctx, sessionBudget)
	defer cancel()

	conn, err := s.store.Pool().Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	lockKey := sessionLockKey(sess.ID)
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockKey).Scan(&locked); err != nil {
		return fmt.Errorf("session lock query: %w", err)
	}
	if !locked {
		return nil // another worker owns this session right now
	}
	defer func() { _, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockKey) }()

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		lastErr = s.issueOnce(ctx, sess.ID)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func (s *Scheduler) issueOnce(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.CardIssued || sess.Status != models.SessionCompleted {
		return nil // raced with another tick; nothing to do
	}

	meeting, err := s.store.GetExternalMeeting(ctx, sess.ExternalMeetingID)
	if err != nil {
		return fmt.Errorf("load meeting: %w", err)
	}

	events, err := s.store.ReadTimeline(ctx, sessionID)
	if err != nil {
		return err
	}

	rec := reconcile.Reconcile(events, meeting.ScheduledDurationMin, s.cfg.HeartbeatPeriodSec)

	engagement, hasEngagement := sess.EngagementScore()
	outcome := validate.ValidateWithShadow(validate.Input{
		Reconciled:           rec,
		ScheduledStart:       meeting.ScheduledStart,
		ScheduledDurationMin: meeting.ScheduledDurationMin,
		EngagementScore:      engagement,
		HasEngagementScore:   hasEngagement,
		GraceWindowMin:       s.cfg.GraceWindowMin,
		WindowRule:           s.cfg.AttendanceWindowRule,
	}, sessionID)

	err = s.store.UpdateDerivedRetry(ctx, sessionID, func(cur *models.Session) db.DerivedFields {
		leave := rec.LeaveTime
		return db.DerivedFields{
			LeaveTime:          &leave,
			Status:             models.SessionCompleted,
			Totals:             rec.Totals,
			AttendancePct:      rec.AttendancePct,
			VerificationMethod: rec.VerificationMethod,
			IsValid:            outcome.Verdict == models.VerdictPassed,
			CardIssued:         cur.CardIssued,
		}
	})
	if err != nil {
		return fmt.Errorf("persist derived fields: %w", err)
	}

	sess, err = s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	issued, err := s.issuer.Issue(ctx, sess, rec, outcome)
	if err != nil {
		return err
	}
	s.cardsIssued.Add(1)

	date := notify.DigestDateFor(issued.GeneratedAt, s.cfg.DigestCutoffLocalTime, s.digestLoc)
	if err := s.store.EnqueueDigest(ctx, sess.OfficerID, date, []string{sess.ID}); err != nil {
		// Digests are retried next tick; never fail issuance over them.
		log.Printf("[Finalizer] Digest enqueue failed for session %s: %v", sess.ID, err)
	}
	return nil
}

// flushDigests sends every digest period whose cutoff has passed.
func (s *Scheduler) flushDigests(ctx context.Context) {
	current := notify.DigestDateFor(s.now(), s.cfg.DigestCutoffLocalTime, s.digestLoc)
	if err := s.dispatcher.FlushDigests(ctx, current); err != nil {
		log.Printf("[Finalizer] Digest flush failed: %v", err)
	}
}

// sessionLockKey derives a stable 64-bit advisory-lock key from a
// session id.
func sessionLockKey(sessionID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sessionID))
	return int64(h.Sum64())
}
