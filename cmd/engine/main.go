package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/proofmeet/courtcard-engine/internal/api"
	"github.com/proofmeet/courtcard-engine/internal/card"
	"github.com/proofmeet/courtcard-engine/internal/config"
	"github.com/proofmeet/courtcard-engine/internal/db"
	"github.com/proofmeet/courtcard-engine/internal/finalize"
	"github.com/proofmeet/courtcard-engine/internal/notify"
	"github.com/proofmeet/courtcard-engine/internal/timeline"
	"github.com/proofmeet/courtcard-engine/internal/verify"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

func main() {
	log.Println("Starting Court Card Attendance Engine...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: DB schema init failed: %v", err)
	}

	keyring, err := card.NewKeyring(cfg.ParticipantSigningSeed, cfg.HostSigningSeed, cfg.SystemSigningSeed)
	if err != nil {
		log.Fatalf("FATAL: Signing keyring init failed: %v", err)
	}

	// Setup WebSocket Hub for officer dashboards
	wsHub := api.NewHub()
	go wsHub.Run()

	// Notification dispatcher draining to the mail transport (log-backed
	// unless a real sink is wired into the deployment).
	dispatcher := notify.NewDispatcher(store, notify.LogSink{})
	dispatcher.Start(ctx)

	issuedHub := api.BroadcastCardIssued(wsHub)
	issuer := card.NewIssuer(store, cfg.PublicBaseURL, keyring.System, func(c *models.CourtCard) {
		dispatcher.NotifyCardIssued(c)
		issuedHub(c)
	})

	collector := card.NewCollector(store, keyring, api.NewCredentialVerifier(cfg.AuthVerifyURL),
		time.Duration(cfg.SignatureLinkMaxDays)*24*time.Hour, api.BroadcastFullySigned(wsHub))

	normalizer := timeline.NewNormalizer(store, getEnvOrDefault("PROVIDER_NAME", "zoomish"))
	verifier := verify.New(store)

	// Finalization scheduler: single leader per deployment via the
	// store-backed lock; safe to run in every replica.
	scheduler := finalize.NewScheduler(store, issuer, dispatcher, cfg)
	go scheduler.Run(ctx)

	bootstrapOfficer(ctx, store, cfg)

	// Setup the Gin Router
	r := api.SetupRouter(api.Deps{
		Store:      store,
		Cfg:        cfg,
		Normalizer: normalizer,
		Issuer:     issuer,
		Collector:  collector,
		Verifier:   verifier,
		Scheduler:  scheduler,
		WSHub:      wsHub,
		Tokens:     api.NewTokenIssuer(cfg.JWTSigningKey),
	})

	// Start the server
	log.Printf("Engine running on :%s (window rule: %s)", cfg.Port, cfg.AttendanceWindowRule)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// bootstrapOfficer seeds the first supervising officer from the
// environment so a fresh deployment has an authenticated entry point.
// Idempotent: an existing email is left untouched.
func bootstrapOfficer(ctx context.Context, store *db.Store, cfg config.Config) {
	email := os.Getenv("BOOTSTRAP_OFFICER_EMAIL")
	if email == "" {
		return
	}
	if !cfg.IsApprovedOfficerDomain(email) {
		log.Printf("Warning: BOOTSTRAP_OFFICER_EMAIL %s is not in an approved officer domain; skipping", email)
		return
	}
	officer := &models.Officer{
		Email:        email,
		Name:         getEnvOrDefault("BOOTSTRAP_OFFICER_NAME", "Supervising Officer"),
		Badge:        os.Getenv("BOOTSTRAP_OFFICER_BADGE"),
		Organization: os.Getenv("BOOTSTRAP_OFFICER_ORG"),
	}
	err := store.CreateOfficer(ctx, officer)
	switch err {
	case nil:
		log.Printf("Bootstrapped supervising officer %s (%s)", officer.Email, officer.ID)
	case db.ErrConflict:
		// Already provisioned.
	default:
		log.Printf("Warning: officer bootstrap failed: %v", err)
	}
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
