package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// ──────────────────────────────────────────────────────────────────
// Engine configuration
//
// All settings come from environment variables. Secrets (database URL,
// webhook shared secret, JWT signing key) have no defaults and the
// binary refuses to start without them. Tunables carry the documented
// defaults. Use a .env file for local development.
// ──────────────────────────────────────────────────────────────────

// WindowRule selects the attendance-window rule variant applied by the
// validator. The alternate variant always runs in shadow mode.
type WindowRule string

const (
	// WindowRuleMax fails when max(lateness, earlyLeave) exceeds the grace.
	WindowRuleMax WindowRule = "max"
	// WindowRuleCumulative fails when lateness + earlyLeave exceeds the grace.
	WindowRuleCumulative WindowRule = "cumulative"
)

type Config struct {
	DatabaseURL string
	Port        string

	PublicBaseURL    string
	WebhookSecret    string
	JWTSigningKey    string
	AuthVerifyURL    string // external credential-verification endpoint for PASSWORD signing
	AllowedOrigins   string
	ApprovedDomains  []string // approved officer email domains

	GraceWindowMin        int
	AttendanceWindowRule  WindowRule
	HeartbeatPeriodSec    int
	FinalizerTickSec      int
	SessionIdleGraceMin   int
	CardHashAlgo          string
	DigestCutoffLocalTime string // "HH:MM"
	DigestTimezone        string // IANA zone the cutoff is evaluated in
	BypassEmailVerify     bool
	SignatureLinkMaxDays  int

	// Hex-encoded Ed25519 seeds for the per-role card signing keys.
	// When unset, ephemeral keys are generated at startup (dev mode).
	ParticipantSigningSeed string
	HostSigningSeed        string
	SystemSigningSeed      string
}

// Load reads the full configuration from the environment. Missing
// secrets are fatal; missing tunables fall back to documented defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL: requireEnv("DATABASE_URL"),
		Port:        getEnvOrDefault("PORT", "5440"),

		PublicBaseURL:  getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:5440"),
		WebhookSecret:  requireEnv("WEBHOOK_SECRET"),
		JWTSigningKey:  requireEnv("JWT_SIGNING_KEY"),
		AuthVerifyURL:  os.Getenv("AUTH_VERIFY_URL"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),

		GraceWindowMin:        getEnvInt("GRACE_WINDOW_MIN", 10),
		HeartbeatPeriodSec:    getEnvInt("HEARTBEAT_PERIOD_SEC", 30),
		FinalizerTickSec:      getEnvInt("FINALIZER_TICK_SEC", 120),
		SessionIdleGraceMin:   getEnvInt("SESSION_IDLE_GRACE_MIN", 15),
		CardHashAlgo:          getEnvOrDefault("CARD_HASH_ALGO", "sha256"),
		DigestCutoffLocalTime: getEnvOrDefault("DIGEST_CUTOFF_LOCAL_TIME", "17:00"),
		DigestTimezone:        getEnvOrDefault("DIGEST_TIMEZONE", "UTC"),
		BypassEmailVerify:     os.Getenv("BYPASS_EMAIL_VERIFICATION") == "true",
		SignatureLinkMaxDays:  getEnvInt("SIGNATURE_MAX_EMAIL_LINK_DAYS", 7),

		ParticipantSigningSeed: os.Getenv("PARTICIPANT_SIGNING_KEY"),
		HostSigningSeed:        os.Getenv("HOST_SIGNING_KEY"),
		SystemSigningSeed:      os.Getenv("SYSTEM_SIGNING_KEY"),
	}

	for _, d := range strings.Split(os.Getenv("APPROVED_OFFICER_DOMAINS"), ",") {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			cfg.ApprovedDomains = append(cfg.ApprovedDomains, d)
		}
	}

	switch rule := WindowRule(getEnvOrDefault("ATTENDANCE_WINDOW_RULE", "max")); rule {
	case WindowRuleMax, WindowRuleCumulative:
		cfg.AttendanceWindowRule = rule
	default:
		log.Printf("[Config] Unknown ATTENDANCE_WINDOW_RULE %q, falling back to %q", rule, WindowRuleMax)
		cfg.AttendanceWindowRule = WindowRuleMax
	}

	if cfg.CardHashAlgo != "sha256" {
		log.Fatalf("FATAL: CARD_HASH_ALGO %q is not supported (only sha256)", cfg.CardHashAlgo)
	}

	return cfg
}

// IsApprovedOfficerDomain checks an officer email against the configured
// organizational domain set. An empty set rejects everything.
func (c Config) IsApprovedOfficerDomain(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range c.ApprovedDomains {
		if domain == d {
			return true
		}
	}
	return false
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		log.Printf("[Config] Invalid %s=%q, using default %d", key, val, fallback)
		return fallback
	}
	return n
}
