package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/proofmeet/courtcard-engine/internal/card"
)

// ──────────────────────────────────────────────────────────────────
// Auth-subsystem client
//
// PARTICIPANT password signing is verified against the external auth
// subsystem, reached over HTTP. The engine never stores or hashes
// participant passwords itself.
// ──────────────────────────────────────────────────────────────────

// HTTPCredentialVerifier posts {email, password} to the configured
// verification endpoint and accepts on 2xx.
type HTTPCredentialVerifier struct {
	url    string
	client *http.Client
}

// NewCredentialVerifier builds the verifier, or nil when no endpoint is
// configured (password signing then fails closed).
func NewCredentialVerifier(url string) card.CredentialVerifier {
	if url == "" {
		log.Println("[SECURITY WARNING] AUTH_VERIFY_URL is not set. " +
			"Participant password signing will be rejected until it is configured.")
		return nil
	}
	return &HTTPCredentialVerifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *HTTPCredentialVerifier) VerifyPassword(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("marshal credential check: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build credential check: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("credential check transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("credential rejected (status %d)", resp.StatusCode)
	}
	return nil
}
