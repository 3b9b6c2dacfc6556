package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testRouter(ti *TokenIssuer, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", ti.RequireRole(role), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": subjectOf(c), "role": roleOf(c)})
	})
	return r
}

func TestTokenIssuer_MintValidateRoundTrip(t *testing.T) {
	ti := NewTokenIssuer("unit-test-signing-key")

	token, err := ti.Mint("participant-1", "jordan.avery@example.com", RoleTokenParticipant, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, err := ti.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "participant-1" {
		t.Errorf("subject = %q, want participant-1", claims.Subject)
	}
	if claims.Role != RoleTokenParticipant {
		t.Errorf("role = %q, want participant", claims.Role)
	}

	// A token signed with a different key must fail.
	other := NewTokenIssuer("different-key")
	if _, err := other.Validate(token); err == nil {
		t.Errorf("token validated under the wrong signing key")
	}
}

func TestTokenIssuer_ExpiredToken(t *testing.T) {
	ti := NewTokenIssuer("unit-test-signing-key")
	token, err := ti.Mint("participant-1", "x@example.com", RoleTokenParticipant, -time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := ti.Validate(token); err == nil {
		t.Errorf("expired token validated")
	}
}

func TestRequireRole(t *testing.T) {
	ti := NewTokenIssuer("unit-test-signing-key")
	participantToken, _ := ti.Mint("p1", "p@example.com", RoleTokenParticipant, time.Hour)
	officerToken, _ := ti.Mint("o1", "o@countyprobation.gov", RoleTokenOfficer, time.Hour)

	tests := []struct {
		name       string
		guardRole  string
		authHeader string
		wantStatus int
	}{
		{"missing header", RoleTokenParticipant, "", http.StatusUnauthorized},
		{"malformed header", RoleTokenParticipant, "Token abc", http.StatusUnauthorized},
		{"garbage token", RoleTokenParticipant, "Bearer not.a.jwt", http.StatusUnauthorized},
		{"wrong role", RoleTokenOfficer, "Bearer " + participantToken, http.StatusForbidden},
		{"right role", RoleTokenParticipant, "Bearer " + participantToken, http.StatusOK},
		{"any role admitted when unscoped", "", "Bearer " + officerToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRouter(ti, tt.guardRole)
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRateLimiter_Basics(t *testing.T) {
	rl := NewRateLimiter(60, 2)

	// Burst capacity admits the first two, rejects the third.
	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatalf("first request rejected")
	}
	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatalf("second request rejected within burst")
	}
	ok, retryAfter := rl.allow("10.0.0.1")
	if ok {
		t.Errorf("third immediate request admitted past burst")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %v, want positive", retryAfter)
	}

	// A different IP has its own bucket.
	if ok, _ := rl.allow("10.0.0.2"); !ok {
		t.Errorf("fresh IP rejected")
	}
}
