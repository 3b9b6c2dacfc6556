package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ──────────────────────────────────────────────────────────────────
// JWT Bearer Authentication
//
// Participant and officer routes require: Authorization: Bearer <jwt>
// signed with the shared JWT_SIGNING_KEY. Claims carry the subject id,
// the subject's email and a role; route groups then gate on the role.
// The public verifier and the provider webhook are excluded (the
// webhook authenticates via its own HMAC signature).
// ──────────────────────────────────────────────────────────────────

// Context keys set by the middleware.
const (
	ctxSubjectID = "subjectId"
	ctxEmail     = "email"
	ctxRole      = "role"
)

// Roles carried in the token.
const (
	RoleTokenParticipant = "participant"
	RoleTokenOfficer     = "officer"
)

// EngineClaims are the JWT claims the engine expects.
type EngineClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TokenIssuer mints and validates engine tokens.
type TokenIssuer struct {
	key []byte
}

func NewTokenIssuer(signingKey string) *TokenIssuer {
	if signingKey == "" {
		log.Println("[SECURITY WARNING] JWT_SIGNING_KEY is empty. " +
			"All authenticated endpoints will reject every request.")
	}
	return &TokenIssuer{key: []byte(signingKey)}
}

// Mint produces a signed token for a subject. Only the tests call it.
func (ti *TokenIssuer) Mint(subjectID, email, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := EngineClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Role:  role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
}

// Validate parses and checks a token string.
func (ti *TokenIssuer) Validate(tokenStr string) (*EngineClaims, error) {
	if len(ti.key) == 0 {
		return nil, errors.New("signing key not configured")
	}
	claims := &EngineClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ti.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RequireRole returns a middleware admitting only bearers of the given
// role. An empty role admits any valid token.
func (ti *TokenIssuer) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing Authorization header",
				"hint":  "Use: Authorization: Bearer <token>",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization header format"})
			c.Abort()
			return
		}

		claims, err := ti.Validate(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}
		if role != "" && claims.Role != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient role for this endpoint"})
			c.Abort()
			return
		}

		c.Set(ctxSubjectID, claims.Subject)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

func subjectOf(c *gin.Context) string { return c.GetString(ctxSubjectID) }
func roleOf(c *gin.Context) string    { return c.GetString(ctxRole) }
