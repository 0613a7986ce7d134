// Package auth issues and validates the session cookies that carry the
// externally-determined caller identity. The core store and pipeline never
// see tokens, only the identity string extracted here.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is the caller's capability level
type Role string

const (
	RoleTrainer Role = "trainer"
	RoleTrainee Role = "trainee"
)

// CookieName is the session cookie's name
const CookieName = "session"

// ErrNoSession is returned when a request carries no valid session
var ErrNoSession = errors.New("no valid session")

// Claims is the session token payload. Module holds the trainee's active
// module code, used when a scan request omits an explicit code.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Module   string `json:"module,omitempty"`
}

// Sessions issues and parses HS256-signed session tokens
type Sessions struct {
	secret []byte
	ttl    time.Duration
}

// NewSessions creates a session service with the given signing secret
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("session secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Sessions{secret: []byte(secret), ttl: ttl}, nil
}

// Issue creates a signed session token
func (s *Sessions) Issue(username string, role Role, module string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Username: username,
		Role:     role,
		Module:   module,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, nil
}

// Parse validates a session token and returns its claims
func (s *Sessions) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	return claims, nil
}

// FromRequest extracts and validates the session carried by r
func (s *Sessions) FromRequest(r *http.Request) (*Claims, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, ErrNoSession
	}

	claims, err := s.Parse(cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}

	return claims, nil
}

// SetCookie attaches a session token to the response
func (s *Sessions) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie
func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
