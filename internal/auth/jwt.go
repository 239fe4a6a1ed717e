// Package auth - jwt.go mints and verifies the service's own session tokens. A session
// token is an HS256 JWT naming the actor's user id and the tenant it acts within.
package auth

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultIssuer is the iss claim of session tokens minted by this service
	DefaultIssuer = "identity-tenant-management"

	// SessionSecretEnv names the variable holding the HMAC secret
	SessionSecretEnv = "ITM_JWT_SECRET"

	defaultSessionTTL = time.Hour
	minSecretLength   = 32
)

// sessionKey is loaded once per process
var sessionKey struct {
	once sync.Once
	key  []byte
	err  error
}

// SessionClaims are the claims of a session token
type SessionClaims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// LoadSessionKey reads the signing secret from ITM_JWT_SECRET. In production the
// variable is required; elsewhere a missing secret is replaced by a random key that
// lives as long as the process. Only the first call has any effect.
func LoadSessionKey(production bool) error {
	sessionKey.once.Do(func() {
		secret := os.Getenv(SessionSecretEnv)
		switch {
		case secret != "":
			if len(secret) < minSecretLength {
				slog.Warn("session secret is shorter than recommended", "env", SessionSecretEnv, "min_length", minSecretLength)
			}
			sessionKey.key = []byte(secret)
		case production:
			sessionKey.err = fmt.Errorf("%s is required in production (generate one with: openssl rand -hex 32)", SessionSecretEnv)
		default:
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				sessionKey.err = fmt.Errorf("failed to generate session key: %w", err)
				return
			}
			sessionKey.key = key
			slog.Warn("session secret not set, using a random key; session tokens will not survive a restart", "env", SessionSecretEnv)
		}
	})
	return sessionKey.err
}

// signingKey returns the loaded key. Without an earlier LoadSessionKey the secret must
// be present in the environment.
func signingKey() ([]byte, error) {
	if err := LoadSessionKey(true); err != nil {
		return nil, err
	}
	return sessionKey.key, nil
}

// IssueSessionToken mints a session token for userID acting within tenantID. A zero ttl
// means one hour.
func IssueSessionToken(userID, tenantID, email string, ttl time.Duration) (string, error) {
	key, err := signingKey()
	if err != nil {
		return "", err
	}
	if ttl == 0 {
		ttl = defaultSessionTTL
	}

	now := time.Now()
	claims := &SessionClaims{
		UserID:   userID,
		TenantID: tenantID,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ParseSessionToken verifies the signature and expiry of a session token
func ParseSessionToken(raw string) (*SessionClaims, error) {
	key, err := signingKey()
	if err != nil {
		return nil, err
	}

	claims := &SessionClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// PeekIssuer returns the iss claim of a token without verifying it, so identity sources
// can tell whose token they are looking at before choosing a verifier.
func PeekIssuer(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", err
	}
	return claims.Issuer, nil
}
