package auth

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// resetSessionKey lets a test load the session key again
func resetSessionKey() {
	sessionKey.once = sync.Once{}
	sessionKey.key = nil
	sessionKey.err = nil
}

const testSecret = "test-jwt-secret-that-is-32-chars-!"

func TestMain(m *testing.M) {
	os.Setenv(SessionSecretEnv, testSecret)
	os.Exit(m.Run())
}

func TestLoadSessionKey(t *testing.T) {
	t.Run("secret from env", func(t *testing.T) {
		resetSessionKey()
		t.Setenv(SessionSecretEnv, "exactly-32-char-secret-for-test!!")
		if err := LoadSessionKey(true); err != nil {
			t.Fatalf("LoadSessionKey() unexpected error: %v", err)
		}
		if string(sessionKey.key) != "exactly-32-char-secret-for-test!!" {
			t.Errorf("key = %q", sessionKey.key)
		}
	})

	t.Run("production requires secret", func(t *testing.T) {
		resetSessionKey()
		t.Setenv(SessionSecretEnv, "")
		err := LoadSessionKey(true)
		if err == nil || !strings.Contains(err.Error(), SessionSecretEnv) {
			t.Errorf("LoadSessionKey(true) = %v, want error naming %s", err, SessionSecretEnv)
		}
		if _, err := IssueSessionToken("uid", "tid", "", time.Hour); err == nil {
			t.Error("IssueSessionToken() expected error without a key")
		}
	})

	t.Run("development generates random key", func(t *testing.T) {
		resetSessionKey()
		t.Setenv(SessionSecretEnv, "")
		if err := LoadSessionKey(false); err != nil {
			t.Fatalf("LoadSessionKey(false) unexpected error: %v", err)
		}
		if len(sessionKey.key) != 32 {
			t.Errorf("generated key length = %d, want 32", len(sessionKey.key))
		}
		token, err := IssueSessionToken("uid", "tid", "", time.Hour)
		if err != nil {
			t.Fatalf("IssueSessionToken() error: %v", err)
		}
		if _, err := ParseSessionToken(token); err != nil {
			t.Errorf("ParseSessionToken() error: %v", err)
		}
	})

	t.Run("first load wins", func(t *testing.T) {
		resetSessionKey()
		t.Setenv(SessionSecretEnv, "")
		_ = LoadSessionKey(false)
		if err := LoadSessionKey(true); err != nil {
			t.Errorf("second LoadSessionKey() = %v, want the first result", err)
		}
	})

	resetSessionKey()
}

func TestIssueAndParseSessionToken(t *testing.T) {
	resetSessionKey()

	t.Run("round trip", func(t *testing.T) {
		token, err := IssueSessionToken("user-123", "tenant-9", "test@example.com", time.Hour)
		if err != nil {
			t.Fatalf("IssueSessionToken() error: %v", err)
		}

		claims, err := ParseSessionToken(token)
		if err != nil {
			t.Fatalf("ParseSessionToken() error: %v", err)
		}
		if claims.UserID != "user-123" || claims.Subject != "user-123" {
			t.Errorf("user = %q / sub %q, want user-123", claims.UserID, claims.Subject)
		}
		if claims.TenantID != "tenant-9" {
			t.Errorf("claims.TenantID = %q, want %q", claims.TenantID, "tenant-9")
		}
		if claims.Email != "test@example.com" {
			t.Errorf("claims.Email = %q", claims.Email)
		}
		if claims.Issuer != DefaultIssuer {
			t.Errorf("claims.Issuer = %q, want %q", claims.Issuer, DefaultIssuer)
		}
	})

	t.Run("zero ttl means one hour", func(t *testing.T) {
		token, err := IssueSessionToken("uid", "tid", "", 0)
		if err != nil {
			t.Fatalf("IssueSessionToken() error: %v", err)
		}
		claims, err := ParseSessionToken(token)
		if err != nil {
			t.Fatalf("ParseSessionToken() error: %v", err)
		}
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < 50*time.Minute || remaining > 70*time.Minute {
			t.Errorf("remaining = %v, want ~1h", remaining)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token, err := IssueSessionToken("uid", "tid", "", -time.Second)
		if err != nil {
			t.Fatalf("IssueSessionToken() error: %v", err)
		}
		if _, err := ParseSessionToken(token); err == nil {
			t.Error("ParseSessionToken() expected error for expired token")
		}
	})

	t.Run("token without expiry is rejected", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &SessionClaims{UserID: "uid", TenantID: "tid"}).
			SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("SignedString() error: %v", err)
		}
		if _, err := ParseSessionToken(token); err == nil {
			t.Error("ParseSessionToken() expected error for token without exp")
		}
	})

	t.Run("other signing method is rejected", func(t *testing.T) {
		claims := &SessionClaims{UserID: "uid", RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("SignedString() error: %v", err)
		}
		if _, err := ParseSessionToken(token); err == nil {
			t.Error("ParseSessionToken() expected error for HS512 token")
		}
	})

	t.Run("garbage token string", func(t *testing.T) {
		if _, err := ParseSessionToken("not.a.valid.token"); err == nil {
			t.Error("ParseSessionToken() expected error for garbage token")
		}
	})

	t.Run("token signed with different secret is rejected", func(t *testing.T) {
		token, err := IssueSessionToken("uid", "tid", "", time.Hour)
		if err != nil {
			t.Fatalf("IssueSessionToken() error: %v", err)
		}

		resetSessionKey()
		t.Setenv(SessionSecretEnv, "completely-different-secret-32ch!")

		if _, err := ParseSessionToken(token); err == nil {
			t.Error("ParseSessionToken() expected error for token signed with different secret")
		}

		resetSessionKey()
	})
}

func TestPeekIssuer(t *testing.T) {
	resetSessionKey()

	token, err := IssueSessionToken("uid", "tid", "", time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken() error: %v", err)
	}
	iss, err := PeekIssuer(token)
	if err != nil {
		t.Fatalf("PeekIssuer() error: %v", err)
	}
	if iss != DefaultIssuer {
		t.Errorf("PeekIssuer() = %q, want %q", iss, DefaultIssuer)
	}

	if _, err := PeekIssuer("garbage"); err == nil {
		t.Error("PeekIssuer(garbage) expected error")
	}
}
