package auth

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

// resetJWTSecret resets the package-level sync.Once so tests can set a fresh secret.
func resetJWTSecret() {
	jwtSecret = ""
	jwtSecretOnce = sync.Once{}
	jwtSecretErr = nil
}

func TestMain(m *testing.M) {
	os.Setenv(SecretEnvVar, testSecret)
	os.Exit(m.Run())
}

func TestValidateJWTSecret(t *testing.T) {
	t.Run("valid secret from env", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv(SecretEnvVar, "exactly-32-char-secret-for-test!!")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error: %v", err)
		}
	})

	t.Run("production mode requires secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv(SecretEnvVar, "")
		t.Setenv("DEV_MODE", "")
		t.Setenv("GIN_MODE", "release")
		if err := ValidateJWTSecret(); err == nil {
			t.Error("ValidateJWTSecret() expected error without secret, got nil")
		}
	})

	t.Run("dev mode generates random secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv(SecretEnvVar, "")
		t.Setenv("DEV_MODE", "true")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error in dev mode: %v", err)
		}
		if GetJWTSecret() == "" {
			t.Error("GetJWTSecret() returned empty string after dev mode init")
		}
	})

	resetJWTSecret()
}

func TestGenerateAndValidateJWT(t *testing.T) {
	resetJWTSecret()
	t.Setenv(SecretEnvVar, testSecret)

	t.Run("round trip", func(t *testing.T) {
		token, err := GenerateJWT("user-123", "head@academy.test", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}

		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		if claims.UserID != "user-123" {
			t.Errorf("claims.UserID = %q, want user-123", claims.UserID)
		}
		if claims.Issuer != Issuer {
			t.Errorf("claims.Issuer = %q, want %q", claims.Issuer, Issuer)
		}
	})

	t.Run("subject used when user_id claim missing", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "user-sub",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := token.SignedString([]byte(testSecret))
		if err != nil {
			t.Fatal(err)
		}
		claims, err := ValidateJWT(signed)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		if claims.UserID != "user-sub" {
			t.Errorf("claims.UserID = %q, want user-sub", claims.UserID)
		}
	})

	t.Run("token without any user id is rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, _ := token.SignedString([]byte(testSecret))
		if _, err := ValidateJWT(signed); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateJWT() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("default expiry when zero duration", func(t *testing.T) {
		token, err := GenerateJWT("uid", "", 0)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < 50*time.Minute || remaining > 70*time.Minute {
			t.Errorf("default expiry remaining = %v, want ~1h", remaining)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token, err := GenerateJWT("uid", "", -time.Second)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		if _, err := ValidateJWT(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateJWT() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := ValidateJWT("not.a.valid.token"); err == nil {
			t.Error("ValidateJWT() expected error for garbage token, got nil")
		}
		if _, err := ValidateJWT(""); err == nil {
			t.Error("ValidateJWT() expected error for empty token, got nil")
		}
	})

	t.Run("non-HS256 algorithm is rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{
			UserID:           "uid",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		})
		signed, _ := token.SignedString([]byte(testSecret))
		if _, err := ValidateJWT(signed); err == nil {
			t.Error("ValidateJWT() expected error for HS512 token, got nil")
		}
	})

	t.Run("token signed with different secret is rejected", func(t *testing.T) {
		token, err := GenerateJWT("uid", "", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}

		resetJWTSecret()
		t.Setenv(SecretEnvVar, "completely-different-secret-32ch!")
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for foreign signature, got nil")
		}

		resetJWTSecret()
		t.Setenv(SecretEnvVar, testSecret)
	})
}
