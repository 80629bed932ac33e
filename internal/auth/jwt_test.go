package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/learnlens/backend/internal/models"
)

func TestJWTRoundTripCarriesIdentity(t *testing.T) {
	svc := NewJWTService("secret", 2)
	issued := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, err := svc.Generate(models.User{ID: "u1", Email: "a@b.c", DisplayName: "Ada", Role: models.RoleInstructor})
	if err != nil {
		t.Fatal(err)
	}

	// Validation uses the wall clock; the token was issued in the past.
	svc.now = time.Now
	_, err = svc.ValidateIdentity(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	svc = NewJWTService("secret", 2)
	token, err = svc.Generate(models.User{ID: "u1", Email: "a@b.c", DisplayName: "Ada", Role: models.RoleInstructor})
	if err != nil {
		t.Fatal(err)
	}
	id, err := svc.ValidateIdentity(token)
	if err != nil {
		t.Fatal(err)
	}
	if id.ID != "u1" || id.Role != models.RoleInstructor || id.DisplayName != "Ada" {
		t.Fatalf("identity = %+v", id)
	}
	if d := time.Until(id.ExpiresAt); d < time.Hour || d > 2*time.Hour {
		t.Fatalf("expiry in %s, want about 2h", d)
	}
}

func TestJWTRejectsForeignTokens(t *testing.T) {
	mine := NewJWTService("secret", 1)
	theirs := NewJWTService("other", 1)
	token, err := theirs.Generate(models.User{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, tok := range []string{token, "", "not-a-jwt"} {
		if _, err := mine.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Validate(%q) = %v, want ErrInvalidToken", tok, err)
		}
	}
}
