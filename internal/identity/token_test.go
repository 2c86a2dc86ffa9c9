package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pushkar-hue/teleconsult/internal/domain"
)

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	claims["exp"] = time.Now().Add(time.Hour).Unix()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("whatever"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestClaimsOverrideFallbacks(t *testing.T) {
	token := mintToken(t, jwt.MapClaims{"sub": "u-42", "name": "Dr. Chen", "role": "doctor"})
	p := FromToken(token, "fallback-id", "fallback", domain.RolePatient)

	if p.UserID() != "u-42" {
		t.Errorf("user id = %s", p.UserID())
	}
	if p.UserName() != "Dr. Chen" {
		t.Errorf("name = %s", p.UserName())
	}
	if p.Role() != domain.RoleDoctor {
		t.Errorf("role = %s", p.Role())
	}
	if p.AccessToken() != token {
		t.Error("token not retained")
	}
}

func TestUserIDClaimFallback(t *testing.T) {
	token := mintToken(t, jwt.MapClaims{"user_id": "u-77"})
	p := FromToken(token, "", "Anon", domain.RolePatient)
	if p.UserID() != "u-77" {
		t.Errorf("user id = %s, want u-77", p.UserID())
	}
}

func TestEmptyAndGarbageTokensUseFallbacks(t *testing.T) {
	for _, token := range []string{"", "not-a-jwt"} {
		p := FromToken(token, "fb-id", "Fallback", domain.RoleDoctor)
		if p.UserID() != "fb-id" || p.UserName() != "Fallback" || p.Role() != domain.RoleDoctor {
			t.Errorf("token %q: provider = %s/%s/%s", token, p.UserID(), p.UserName(), p.Role())
		}
	}
}

func TestUnknownRoleClaimIgnored(t *testing.T) {
	token := mintToken(t, jwt.MapClaims{"sub": "u-1", "role": "superuser"})
	p := FromToken(token, "", "Anon", domain.RolePatient)
	if p.Role() != domain.RolePatient {
		t.Errorf("role = %s, want fallback patient", p.Role())
	}
}
