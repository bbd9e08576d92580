package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/af-corp/clinai/internal/types"
	"github.com/golang-jwt/jwt/v5"
)

func TestNewSessionVerifier_ShortSecret(t *testing.T) {
	if _, err := NewSessionVerifier("short", ""); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestSessionVerifier_RoundTrip(t *testing.T) {
	v, _ := NewSessionVerifier(testSecret, "hospital-app")
	token, err := v.Issue("nurse-1", "er", RoleNurse, types.SensitivityClinical, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	info, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if info.StaffID != "nurse-1" || info.DepartmentID != "er" || info.Role != RoleNurse {
		t.Errorf("unexpected info %+v", info)
	}
	if info.MaxSensitivity != types.SensitivityClinical {
		t.Errorf("expected CLINICAL ceiling, got %s", info.MaxSensitivity)
	}
}

func TestSessionVerifier_Rejects(t *testing.T) {
	v, _ := NewSessionVerifier(testSecret, "hospital-app")
	other, _ := NewSessionVerifier(strings.Repeat("x", 32), "hospital-app")
	wrongIssuer, _ := NewSessionVerifier(testSecret, "someone-else")

	expired, _ := v.Issue("a", "er", RoleNurse, types.SensitivityPublic, -time.Minute)
	foreign, _ := other.Issue("a", "er", RoleNurse, types.SensitivityPublic, time.Hour)
	badRole, _ := v.Issue("a", "er", "janitor", types.SensitivityPublic, time.Hour)
	noDept, _ := v.Issue("a", "", RoleNurse, types.SensitivityPublic, time.Hour)
	issuerMismatch, _ := wrongIssuer.Issue("a", "er", RoleNurse, types.SensitivityPublic, time.Hour)

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &SessionClaims{
		StaffID:      "a",
		DepartmentID: "er",
		Role:         RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &SessionClaims{
		StaffID:      "a",
		DepartmentID: "er",
		Role:         RoleNurse,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "hospital-app",
		},
	}).SignedString([]byte(testSecret))

	tests := map[string]string{
		"expired":        expired,
		"wrong secret":   foreign,
		"unknown role":   badRole,
		"missing dept":   noDept,
		"wrong issuer":   issuerMismatch,
		"alg none":       unsigned,
		"missing expiry": noExpiry,
		"not a jwt":      "abc.def",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(token); err == nil {
				t.Error("expected verification failure")
			}
		})
	}
}

func TestSessionVerifier_UnknownSensitivityFallsBack(t *testing.T) {
	v, _ := NewSessionVerifier(testSecret, "")
	token, _ := v.Issue("a", "er", RoleStaff, types.Sensitivity("TOP_SECRET"), time.Hour)
	info, err := v.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if info.MaxSensitivity != types.SensitivityPublic {
		t.Errorf("expected PUBLIC fallback, got %s", info.MaxSensitivity)
	}
}
