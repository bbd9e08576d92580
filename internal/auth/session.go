package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/af-corp/clinai/internal/types"
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are issued by the hospital application for signed-in staff.
type SessionClaims struct {
	StaffID        string `json:"staff_id"`
	DepartmentID   string `json:"department_id"`
	Role           string `json:"role"`
	MaxSensitivity string `json:"max_sensitivity"`
	jwt.RegisteredClaims
}

// SessionVerifier validates HS256 session tokens.
type SessionVerifier struct {
	secret []byte
	issuer string
}

func NewSessionVerifier(secret, issuer string) (*SessionVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	return &SessionVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses token and maps its claims onto an AuthInfo.
func (v *SessionVerifier) Verify(token string) (*AuthInfo, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid session token")
	}
	if claims.StaffID == "" || claims.DepartmentID == "" {
		return nil, errors.New("session token missing staff_id or department_id")
	}
	if !ValidRole(claims.Role) {
		return nil, fmt.Errorf("session token has unknown role %q", claims.Role)
	}

	return &AuthInfo{
		Method:         MethodSession,
		StaffID:        claims.StaffID,
		DepartmentID:   claims.DepartmentID,
		Role:           claims.Role,
		MaxSensitivity: parseSensitivityOrLowest(claims.MaxSensitivity),
	}, nil
}

// Issue signs a session token; used by tooling and tests.
func (v *SessionVerifier) Issue(staffID, departmentID, role string, maxSensitivity types.Sensitivity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		StaffID:        staffID,
		DepartmentID:   departmentID,
		Role:           role,
		MaxSensitivity: string(maxSensitivity),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   staffID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// parseSensitivityOrLowest falls back to PUBLIC for unknown labels.
func parseSensitivityOrLowest(s string) types.Sensitivity {
	if parsed, ok := types.ParseSensitivity(s); ok {
		return parsed
	}
	return types.SensitivityPublic
}
