package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT claims issued to dashboard operators.
type Claims struct {
	OrganizationID string `json:"org_id"`
	BranchID       string `json:"branch_id"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

// Tenant returns the tenant carried by the claims.
func (c *Claims) Tenant() Tenant {
	return Tenant{OrganizationID: c.OrganizationID, BranchID: c.BranchID}
}

// ParseJWT validates a JWT and returns claims.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if err := claims.Tenant().Validate(); err != nil {
		return nil, err
	}
	if _, ok := NormalizeRole(claims.Role); !ok {
		return nil, errors.New("auth: invalid role")
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, errors.New("auth: token expired")
	}
	return claims, nil
}

// IssueToken signs an HS256 token for the tenant and role.
func IssueToken(secret []byte, tenant Tenant, role Role, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: empty secret")
	}
	if err := tenant.Validate(); err != nil {
		return "", err
	}
	if _, ok := NormalizeRole(string(role)); !ok {
		return "", fmt.Errorf("auth: invalid role %q", role)
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		OrganizationID: tenant.OrganizationID,
		BranchID:       tenant.BranchID,
		Role:           string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
