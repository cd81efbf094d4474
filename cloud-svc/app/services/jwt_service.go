package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
)

const adminTokenIssuer = "tis-sync-api"

// JWTService issues and checks the tenant scoped admin tokens
type JWTService struct {
	key   []byte
	ttl   time.Duration
	clock clock.Clock
}

// NewJWTService creates a JWT service. Tokens live for ttlSec seconds
// measured on clk.
func NewJWTService(secret string, ttlSec int64, clk clock.Clock) *JWTService {
	if clk == nil {
		clk = clock.WallClock
	}
	return &JWTService{key: []byte(secret), ttl: time.Duration(ttlSec) * time.Second, clock: clk}
}

// Claims carries the tenant every admin call is scoped to
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for subject acting on tenantID
func (j *JWTService) GenerateToken(tenantID, subject string) (string, error) {
	issued := j.clock.Now()
	claims := Claims{TenantID: tenantID}
	claims.Subject = subject
	claims.Issuer = adminTokenIssuer
	claims.IssuedAt = jwt.NewNumericDate(issued)
	claims.ExpiresAt = jwt.NewNumericDate(issued.Add(j.ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses raw and returns its claims when the signature,
// issuer and expiry all check out
func (j *JWTService) ValidateToken(raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (interface{}, error) { return j.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(adminTokenIssuer),
		jwt.WithTimeFunc(j.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("admin token rejected: %w", err)
	}
	if claims.TenantID == "" {
		return nil, errors.New("admin token has no tenant_id claim")
	}
	return &claims, nil
}
