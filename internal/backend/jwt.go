package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"offpay/internal/domain"
)

// DefaultTokenTTL is the lifetime of device tokens.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Claims are the JWT claims of a device token.
type Claims struct {
	DeviceID domain.DeviceID `json:"device_id"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies HS256 device tokens.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService returns a JWTService; a non-positive ttl uses
// DefaultTokenTTL.
func NewJWTService(secret string, ttl time.Duration) (*JWTService, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// SignToken issues a token for device.
func (s *JWTService) SignToken(device domain.DeviceID) (string, error) {
	if device == "" {
		return "", errors.New("device id is required")
	}
	now := s.now()
	claims := &Claims{
		DeviceID: device,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(device),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and checks a token.
func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.DeviceID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
