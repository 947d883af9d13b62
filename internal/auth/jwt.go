package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by a consultation access token. Patient and practitioner
// both authenticate with the same shape; Role distinguishes them.
type Claims struct {
	ConsultationID string `json:"consultation_id"`
	UserID         string `json:"user_id"`
	Role           string `json:"role"` // "patient" or "practitioner"
	jwt.RegisteredClaims
}

// Signer issues and validates consultation tokens with a shared HMAC secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner builds a signer. The secret must come from the environment, never
// from source.
func NewSigner(secret []byte, ttl time.Duration) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: secret, ttl: ttl}, nil
}

// Issue generates a token granting access to one consultation.
func (s *Signer) Issue(consultationID, userID, role string) (string, error) {
	claims := &Claims{
		ConsultationID: consultationID,
		UserID:         userID,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses a token and returns its claims.
func (s *Signer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.ConsultationID == "" {
		return nil, errors.New("token missing consultation_id")
	}
	return claims, nil
}
