package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims represents the session token claims. A valid signature alone is not
// enough to authenticate: the session guard also requires a matching live
// row in user_sessions, which is what makes logout and password reset take
// effect immediately instead of at token expiry.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID parses the user ID from the Subject claim
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// TokenService handles session token generation and validation
type TokenService struct {
	secret     string
	sessionTTL time.Duration
	issuer     string
}

// TokenServiceConfig holds configuration for TokenService
type TokenServiceConfig struct {
	Secret     string
	SessionTTL time.Duration
	Issuer     string
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	return &TokenService{
		secret:     cfg.Secret,
		sessionTTL: cfg.SessionTTL,
		issuer:     cfg.Issuer,
	}
}

// Generate mints a signed session token carrying userID and email claims.
// Returns the token and its expiry time.
func (s *TokenService) Generate(userID uuid.UUID, email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.sessionTTL)

	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// Validate checks the token signature and expiry and returns the claims
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.secret), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// Hash creates the SHA-256 hash of a token for session storage
func (s *TokenService) Hash(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// SessionTTL returns the session token lifetime
func (s *TokenService) SessionTTL() time.Duration {
	return s.sessionTTL
}
