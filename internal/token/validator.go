package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"security-service/internal/util"
)

// Status is the outcome of validating a bearer token.
type Status string

const (
	StatusValid       Status = "VALID"
	StatusInvalid     Status = "INVALID"
	StatusExpired     Status = "EXPIRED"
	StatusBlacklisted Status = "BLACKLISTED"
)

// Tokens shorter than this cannot be well-formed JWTs.
const minTokenLength = 10

var (
	ErrTokenNotValid = errors.New("token is not valid")
	ErrNoSubject     = errors.New("token has no subject claim")
)

// Service issues and validates HS256 bearer tokens, consulting the
// revocation registry before any cryptographic work.
type Service struct {
	secret   []byte
	expiry   time.Duration
	registry *RevocationRegistry
	parser   *jwt.Parser
	now      func() time.Time
}

func NewService(secret string, expiry time.Duration, registry *RevocationRegistry) *Service {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Service{
		secret:   []byte(secret),
		expiry:   expiry,
		registry: registry,
		// Expiry is checked explicitly so it can be reported as a
		// distinct status rather than a generic parse failure.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		now: time.Now,
	}
}

// Generate issues a signed token for the given subject.
func (s *Service) Generate(subject string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate classifies a token. Order matters: the registry is consulted
// before any signature work so revoked tokens short-circuit, and the
// expiry claim is only inspected once the signature holds.
func (s *Service) Validate(tokenString string) Status {
	if tokenString == "" {
		return StatusInvalid
	}
	if s.registry != nil && s.registry.IsRevoked(tokenString) {
		return StatusBlacklisted
	}
	if len(tokenString) < minTokenLength {
		util.Debug("Token is malformed")
		return StatusInvalid
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := s.parser.ParseWithClaims(tokenString, claims, s.keyFunc)
	if err != nil || !parsed.Valid {
		util.Debug("Token is invalid", zap.Error(err))
		return StatusInvalid
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(s.now()) {
		util.Debug("Token is expired")
		return StatusExpired
	}
	return StatusValid
}

// Subject returns the subject claim of a token that validates cleanly.
// Anything other than StatusValid is an error: the identity of a
// revoked, expired or malformed token must never be trusted downstream.
func (s *Service) Subject(tokenString string) (string, error) {
	if s.Validate(tokenString) != StatusValid {
		return "", ErrTokenNotValid
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := s.parser.ParseWithClaims(tokenString, claims, s.keyFunc); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

// Revoke blacklists a token in the registry. Idempotent; empty tokens
// are ignored.
func (s *Service) Revoke(tokenString string) {
	if s.registry != nil {
		s.registry.Revoke(tokenString)
	}
}

func (s *Service) keyFunc(*jwt.Token) (interface{}, error) {
	return s.secret, nil
}
