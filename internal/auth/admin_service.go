package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/nosift/team-dh/pkg/crypto"
	"github.com/nosift/team-dh/pkg/metrics"
)

// ErrInvalidCredentials is returned for any failed login, regardless of
// which part of the credential was wrong.
var ErrInvalidCredentials = errors.New("auth: invalid username or password")

// AdminConfig holds the single operator credential.
type AdminConfig struct {
	Username     string
	Password     string // plaintext fallback for local development
	PasswordHash string // bcrypt hash, takes precedence
}

// AdminService authenticates the configured operator and mints session
// tokens for the admin API.
type AdminService struct {
	username     string
	password     string
	passwordHash string
	tokens       *JWTService
}

// NewAdminService constructs an AdminService.
func NewAdminService(cfg AdminConfig, tokens *JWTService) (*AdminService, error) {
	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		return nil, errors.New("auth: admin username is required")
	}
	if cfg.Password == "" && cfg.PasswordHash == "" {
		return nil, errors.New("auth: admin password or password hash is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: jwt service is required")
	}

	return &AdminService{
		username:     username,
		password:     cfg.Password,
		passwordHash: cfg.PasswordHash,
		tokens:       tokens,
	}, nil
}

// Login verifies the credential and returns a signed session token.
func (s *AdminService) Login(username, password string) (string, time.Time, error) {
	if !s.verify(username, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateAccessToken(s.username)
	if err != nil {
		return "", time.Time{}, err
	}

	claims, err := s.tokens.ValidateAccessToken(token)
	if err != nil {
		return "", time.Time{}, err
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return token, claims.ExpiresAt.Time, nil
}

func (s *AdminService) verify(username, password string) bool {
	nameOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(s.username)) == 1

	passOK := false
	if s.passwordHash != "" {
		passOK = crypto.VerifyPassword(s.passwordHash, password)
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	}

	return nameOK && passOK
}

// Validate checks a bearer token and returns the operator claims.
func (s *AdminService) Validate(token string) (*Claims, error) {
	return s.tokens.ValidateAccessToken(token)
}
