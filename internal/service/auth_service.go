package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"security-service/internal/config"
	"security-service/internal/hashing"
	"security-service/internal/model"
	"security-service/internal/repository/scylla"
	"security-service/internal/token"
	"security-service/internal/util"
)

var (
	// ErrAuthenticationFailed deliberately carries no detail. Wrong
	// password, unknown user, banned account and a blocking security
	// verdict all collapse into it so the login surface leaks nothing.
	ErrAuthenticationFailed = errors.New("authentication failed")

	ErrTooManyAttempts = errors.New("too many login attempts")
	ErrUsernameTaken   = errors.New("username is already taken")
)

// AuthService implements login, registration and logout on top of the
// user store, the password hasher, the token service and the security
// pipeline.
type AuthService struct {
	users    model.UserRepository
	hasher   *hashing.Hasher
	tokens   *token.Service
	security *SecurityService
	attempts model.AttemptCache

	maxAttempts   int
	attemptWindow time.Duration
	lockDuration  time.Duration
}

func NewAuthService(
	users model.UserRepository,
	hasher *hashing.Hasher,
	tokens *token.Service,
	security *SecurityService,
	attempts model.AttemptCache,
	cfg config.SecurityConfig,
) *AuthService {
	return &AuthService{
		users:         users,
		hasher:        hasher,
		tokens:        tokens,
		security:      security,
		attempts:      attempts,
		maxAttempts:   cfg.MaxLoginAttempts,
		attemptWindow: cfg.LoginAttemptWindow,
		lockDuration:  cfg.LoginLockDuration,
	}
}

// Login authenticates the user and returns a signed bearer token. Every
// attempt, successful or not, lands in the event store; a successful
// credential check still runs through the anomaly detector and can be
// refused there.
func (a *AuthService) Login(ctx context.Context, username, password, ipAddress string) (string, error) {
	if a.attempts != nil {
		locked, err := a.attempts.IsLocked(ctx, ipAddress)
		if err != nil {
			util.Warn("Login lock check failed", zap.Error(err))
		} else if locked {
			return "", ErrTooManyAttempts
		}
	}

	user, err := a.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			a.recordFailure(ctx, username, ipAddress, "login attempt for unknown user")
			return "", ErrAuthenticationFailed
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	ok, err := a.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		a.recordFailure(ctx, user.UserID, ipAddress, "invalid credentials")
		return "", ErrAuthenticationFailed
	}

	if user.Banned {
		a.recordFailure(ctx, user.UserID, ipAddress, "login attempt for banned user")
		return "", ErrAuthenticationFailed
	}

	candidate := &model.SecurityEvent{
		EventType:   model.EventAuthSuccess,
		Level:       model.LevelInfo,
		Criticality: model.CriticalityLow,
		UserID:      user.UserID,
		IPAddress:   ipAddress,
		Message:     "user logged in",
		Source:      sourceLabel,
	}

	if err := a.security.Secure(ctx, candidate); err != nil {
		var violation *BlockingViolation
		if errors.As(err, &violation) {
			a.recordFailure(ctx, user.UserID, ipAddress, "login refused by security policy")
			return "", ErrAuthenticationFailed
		}
		return "", err
	}

	if _, err := a.security.LogEvent(ctx, candidate); err != nil {
		util.Error("Failed to record login event",
			zap.String("user_id", user.UserID), zap.Error(err))
	}

	if a.attempts != nil {
		if err := a.attempts.ResetAttempts(ctx, ipAddress); err != nil {
			util.Warn("Failed to reset login attempts", zap.Error(err))
		}
	}
	if err := a.users.UpdateUserLastLogin(ctx, user.UserID, ipAddress); err != nil {
		util.Warn("Failed to update last login",
			zap.String("user_id", user.UserID), zap.Error(err))
	}

	signed, err := a.tokens.Generate(user.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}
	return signed, nil
}

// Register creates a new account with an argon2id password hash.
func (a *AuthService) Register(ctx context.Context, username, password, ipAddress string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	if _, err := a.users.GetUserByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, scylla.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		PasswordHash: hash,
		Role:         "user",
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if _, err := a.security.LogEvent(ctx, &model.SecurityEvent{
		EventType:   model.EventUserAction,
		Level:       model.LevelInfo,
		Criticality: model.CriticalityLow,
		UserID:      user.UserID,
		IPAddress:   ipAddress,
		Message:     "user registered",
		Source:      sourceLabel,
	}); err != nil {
		util.Warn("Failed to record registration event",
			zap.String("user_id", user.UserID), zap.Error(err))
	}
	return user, nil
}

// Logout revokes the presented token. Revocation is idempotent and
// succeeds even if the token was already blacklisted; an unreadable
// token is reported back so clients notice a broken Authorization
// header.
func (a *AuthService) Logout(ctx context.Context, authHeader, ipAddress string) error {
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	tokenString = strings.TrimSpace(tokenString)

	subject, err := a.tokens.Subject(tokenString)
	if err != nil {
		return fmt.Errorf("cannot log out: %w", err)
	}

	a.tokens.Revoke(tokenString)

	if _, err := a.security.LogEvent(ctx, &model.SecurityEvent{
		EventType:   model.EventUserAction,
		Level:       model.LevelInfo,
		Criticality: model.CriticalityLow,
		UserID:      subject,
		IPAddress:   ipAddress,
		Message:     "user logged out",
		Source:      sourceLabel,
	}); err != nil {
		util.Warn("Failed to record logout event",
			zap.String("user_id", subject), zap.Error(err))
	}
	return nil
}

// recordFailure logs an AUTH_FAILURE through the security pipeline and
// bumps the transport throttle. The failure event itself is also run
// through the detector so blocking state accumulates, but the verdict
// is discarded: the login is already failing.
func (a *AuthService) recordFailure(ctx context.Context, userID, ipAddress, message string) {
	event := &model.SecurityEvent{
		EventType:   model.EventAuthFailure,
		Level:       model.LevelWarning,
		Criticality: model.CriticalityRegular,
		UserID:      userID,
		IPAddress:   ipAddress,
		Message:     message,
		Source:      sourceLabel,
	}
	if err := a.security.Ingest(ctx, event); err != nil {
		var violation *BlockingViolation
		if !errors.As(err, &violation) {
			util.Warn("Failed to record auth failure",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	if a.attempts == nil {
		return
	}
	count, err := a.attempts.IncrementAttempts(ctx, ipAddress, a.attemptWindow)
	if err != nil {
		return
	}
	if a.maxAttempts > 0 && count >= a.maxAttempts {
		if err := a.attempts.SetTemporaryLock(ctx, ipAddress, a.lockDuration); err != nil {
			util.Warn("Failed to set login lock", zap.Error(err))
		}
	}
}
