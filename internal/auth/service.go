package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	// PermOperator may watch values and view the project.
	PermOperator Permission = "operator"
	// PermTechnician may also connect devices and write values.
	PermTechnician Permission = "technician"
	// PermAdmin may also edit and save the project.
	PermAdmin Permission = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// userNamespace derives stable user IDs from usernames.
var userNamespace = uuid.MustParse("6f1c1d8e-8a0b-4d8e-9a54-3f1d2b7c9e10")

type Identity struct {
	UserID      uuid.UUID    `json:"user_id"`
	Username    string       `json:"username"`
	Role        string       `json:"role"`
	Permissions []Permission `json:"permissions"`
}

type LoginResult struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Identity    Identity  `json:"identity"`
}

type lockout struct {
	failures    int
	lockedUntil time.Time
}

type AuthService struct {
	enabled        bool
	users          map[string]config.UserConfig
	tokens         []config.APITokenConfig
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	maxFailed      int
	lockDuration   time.Duration
	logger         *zap.Logger

	mu       sync.Mutex
	lockouts map[string]*lockout
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	users := make(map[string]config.UserConfig, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = u
	}

	if cfg.Enabled && !cfg.IsProductionReady() {
		logger.Warn("JWT secret is the development fallback; set " + cfg.JWTSecretEnv)
	}

	return &AuthService{
		enabled:        cfg.Enabled,
		users:          users,
		tokens:         cfg.APITokens,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		maxFailed:      cfg.MaxFailedLoginAttempts,
		lockDuration:   cfg.AccountLockDuration,
		logger:         logger,
		lockouts:       make(map[string]*lockout),
	}
}

func (a *AuthService) Enabled() bool {
	return a.enabled
}

// LoginUser authenticates a user and returns an access token
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress string) (*LoginResult, error) {
	if until, locked := a.locked(username); locked {
		a.logger.Warn("Login to locked account",
			zap.String("username", username),
			zap.String("ip", ipAddress))
		return nil, fmt.Errorf("%w until %s", ErrAccountLocked, until.Format(time.RFC3339))
	}

	user, ok := a.users[username]
	if !ok {
		a.logger.Info("Login failed", zap.String("username", username), zap.String("reason", "user not found"))
		return nil, ErrInvalidCredentials
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		a.recordFailure(username)
		a.logger.Info("Login failed",
			zap.String("username", username),
			zap.String("ip", ipAddress),
			zap.String("reason", "invalid password"))
		return nil, ErrInvalidCredentials
	}
	a.resetFailures(username)

	identity := a.identity(username, user.Role)
	token, expires, err := a.jwtHandler.GenerateAccessToken(identity.UserID, username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logger.Info("Login succeeded", zap.String("username", username), zap.String("role", user.Role))
	return &LoginResult{AccessToken: token, ExpiresAt: expires, Identity: identity}, nil
}

// ValidateToken validates any token (JWT or API token)
func (a *AuthService) ValidateToken(ctx context.Context, token string) (*Identity, error) {
	if isAPIToken(token) {
		hash := HashAPIToken(token)
		for _, t := range a.tokens {
			if subtle.ConstantTimeCompare([]byte(hash), []byte(t.TokenHash)) == 1 {
				id := a.identity("token:"+t.Name, t.Role)
				return &id, nil
			}
		}
		return nil, ErrInvalidToken
	}

	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := a.identity(claims.Username, claims.Role)
	return &id, nil
}

// Anonymous is the identity used when authentication is disabled.
func (a *AuthService) Anonymous() Identity {
	return a.identity("anonymous", "admin")
}

// HashPassword produces a hash for the users section of the configuration.
func (a *AuthService) HashPassword(password string) (string, error) {
	return a.passwordHasher.HashPassword(password)
}

func (a *AuthService) identity(username, role string) Identity {
	return Identity{
		UserID:      uuid.NewSHA1(userNamespace, []byte(username)),
		Username:    username,
		Role:        role,
		Permissions: roleToPermissions(role),
	}
}

func roleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func (a *AuthService) locked(username string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.lockouts[username]
	if !ok || l.lockedUntil.IsZero() {
		return time.Time{}, false
	}
	if time.Now().After(l.lockedUntil) {
		delete(a.lockouts, username)
		return time.Time{}, false
	}
	return l.lockedUntil, true
}

func (a *AuthService) recordFailure(username string) {
	if a.maxFailed <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.lockouts[username]
	if !ok {
		l = &lockout{}
		a.lockouts[username] = l
	}
	l.failures++
	if l.failures >= a.maxFailed {
		l.lockedUntil = time.Now().Add(a.lockDuration)
		a.logger.Warn("Account locked", zap.String("username", username), zap.Duration("for", a.lockDuration))
	}
}

func (a *AuthService) resetFailures(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.lockouts, username)
}
