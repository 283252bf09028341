package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"mejaku/backend/internal/domain"
	"mejaku/backend/internal/store"
	"mejaku/backend/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid phone or pin")
	// ErrAccountLocked maps to 423 at the HTTP layer.
	ErrAccountLocked = errors.New("account temporarily locked")
	ErrTokenInvalid  = errors.New("invalid or expired session token")
)

const (
	maxFailedLogins  = 5
	lockoutDuration  = 30 * time.Minute
	refreshThreshold = 12 * time.Hour
)

// AuthManager owns credential verification and session tokens. Tokens are
// opaque random values stored on the user row, so revocation is immediate
// and no signing key exists to leak.
type AuthManager struct {
	repo       store.Repository
	sessionTTL time.Duration
}

func NewAuthManager(repo store.Repository, sessionTTL time.Duration) *AuthManager {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &AuthManager{repo: repo, sessionTTL: sessionTTL}
}

func (a *AuthManager) Signup(ctx context.Context, req domain.SignupRequest) (domain.UserSummary, error) {
	req.Phone = strings.TrimSpace(req.Phone)
	req.Name = strings.TrimSpace(req.Name)
	req.PIN = strings.TrimSpace(req.PIN)
	if req.Phone == "" || req.Name == "" {
		return domain.UserSummary{}, store.ErrInvalidInput
	}
	if len(req.PIN) < 4 {
		return domain.UserSummary{}, fmt.Errorf("%w: pin must be at least 4 digits", store.ErrInvalidInput)
	}

	hash, err := hashPIN(req.PIN)
	if err != nil {
		return domain.UserSummary{}, err
	}

	created, err := a.repo.CreateUser(ctx, domain.User{
		ID:        xid.New("usr"),
		Phone:     req.Phone,
		Email:     strings.TrimSpace(req.Email),
		Name:      req.Name,
		Role:      domain.RoleRider,
		PINHash:   hash,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.UserSummary{}, err
	}
	return created.Summary(), nil
}

// Login verifies the PIN against up to three credential generations: the
// bcrypt hash, a database-side legacy digest, and finally a plain-text PIN
// left over from the oldest imports. A plain-text match upgrades the row to
// bcrypt in the background of the same request.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	phone := strings.TrimSpace(req.Phone)
	pin := strings.TrimSpace(req.PIN)
	if phone == "" || pin == "" {
		return domain.LoginResponse{}, fmt.Errorf("%w: phone and pin are required", store.ErrInvalidInput)
	}

	user, err := a.repo.GetUserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.auditFailedLogin(ctx, "", phone, "unknown_phone")
		}
		return domain.LoginResponse{}, err
	}

	locked, err := a.isLocked(ctx, user)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if locked {
		return domain.LoginResponse{}, ErrAccountLocked
	}

	if !a.verifyPIN(ctx, user, pin) {
		if err := a.recordFailure(ctx, user); err != nil {
			log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record login failure")
		}
		return domain.LoginResponse{}, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		if err := a.repo.ClearLoginFailure(ctx, user.ID); err != nil {
			log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to clear login failures")
		}
	}

	now := time.Now().UTC()
	token := xid.NewToken()
	expiresAt := now.Add(a.sessionTTL)
	if err := a.repo.SetSessionToken(ctx, user.ID, token, expiresAt, now); err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		User:         user.Summary(),
		SessionToken: token,
		ExpiresAt:    expiresAt.Format(time.RFC3339),
	}, nil
}

// ResolveToken maps a bearer token to an actor. Tokens within the refresh
// threshold of expiry are silently extended by a full session TTL, so busy
// shifts never log staff out mid-service.
func (a *AuthManager) ResolveToken(ctx context.Context, token string) (domain.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Actor{}, ErrTokenInvalid
	}

	user, err := a.repo.GetUserBySessionToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, ErrTokenInvalid
		}
		return domain.Actor{}, err
	}
	if user.SessionExpiresAt == nil || !user.SessionExpiresAt.After(time.Now().UTC()) {
		return domain.Actor{}, ErrTokenInvalid
	}

	if time.Until(*user.SessionExpiresAt) < refreshThreshold {
		extended := time.Now().UTC().Add(a.sessionTTL)
		if err := a.repo.ExtendSession(ctx, user.ID, extended); err != nil {
			log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to extend session")
		}
	}

	return domain.Actor{
		UserID: user.ID,
		Phone:  user.Phone,
		Role:   user.Role,
		Source: "token",
	}, nil
}

// Revoke clears the stored token. Revoking an unknown token is a no-op.
func (a *AuthManager) Revoke(ctx context.Context, token string) error {
	user, err := a.repo.GetUserBySessionToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return a.repo.ClearSessionToken(ctx, user.ID)
}

// isLocked reports whether the account is inside a lockout window. An
// expired lock is cleared on the way through.
func (a *AuthManager) isLocked(ctx context.Context, user *domain.User) (bool, error) {
	if user.LockedUntil == nil {
		return false, nil
	}
	if user.LockedUntil.After(time.Now().UTC()) {
		return true, nil
	}
	if err := a.repo.ClearLoginFailure(ctx, user.ID); err != nil {
		return false, err
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	return false, nil
}

func (a *AuthManager) recordFailure(ctx context.Context, user *domain.User) error {
	a.auditFailedLogin(ctx, user.ID, user.Phone, "pin_mismatch")

	attempts := user.FailedLoginAttempts + 1
	var lockedUntil *time.Time
	if attempts >= maxFailedLogins {
		until := time.Now().UTC().Add(lockoutDuration)
		lockedUntil = &until
		log.Warn().Str("user_id", user.ID).Int("attempts", attempts).Time("locked_until", until).Msg("account locked after repeated login failures")
	}
	return a.repo.UpdateLoginFailure(ctx, user.ID, attempts, lockedUntil)
}

// auditFailedLogin leaves a trail for every rejected attempt, including
// attempts against phones with no account. Write errors are logged and
// swallowed so the login flow is never aborted by the audit store.
func (a *AuthManager) auditFailedLogin(ctx context.Context, userID string, phone string, reason string) {
	actorID := userID
	if actorID == "" {
		actorID = "anonymous"
	}
	if err := a.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Action:     "failed_login",
		ActorID:    actorID,
		Phone:      phone,
		EntityType: "user",
		EntityID:   userID,
		Detail:     reason,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("phone", phone).Msg("failed to write failed_login audit entry")
	}
}

// verifyPIN runs the three credential tiers in order. The legacy digest
// tier is skipped when the store cannot evaluate it, and a store error
// there counts as inconclusive rather than a mismatch.
func (a *AuthManager) verifyPIN(ctx context.Context, user *domain.User, pin string) bool {
	if isPINHash(user.PINHash) {
		return bcrypt.CompareHashAndPassword([]byte(user.PINHash), []byte(pin)) == nil
	}

	matched, err := a.repo.VerifyLegacyDigest(ctx, user.ID, pin)
	if err == nil && matched {
		a.upgradePIN(ctx, user.ID, pin)
		return true
	}
	if err != nil && !errors.Is(err, store.ErrUnsupported) {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("legacy digest check inconclusive")
	}

	if user.PIN != "" && user.PIN == pin {
		a.upgradePIN(ctx, user.ID, pin)
		return true
	}
	return false
}

// upgradePIN rewrites the credential as bcrypt so the next login takes the
// first tier. Failure is logged and ignored; the login already succeeded.
func (a *AuthManager) upgradePIN(ctx context.Context, userID string, pin string) {
	hash, err := hashPIN(pin)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to hash pin for upgrade")
		return
	}
	if err := a.repo.UpdatePINHash(ctx, userID, hash); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to upgrade pin hash")
	}
}

func hashPIN(pin string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPINHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
