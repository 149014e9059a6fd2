package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nanami404/meeting-assistant/internal/domain"
)

// Token kind constants, carried in the token_type claim. One verification
// path handles both kinds; the tag is what distinguishes them.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

const (
	issuer   = "meeting-assistant"
	audience = "meeting-assistant-clients"
)

// Credential errors. All of them surface as 401 to HTTP callers so that
// responses do not reveal which check failed.
var (
	ErrIdentityInactive = errors.New("token: identity is not active")
	ErrInvalid          = errors.New("token: invalid token")
	ErrExpired          = errors.New("token: token expired")
	ErrKindMismatch     = errors.New("token: wrong token kind")
	ErrRevoked          = errors.New("token: token revoked")
)

// Claims represents the JWT claims for both access and refresh tokens.
type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// UserSource loads the current identity record for a user ID. Refresh
// re-reads the user so a rotated pair always carries fresh role/status.
type UserSource interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// Config holds token manager configuration.
type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// DefaultConfig returns the default token TTLs (30m access, 30d refresh).
func DefaultConfig(secret string) Config {
	return Config{
		Secret:     secret,
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 720 * time.Hour,
	}
}

// Manager issues, verifies, rotates, and revokes access/refresh token pairs.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	users      UserSource
	revoked    RevocationStore
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewManager creates a token manager backed by the given user source and
// revocation store.
func NewManager(cfg Config, users UserSource, revoked RevocationStore, logger *slog.Logger) *Manager {
	return &Manager{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		users:      users,
		revoked:    revoked,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Issue creates a new access/refresh pair for the user. Fails with
// ErrIdentityInactive when the user is not active.
func (m *Manager) Issue(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	if !user.IsActive() {
		return nil, ErrIdentityInactive
	}

	access, err := m.sign(user, KindAccess, m.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := m.sign(user, KindRefresh, m.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// VerifyAccess validates an access token and returns its claims.
func (m *Manager) VerifyAccess(ctx context.Context, tokenString string) (*Claims, error) {
	return m.verify(ctx, tokenString, KindAccess)
}

// Refresh rotates a refresh token: the old token's jti is atomically
// consumed, and exactly one of any concurrent callers presenting the same
// token receives a new pair; the others get ErrRevoked. The new pair is
// bound to the user's current record, so a deactivated user cannot rotate
// their way past a status change.
func (m *Manager) Refresh(ctx context.Context, oldToken string) (*domain.TokenPair, error) {
	claims, err := m.verify(ctx, oldToken, KindRefresh)
	if err != nil {
		return nil, err
	}

	// Single-winner consume: first caller revokes the jti and proceeds,
	// everyone else sees it already revoked.
	winner, err := m.revoked.Consume(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("consume refresh jti: %w", err)
	}
	if !winner {
		m.logger.WarnContext(ctx, "refresh token replay detected",
			slog.String("user_id", claims.UserID),
			slog.String("jti", claims.ID),
		)
		return nil, ErrRevoked
	}

	user, err := m.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user for refresh: %w", err)
	}

	return m.Issue(ctx, user)
}

// Revoke blacklists the token's jti until its natural expiry. Idempotent:
// revoking an already-revoked or already-expired token is not an error.
func (m *Manager) Revoke(ctx context.Context, tokenString string) error {
	claims, err := m.parse(tokenString)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			// Expired tokens are already unusable.
			return nil
		}
		return err
	}

	if _, err := m.revoked.Consume(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("revoke jti: %w", err)
	}
	return nil
}

// Inspect parses and validates the token signature and expiry without
// checking kind or revocation. Callers use it to learn who presented a
// token that has already failed a stricter check (e.g. to evict the live
// channels of a replayed refresh token's owner).
func (m *Manager) Inspect(tokenString string) (*Claims, error) {
	return m.parse(tokenString)
}

func (m *Manager) sign(user *domain.User, kind string, ttl time.Duration) (string, error) {
	now := m.nowFunc().UTC()
	claims := &Claims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// verify parses the token, checks the kind tag, and consults the
// revocation set.
func (m *Manager) verify(ctx context.Context, tokenString, kind string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != kind {
		return nil, ErrKindMismatch
	}

	revoked, err := m.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	return claims, nil
}

func (m *Manager) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(func() time.Time { return m.nowFunc() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}

	return claims, nil
}
