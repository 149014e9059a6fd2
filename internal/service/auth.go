package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/nanami404/meeting-assistant/internal/domain"
	"github.com/nanami404/meeting-assistant/internal/push"
	"github.com/nanami404/meeting-assistant/internal/repository"
	"github.com/nanami404/meeting-assistant/internal/token"
	apperrors "github.com/nanami404/meeting-assistant/pkg/errors"
)

// AuthService implements login, token rotation, and logout on top of the
// token manager.
type AuthService struct {
	users    repository.UserRepository
	tokens   *token.Manager
	registry *push.Registry
	logger   *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	users repository.UserRepository,
	tokens *token.Manager,
	registry *push.Registry,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		tokens:   tokens,
		registry: registry,
		logger:   logger,
	}
}

// Login verifies the email/password pair and issues a fresh token pair.
// Every credential failure surfaces as the same unauthorized error so
// responses reveal nothing about which check failed.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, *domain.TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.Unauthorized("invalid credentials")
		}
		return nil, nil, fmt.Errorf("load user for login: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, apperrors.Unauthorized("invalid credentials")
	}

	pair, err := s.tokens.Issue(ctx, user)
	if err != nil {
		if errors.Is(err, token.ErrIdentityInactive) {
			return nil, nil, apperrors.Unauthorized("invalid credentials")
		}
		return nil, nil, fmt.Errorf("issue token pair: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	return user, pair, nil
}

// Refresh rotates a refresh token into a new pair. On replay detection the
// presenter's live push channels are evicted: a stolen-or-reused refresh
// token invalidates the whole session, not just the one request.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	pair, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrRevoked) {
			if claims, inspectErr := s.tokens.Inspect(refreshToken); inspectErr == nil {
				if n := s.registry.EvictUser(claims.UserID); n > 0 {
					s.logger.WarnContext(ctx, "evicted live channels after refresh replay",
						slog.String("user_id", claims.UserID),
						slog.Int("connections", n),
					)
				}
			}
		}
		return nil, err
	}
	return pair, nil
}

// VerifyAccess validates an access token; used by the HTTP auth middleware
// and the stream handshake.
func (s *AuthService) VerifyAccess(ctx context.Context, accessToken string) (*token.Claims, error) {
	return s.tokens.VerifyAccess(ctx, accessToken)
}

// Logout revokes the presented pair and closes the user's live channels.
// Revocation is idempotent, so repeating a logout is harmless.
func (s *AuthService) Logout(ctx context.Context, userID, accessToken, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, accessToken); err != nil && !errors.Is(err, token.ErrInvalid) {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if refreshToken != "" {
		if err := s.tokens.Revoke(ctx, refreshToken); err != nil && !errors.Is(err, token.ErrInvalid) {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}

	evicted := s.registry.EvictUser(userID)
	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", userID),
		slog.Int("evicted_connections", evicted),
	)
	return nil
}

// Me returns the authenticated user's own record.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load current user: %w", err)
	}
	return user, nil
}
