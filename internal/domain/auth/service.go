package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fiscalseq/internal/core/apperror"
	appctx "fiscalseq/internal/core/context"
	"fiscalseq/internal/core/id"
	"fiscalseq/pkg/logger"
)

const apiKeyBytes = 32

// Service provides login, API-key issuance and API-key resolution.
type Service struct {
	repo Repository
	jwt  *JWTService
}

// NewService creates a new auth service.
func NewService(repo Repository, jwt *JWTService) *Service {
	return &Service{repo: repo, jwt: jwt}
}

// LoginResult carries a signed session token.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
}

// Login verifies credentials and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.NewValidation("email and password are required")
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if apperror.IsNotFound(err) {
			// Same response as a wrong password; do not leak which one failed.
			return nil, apperror.NewUnauthorized("invalid credentials")
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, apperror.NewUnauthorized("invalid credentials")
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(user.ID.String(), user.Email, user.IsAdmin)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generate token: %w", err))
	}

	logger.Info(ctx, "user logged in", "user_id", user.ID)
	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    user.ID.String(),
		Email:     user.Email,
	}, nil
}

// GenerateAPIKey creates a fresh API key for the user, stores only its hash
// and returns the plain key. The previous key stops working immediately.
func (s *Service) GenerateAPIKey(ctx context.Context, userID id.ID) (string, error) {
	raw := make([]byte, apiKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", apperror.NewInternal(fmt.Errorf("generate key: %w", err))
	}
	plain := hex.EncodeToString(raw)

	if err := s.repo.SetAPIKeyHash(ctx, userID, HashAPIKey(plain)); err != nil {
		return "", err
	}

	logger.Info(ctx, "api key rotated", "user_id", userID)
	return plain, nil
}

// ResolveAPIKey maps a plain API key to its owning caller identity.
func (s *Service) ResolveAPIKey(ctx context.Context, plainKey string) (*appctx.CallerContext, error) {
	plainKey = strings.TrimSpace(plainKey)
	if plainKey == "" {
		return nil, apperror.NewUnauthorized("missing API key")
	}

	user, err := s.repo.GetByAPIKeyHash(ctx, HashAPIKey(plainKey))
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewUnauthorized("invalid API key")
		}
		return nil, err
	}

	return &appctx.CallerContext{
		UserID:   user.ID.String(),
		Email:    user.Email,
		AuthKind: appctx.AuthAPIKey,
		IsAdmin:  user.IsAdmin,
	}, nil
}

// HashAPIKey hashes a plain API key for storage and lookup. SHA-256 is
// deliberate: the key itself is high-entropy random, so a fast hash keeps the
// per-request lookup cheap while never storing the key in clear.
func HashAPIKey(plain string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(plain)))
	return hex.EncodeToString(sum[:])
}

// HashPassword hashes a password with bcrypt for storage.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}
