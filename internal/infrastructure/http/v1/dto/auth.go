package dto

import (
	"time"

	"fiscalseq/internal/domain/auth"
)

// LoginRequest for interactive login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
}

// FromLoginResult creates the response from domain result.
func FromLoginResult(r *auth.LoginResult) *LoginResponse {
	return &LoginResponse{
		Token:     r.Token,
		TokenType: "Bearer",
		ExpiresAt: r.ExpiresAt,
		UserID:    r.UserID,
		Email:     r.Email,
	}
}

// APIKeyResponse returns a freshly generated key. The key is shown exactly
// once; only its hash is stored.
type APIKeyResponse struct {
	APIKey    string    `json:"apiKey"`
	CreatedAt time.Time `json:"createdAt"`
}
