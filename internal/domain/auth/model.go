package auth

import (
	"time"

	"fiscalseq/internal/core/id"
)

// User owns sequence ranges and credentials. Passwords are stored as bcrypt
// hashes; API keys are stored as SHA-256 hashes and shown in clear exactly
// once, at generation time.
type User struct {
	ID           id.ID  `db:"id" json:"id"`
	Email        string `db:"email" json:"email"`
	Name         string `db:"name" json:"name"`
	PasswordHash string `db:"password_hash" json:"-"`
	IsAdmin      bool   `db:"is_admin" json:"isAdmin"`

	APIKeyHash      *string    `db:"api_key_hash" json:"-"`
	APIKeyCreatedAt *time.Time `db:"api_key_created_at" json:"apiKeyCreatedAt,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
