package auth

import (
	"context"

	"fiscalseq/internal/core/id"
)

// Repository is the durable store of users and their credentials.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, userID id.ID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByAPIKeyHash resolves a machine caller; the hot path of every
	// allocation request.
	GetByAPIKeyHash(ctx context.Context, keyHash string) (*User, error)

	// SetAPIKeyHash replaces the stored key hash (rotation invalidates the
	// previous key immediately).
	SetAPIKeyHash(ctx context.Context, userID id.ID, keyHash string) error
}
