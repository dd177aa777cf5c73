// Package auth_repo provides the PostgreSQL implementation of the auth
// repository.
package auth_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"fiscalseq/internal/core/apperror"
	"fiscalseq/internal/core/id"
	"fiscalseq/internal/domain/auth"
	"fiscalseq/internal/infrastructure/storage/postgres"
)

const userColumns = `id, email, name, password_hash, is_admin,
	api_key_hash, api_key_created_at, created_at, updated_at`

// UserRepo implements auth.Repository against the users table.
type UserRepo struct {
	txm *postgres.TxManager
}

// NewUserRepo creates a new user repository.
func NewUserRepo(txm *postgres.TxManager) *UserRepo {
	return &UserRepo{txm: txm}
}

// Create inserts a new user.
func (r *UserRepo) Create(ctx context.Context, user *auth.User) error {
	q := r.txm.GetQuerier(ctx)

	query := `
		INSERT INTO users (id, email, name, password_hash, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := q.Exec(ctx, query,
		user.ID, user.Email, user.Name, user.PasswordHash, user.IsAdmin, now,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewDuplicate("user", "email", user.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepo) GetByID(ctx context.Context, userID id.ID) (*auth.User, error) {
	return r.getOne(ctx, "id = $1", userID.String(), userID)
}

// GetByEmail retrieves a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.getOne(ctx, "email = $1", email, email)
}

// GetByAPIKeyHash retrieves the user owning the given API key hash.
func (r *UserRepo) GetByAPIKeyHash(ctx context.Context, keyHash string) (*auth.User, error) {
	return r.getOne(ctx, "api_key_hash = $1", "api key", keyHash)
}

func (r *UserRepo) getOne(ctx context.Context, cond, ident string, arg any) (*auth.User, error) {
	q := r.txm.GetQuerier(ctx)

	query := fmt.Sprintf("SELECT %s FROM users WHERE %s", userColumns, cond)

	var user auth.User
	err := pgxscan.Get(ctx, q, &user, query, arg)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("user", ident)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// SetAPIKeyHash replaces the stored API key hash for a user.
func (r *UserRepo) SetAPIKeyHash(ctx context.Context, userID id.ID, keyHash string) error {
	q := r.txm.GetQuerier(ctx)

	query := `
		UPDATE users SET api_key_hash = $2, api_key_created_at = $3, updated_at = $3
		WHERE id = $1
	`

	result, err := q.Exec(ctx, query, userID, keyHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound("user", userID.String())
	}

	return nil
}

// Ensure interface compliance
var _ auth.Repository = (*UserRepo)(nil)
