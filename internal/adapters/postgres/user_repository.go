package postgres

import (
	"context"
	"fmt"

	"github.com/kevin07696/billing-service/internal/domain/ports"
)

// UserRepository implements ports.UserRepository using pgx
type UserRepository struct {
	db ports.DBPort
}

// NewUserRepository creates a new user repository
func NewUserRepository(db ports.DBPort) *UserRepository {
	return &UserRepository{db: db}
}

// ExistsByID reports whether a user row exists
func (r *UserRepository) ExistsByID(ctx context.Context, db ports.DBTX, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`
	var exists bool
	err := executor(r.db, db).QueryRow(ctx, query, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}
