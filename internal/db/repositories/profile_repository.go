// profile_repository.go implements ProfileRepository, a read-only view of the academy's
// user profiles used to resolve an actor's role and branch.
package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/academy-hub/audit-trail/internal/db/models"
)

// ProfileRepository reads user profiles
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new ProfileRepository
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetProfile returns the profile for userID, or nil, nil if none exists
func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	query := `SELECT user_id, display_name, role, branch_id FROM profiles WHERE user_id = $1`
	err := r.db.GetContext(ctx, &p, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
