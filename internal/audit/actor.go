package audit

import (
	"context"
	"fmt"

	"github.com/academy-hub/audit-trail/internal/auth"
	"github.com/academy-hub/audit-trail/internal/db/models"
)

// Actor is the authenticated principal on whose behalf a record is written or
// the trail is read. Role and BranchID are the values at resolution time.
type Actor struct {
	UserID      string  `json:"user_id"`
	Role        string  `json:"role"`
	BranchID    *string `json:"branch_id"`
	DisplayName string  `json:"display_name"`
}

// ProfileStore looks up the academy profile of a user; nil, nil means no profile
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// TokenVerifier turns a bearer credential into a user id
type TokenVerifier func(token string) (string, error)

// JWTVerifier verifies HS256 tokens signed with the configured secret
func JWTVerifier(token string) (string, error) {
	claims, err := auth.ValidateJWT(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// ActorResolver resolves bearer credentials to actors
type ActorResolver struct {
	verify   TokenVerifier
	profiles ProfileStore
}

// NewActorResolver creates an ActorResolver
func NewActorResolver(verify TokenVerifier, profiles ProfileStore) *ActorResolver {
	return &ActorResolver{verify: verify, profiles: profiles}
}

// Resolve verifies token and loads the caller's profile
func (r *ActorResolver) Resolve(ctx context.Context, token string) (*Actor, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	userID, err := r.verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	profile, err := r.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading profile: %v", ErrPersistence, err)
	}
	if profile == nil || profile.Role == "" {
		return nil, fmt.Errorf("%w: user %s", ErrProfileNotFound, userID)
	}

	return &Actor{
		UserID:      userID,
		Role:        profile.Role,
		BranchID:    profile.BranchID,
		DisplayName: profile.DisplayName,
	}, nil
}
