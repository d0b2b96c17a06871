package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/audit-trail/internal/auth"
	"github.com/academy-hub/audit-trail/internal/db/models"
)

type fakeProfiles struct {
	profiles map[string]*models.Profile
	err      error
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles[userID], nil
}

func staticVerifier(userID string, err error) TokenVerifier {
	return func(string) (string, error) { return userID, err }
}

func TestActorResolver_Resolve(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*models.Profile{
		"u1": {UserID: "u1", DisplayName: "Ana", Role: "branch_admin", BranchID: strPtr("b-1")},
		"u2": {UserID: "u2", DisplayName: "No Role"},
	}}

	actor, err := NewActorResolver(staticVerifier("u1", nil), profiles).Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", actor.UserID)
	assert.Equal(t, "branch_admin", actor.Role)
	assert.Equal(t, "Ana", actor.DisplayName)
	require.NotNil(t, actor.BranchID)
	assert.Equal(t, "b-1", *actor.BranchID)
}

func TestActorResolver_Errors(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*models.Profile{
		"u2": {UserID: "u2", DisplayName: "No Role"},
	}}

	tests := []struct {
		name     string
		token    string
		verifier TokenVerifier
		store    ProfileStore
		want     error
	}{
		{"missing token", "", staticVerifier("u1", nil), profiles, ErrUnauthorized},
		{"invalid token", "tok", staticVerifier("", errors.New("bad signature")), profiles, ErrUnauthorized},
		{"no profile", "tok", staticVerifier("u9", nil), profiles, ErrProfileNotFound},
		{"profile without role", "tok", staticVerifier("u2", nil), profiles, ErrProfileNotFound},
		{"store failure", "tok", staticVerifier("u1", nil), &fakeProfiles{err: errors.New("db down")}, ErrPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewActorResolver(tt.verifier, tt.store).Resolve(context.Background(), tt.token)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestJWTVerifier(t *testing.T) {
	t.Setenv(auth.SecretEnvVar, "actor-test-secret-with-at-least-32-bytes")

	token, err := auth.GenerateJWT("user-7", "u7@academy.test", time.Hour)
	require.NoError(t, err)

	userID, err := JWTVerifier(token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", userID)

	_, err = JWTVerifier("not-a-token")
	assert.Error(t, err)
}
