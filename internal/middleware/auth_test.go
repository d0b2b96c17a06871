package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/audit-trail/internal/audit"
	"github.com/academy-hub/audit-trail/internal/auth"
	"github.com/academy-hub/audit-trail/internal/db/models"
)

type fakeResolver struct {
	actor *audit.Actor
	err   error
	token string
}

func (f *fakeResolver) Resolve(_ context.Context, token string) (*audit.Actor, error) {
	f.token = token
	return f.actor, f.err
}

type profileMap map[string]*models.Profile

func (p profileMap) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	return p[userID], nil
}

func newAuthRouter(resolver ActorResolver) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(resolver))
	r.GET("/", func(c *gin.Context) {
		actor := GetActor(c)
		uid, _ := c.Get(UserIDKey)
		c.String(http.StatusOK, "%s|%s|%v", actor.UserID, actor.Role, uid)
	})
	return r
}

func doAuth(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_HeaderErrors(t *testing.T) {
	resolver := &fakeResolver{actor: &audit.Actor{UserID: "u1", Role: "super_admin"}}
	r := newAuthRouter(resolver)

	for _, header := range []string{"", "Basic dXNlcjpwYXNz", "Bearer    "} {
		t.Run(fmt.Sprintf("header=%q", header), func(t *testing.T) {
			w := doAuth(r, header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
	assert.Empty(t, resolver.token, "resolver is not consulted for malformed headers")
}

func TestAuthMiddleware_ResolverErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", fmt.Errorf("%w: bad signature", audit.ErrUnauthorized), http.StatusUnauthorized},
		{"no profile", audit.ErrProfileNotFound, http.StatusNotFound},
		{"store down", fmt.Errorf("%w: db down", audit.ErrPersistence), http.StatusInternalServerError},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuth(newAuthRouter(&fakeResolver{err: tt.err}), "Bearer tok")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthMiddleware_SetsActor(t *testing.T) {
	resolver := &fakeResolver{actor: &audit.Actor{UserID: "u1", Role: "branch_admin"}}
	w := doAuth(newAuthRouter(resolver), "Bearer  tok-123 ")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1|branch_admin|u1", w.Body.String())
	assert.Equal(t, "tok-123", resolver.token)
}

func TestAuthMiddleware_EndToEndJWT(t *testing.T) {
	b := "b-1"
	resolver := audit.NewActorResolver(audit.JWTVerifier, profileMap{
		"user-1": {UserID: "user-1", DisplayName: "Ana", Role: "branch_admin", BranchID: &b},
	})
	r := newAuthRouter(resolver)

	token, err := auth.GenerateJWT("user-1", "ana@academy.test", time.Hour)
	require.NoError(t, err)
	w := doAuth(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1|branch_admin|user-1", w.Body.String())

	stranger, err := auth.GenerateJWT("user-2", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, doAuth(r, "Bearer "+stranger).Code)

	assert.Equal(t, http.StatusUnauthorized, doAuth(r, "Bearer not-a-jwt").Code)
}

func TestGetActor_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetActor(c))
	c.Set(ActorKey, "not an actor")
	assert.Nil(t, GetActor(c))
}
