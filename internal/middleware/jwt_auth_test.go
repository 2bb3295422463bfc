package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourney/backend/internal/auth/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *jwt.Manager) {
	t.Helper()
	manager := jwt.NewManager("middleware-secret-middleware-secret", "tourney", time.Hour)
	auth := NewJWTAuth(manager, nil)

	r := gin.New()
	teams := r.Group("/teams/:teamId", auth.RequireAuth(), auth.RequireTeamAccess("teamId"))
	teams.GET("", func(c *gin.Context) {
		c.String(http.StatusOK, ClaimsFrom(c).Subject)
	})
	r.GET("/admin", auth.RequireAuth(), auth.RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, manager
}

func issue(t *testing.T, m *jwt.Manager, role, team string) string {
	t.Helper()
	token, _, err := m.Issue("tester", role, team)
	require.NoError(t, err)
	return token
}

func TestJWTAuth(t *testing.T) {
	r, m := newTestRouter(t)
	admin := issue(t, m, jwt.RoleAdmin, "")
	team7 := issue(t, m, jwt.RoleTeam, "7")

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"missing token", "/teams/7", "", http.StatusUnauthorized},
		{"garbage token", "/teams/7", "Bearer nope", http.StatusUnauthorized},
		{"admin any team", "/teams/9", "Bearer " + admin, http.StatusOK},
		{"own team", "/teams/7", "Bearer " + team7, http.StatusOK},
		{"other team", "/teams/8", "Bearer " + team7, http.StatusForbidden},
		{"lowercase scheme", "/teams/7", "bearer " + team7, http.StatusOK},
		{"query token", "/teams/7?token=" + team7, "", http.StatusOK},
		{"admin route", "/admin", "Bearer " + admin, http.StatusNoContent},
		{"admin route as team", "/admin", "Bearer " + team7, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status >= 400 {
				assert.Contains(t, w.Body.String(), `"code":`)
			}
		})
	}
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/", BodySizeLimit(8), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("short")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "8", w.Header().Get("X-Max-Body-Size"))
}
