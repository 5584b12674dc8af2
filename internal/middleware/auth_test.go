package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Auth(secret))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "role": GetUserRole(c)})
	})
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func get(r *gin.Engine, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newRouter()

	cashier, err := SignToken(secret, 12, RoleCashier)
	require.NoError(t, err)
	admin, err := SignToken(secret, 1, RoleAdmin)
	require.NoError(t, err)
	forged, err := SignToken("other-secret", 1, RoleAdmin)
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 12,
		Role:   RoleCashier,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"missing header", "/me", "", http.StatusUnauthorized},
		{"malformed header", "/me", "Token " + cashier, http.StatusUnauthorized},
		{"wrong secret", "/me", "Bearer " + forged, http.StatusUnauthorized},
		{"expired", "/me", "Bearer " + expired, http.StatusUnauthorized},
		{"valid", "/me", "Bearer " + cashier, http.StatusOK},
		{"query token", "/me?token=" + cashier, "", http.StatusOK},
		{"cashier on admin route", "/admin", "Bearer " + cashier, http.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer " + admin, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.path, tt.header)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := get(r, "/me", "Bearer "+cashier)
	assert.JSONEq(t, `{"user_id": 12, "role": "cashier"}`, w.Body.String())
}

func TestRequestID(t *testing.T) {
	r := newRouter()

	w := get(r, "/me", "")
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(RequestIDHeader, "caja-2-0001")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "caja-2-0001", w.Header().Get(RequestIDHeader))
}
