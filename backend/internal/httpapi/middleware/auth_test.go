package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"collabboard/backend/internal/httpapi/middleware"
)

const secret = "test-secret"

func setupRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", middleware.Identity(secret), func(c *gin.Context) {
		id, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no user"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": id})
	})
	return r
}

func sign(t *testing.T, claims middleware.Claims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func accessClaims(userID string, ttl time.Duration) middleware.Claims {
	return middleware.Claims{
		UserID: userID,
		Type:   "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func get(r *gin.Engine, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdentityAcceptsBearerToken(t *testing.T) {
	r := setupRouter(secret)
	token := sign(t, accessClaims("u1", time.Hour), secret)

	w := get(r, "/me", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"u1"}`, w.Body.String())
}

func TestIdentityAcceptsQueryToken(t *testing.T) {
	r := setupRouter(secret)
	token := sign(t, accessClaims("u2", time.Hour), secret)

	w := get(r, "/me?token="+token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"u2"}`, w.Body.String())
}

func TestIdentityRejects(t *testing.T) {
	r := setupRouter(secret)
	refresh := accessClaims("u1", time.Hour)
	refresh.Type = "refresh"

	cases := map[string]http.Header{
		"missing":    nil,
		"wrong key":  {"Authorization": {"Bearer " + sign(t, accessClaims("u1", time.Hour), "other")}},
		"expired":    {"Authorization": {"Bearer " + sign(t, accessClaims("u1", -time.Hour), secret)}},
		"refresh":    {"Authorization": {"Bearer " + sign(t, refresh, secret)}},
		"no subject": {"Authorization": {"Bearer " + sign(t, accessClaims("", time.Hour), secret)}},
		"not bearer": {"Authorization": {"Basic abc"}},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			w := get(r, "/me", h)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestIdentityDevHeader(t *testing.T) {
	r := setupRouter("")

	w := get(r, "/me", http.Header{middleware.DevUserHeader: {"alice"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"alice"}`, w.Body.String())

	w = get(r, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWarnDevIdentity(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	assert.False(t, middleware.WarnDevIdentity(secret, logger))
	assert.Zero(t, logs.Len())

	assert.True(t, middleware.WarnDevIdentity("", logger))
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		assert.Contains(t, entries[0].Message, middleware.DevUserHeader)
	}
}
