package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	UserIDKey   = "userId"
	UsernameKey = "username"

	// DevUserHeader names the caller when no JWT secret is configured.
	DevUserHeader = "X-User-Id"
)

var ErrNotAccessToken = errors.New("access token required")

// Claims are issued by the identity provider.
type Claims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// ParseToken checks an HS256 token against secret.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != "" && claims.Type != "access" {
		return nil, ErrNotAccessToken
	}
	return claims, nil
}

// WarnDevIdentity logs a warning when secret is empty, since Identity then
// believes whatever user id the caller sends. It reports whether it warned.
func WarnDevIdentity(secret string, logger *zap.Logger) bool {
	if secret != "" {
		return false
	}
	logger.Warn("auth.jwt_secret is empty: board hub trusts the " + DevUserHeader +
		" header, so any caller can act as any user, board deletes included")
	return true
}

// Identity puts the caller's user id into the context. The token comes from
// the Authorization header or, for browsers opening websockets, ?token=.
// With an empty secret the id is taken from the X-User-Id header instead.
func Identity(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if secret == "" {
			userID := strings.TrimSpace(c.GetHeader(DevUserHeader))
			if userID == "" {
				userID = strings.TrimSpace(c.Query("userId"))
			}
			if userID == "" {
				unauthenticated(c, "missing user id")
				return
			}
			c.Set(UserIDKey, userID)
			c.Next()
			return
		}

		tokenString := extractBearer(c.GetHeader("Authorization"))
		if tokenString == "" {
			tokenString = strings.TrimSpace(c.Query("token"))
		}
		if tokenString == "" {
			unauthenticated(c, "Authorization header is missing or invalid")
			return
		}

		claims, err := ParseToken(tokenString, key)
		if err != nil {
			unauthenticated(c, err.Error())
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}

// UserID returns the id stored by Identity.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func unauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "error": msg})
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
