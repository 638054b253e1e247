package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityKey = "auth.identity"

// Identity is the caller as asserted by a validated access token.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

var (
	errNoHeader   = errors.New("authorization header required")
	errBadHeader  = errors.New("invalid authorization header format")
	errEmptyToken = errors.New("token is empty")
)

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoHeader
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(strings.TrimSpace(scheme), "Bearer") {
		return "", errBadHeader
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// AuthMiddleware rejects requests without a valid access token and stores
// the caller's Identity on the context.
func AuthMiddleware(accessTokenSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abort(c, http.StatusUnauthorized, "Bearer token required: "+err.Error())
			return
		}

		claims, err := ValidateToken(token, accessTokenSecret)
		switch {
		case errors.Is(err, ErrTokenExpired):
			abort(c, http.StatusUnauthorized, "Token expired")
			return
		case errors.Is(err, ErrInvalidTokenType):
			abort(c, http.StatusUnauthorized, "Access token required")
			return
		case err != nil:
			abort(c, http.StatusUnauthorized, "Invalid or malformed token")
			return
		}

		c.Set(identityKey, Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role})
		c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "Authentication required")
			return
		}
		for _, role := range roles {
			if id.Role == role {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "Insufficient permissions")
	}
}

func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

func GetUserID(c *gin.Context) (string, bool) {
	id, ok := IdentityFrom(c)
	return id.UserID, ok
}

func IsAdmin(c *gin.Context) bool {
	id, ok := IdentityFrom(c)
	return ok && id.IsAdmin()
}
