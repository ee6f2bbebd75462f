package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/pkg/jwt"
)

// ActorContextKey is the key used to store the caller in Gin context
const ActorContextKey = "actor"

// TokenValidator validates access tokens
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*jwt.Claims, error)
	IsTokenExpired(tokenString string) bool
}

type authFailure struct {
	status  int
	error   string
	message string
	code    string
}

func (f *authFailure) abort(c *gin.Context) {
	c.AbortWithStatusJSON(f.status, gin.H{
		"error":   f.error,
		"message": f.message,
		"code":    f.code,
	})
}

// authenticate resolves the bearer token into an actor.
// Returns (nil, nil) when no Authorization header is present.
func authenticate(c *gin.Context, tokens TokenValidator) (*models.Actor, *authFailure) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return nil, &authFailure{
			status:  http.StatusUnauthorized,
			error:   "unauthorized",
			message: "Invalid authorization header format. Expected: Bearer <token>",
			code:    "INVALID_AUTH_FORMAT",
		}
	}
	tokenString := strings.TrimSpace(parts[1])

	claims, err := tokens.ValidateAccessToken(tokenString)
	if err != nil {
		if tokens.IsTokenExpired(tokenString) {
			return nil, &authFailure{
				status:  http.StatusUnauthorized,
				error:   "token_expired",
				message: "Access token has expired. Please refresh your token.",
				code:    "TOKEN_EXPIRED",
			}
		}
		return nil, &authFailure{
			status:  http.StatusUnauthorized,
			error:   "invalid_token",
			message: "Invalid access token",
			code:    "INVALID_TOKEN",
		}
	}

	role, err := models.ParseRole(claims.Role)
	if err != nil || role == models.RoleGuest {
		return nil, &authFailure{
			status:  http.StatusUnauthorized,
			error:   "invalid_token",
			message: "Token carries an unknown role",
			code:    "INVALID_TOKEN",
		}
	}

	actor := models.NewActor(claims.UserID, role, claims.Name)
	return &actor, nil
}

// AuthMiddleware requires a valid access token and stores the actor in context
func AuthMiddleware(tokens TokenValidator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, failure := authenticate(c, tokens)
		if failure == nil && actor == nil {
			failure = &authFailure{
				status:  http.StatusUnauthorized,
				error:   "unauthorized",
				message: "Authorization header is required",
				code:    "MISSING_AUTH_HEADER",
			}
		}
		if failure != nil {
			logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"ip":   c.ClientIP(),
				"code": failure.code,
			}).Warn("Authentication failed")
			failure.abort(c)
			return
		}

		c.Set(ActorContextKey, *actor)
		c.Next()
	}
}

// OptionalAuth accepts guests. A token, when sent, must still be valid.
func OptionalAuth(tokens TokenValidator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, failure := authenticate(c, tokens)
		if failure != nil {
			logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"ip":   c.ClientIP(),
				"code": failure.code,
			}).Warn("Authentication failed")
			failure.abort(c)
			return
		}

		if actor == nil {
			c.Set(ActorContextKey, models.Guest())
		} else {
			c.Set(ActorContextKey, *actor)
		}
		c.Next()
	}
}

// RequireRole creates a middleware that checks the actor has one of the roles
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, exists := c.Get(ActorContextKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "User context not found. Auth middleware may not be applied.",
				"code":    "MISSING_USER_CONTEXT",
			})
			return
		}

		role := actor.(models.Actor).Role
		for _, required := range roles {
			if role == required {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You don't have permission to access this resource",
			"code":    "INSUFFICIENT_PERMISSIONS",
		})
	}
}

// GetActor returns the caller stored by the auth middleware, or a guest
func GetActor(c *gin.Context) models.Actor {
	if v, ok := c.Get(ActorContextKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Guest()
}
