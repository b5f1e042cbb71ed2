package endpoints

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"

	"slidespeaker/internal/config"
	"slidespeaker/internal/state"
)

// AuthMiddleware selects the configured authentication mode: redis-backed
// sessions or Auth0 JWTs. Both store the resolved user id in the gin context.
func AuthMiddleware(states *state.Manager) gin.HandlerFunc {
	if config.AuthMode == "auth0" {
		return Auth0Middleware()
	}
	return SessionMiddleware(states)
}

// SessionMiddleware resolves the caller from the session store. The session
// id comes from the X-Session-ID header or the session_id cookie.
func SessionMiddleware(states *state.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := c.GetHeader("X-Session-ID")
		if sid == "" {
			sid, _ = c.Cookie("session_id")
		}
		if sid == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing session"})
			c.Abort()
			return
		}
		session, err := states.GetSession(c.Request.Context(), sid)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid session"})
			c.Abort()
			return
		}
		c.Set("user_id", session.UserID)
		c.Next()
	}
}

// Auth0Middleware validates Auth0 JWT tokens.
func Auth0Middleware() gin.HandlerFunc {
	issuerURL, _ := url.Parse(fmt.Sprintf("https://%s/", config.Auth0Domain))
	provider := jwks.NewCachingProvider(issuerURL, 24*time.Hour)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{config.Auth0Audience},
	)
	if err != nil {
		// Only possible with invalid startup configuration.
		panic(fmt.Sprintf("Failed to create JWT validator: %v", err))
	}
	slog.Info("Auth0 middleware initialized", "domain", config.Auth0Domain, "audience", config.Auth0Audience)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization header"})
			c.Abort()
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}
		token, err := jwtValidator.ValidateToken(c.Request.Context(), tokenString)
		if err != nil {
			slog.Warn("Token validation failed", "error", err, "path", c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.(*validator.ValidatedClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			c.Abort()
			return
		}
		c.Set("user_id", claims.RegisteredClaims.Subject)
		c.Next()
	}
}

// GetUserID returns the authenticated user id (use after AuthMiddleware).
func GetUserID(c *gin.Context) (string, error) {
	userID, exists := c.Get("user_id")
	if !exists {
		return "", fmt.Errorf("user not authenticated")
	}
	s, ok := userID.(string)
	if !ok {
		return "", fmt.Errorf("invalid user ID type")
	}
	return s, nil
}
