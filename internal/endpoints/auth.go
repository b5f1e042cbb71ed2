package endpoints

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slidespeaker/internal/config"
)

// SessionRequest identifies the user a session is created for
type SessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// HandleCreateSession returns a handler that issues a session id. Only
// available in session auth mode; auth0 deployments authenticate with
// bearer tokens instead.
// @Summary      Create a session
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body SessionRequest true "User to start a session for"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Router       /auth/session [post]
func HandleCreateSession(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.AuthMode != "session" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Sessions are disabled"})
			return
		}
		var req SessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		sessionID, err := app.States.CreateSession(c.Request.Context(), req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "user_id": req.UserID})
	}
}

// HandleDeleteSession returns a handler that ends the caller's session
// @Summary      Delete a session
// @Tags         auth
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /auth/session [delete]
func HandleDeleteSession(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := c.GetHeader("X-Session-ID")
		if sid == "" {
			sid, _ = c.Cookie("session_id")
		}
		if sid != "" {
			if err := app.States.DeleteSession(c.Request.Context(), sid); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
	}
}
