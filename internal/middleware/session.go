package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prepin/attempt-engine/internal/response"
	"github.com/prepin/attempt-engine/internal/service"
)

// CheckSingleDeviceSession validates the JWT's JTI against the active login
// in Redis. A mismatch means a newer login superseded this token, so the
// stale device is cut off before it can mutate a live attempt session.
func CheckSingleDeviceSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if err := authService.ValidateLearnerSession(c.Request.Context(), claims.LearnerID, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}

		c.Next()
	}
}
