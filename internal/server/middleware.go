package server

import (
	"math"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/orgboard/internal/observability/context"
)

const (
	contextUserIDKey    = "user_id"
	contextUserEmailKey = "user_email"
)

// WebAuthRequired authenticates the session cookie and stashes the
// user identity on the request context.
func (s *Server) WebAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		session, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		user, err := s.authsvc.GetUser(c.Request.Context(), session.UserID)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserIDKey, user.ID)
		c.Set(contextUserEmailKey, user.Email)
		c.Request = c.Request.WithContext(
			obscontext.WithActor(c.Request.Context(), "user", user.ID.String()),
		)
		c.Next()
	}
}

// InviteRateLimit throttles invite issuance per actor. Disabled
// limiters pass everything through.
func (s *Server) InviteRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.inviteLimiter.Enabled() {
			c.Next()
			return
		}

		actorID, ok := currentUserID(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		result, err := s.inviteLimiter.AllowActor(c.Request.Context(), actorID.String())
		if err != nil {
			// Rate limiting is advisory, an unreachable redis must not
			// take down invite issuance.
			c.Next()
			return
		}
		if !result.Allowed {
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "", "invites", "actor")
			c.Header("Retry-After", formatSeconds(result.RetryAfter))
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), "", "invites")
		c.Next()
	}
}

func formatSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func currentUserID(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(snowflake.ID)
	return id, ok
}

func currentUserEmail(c *gin.Context) (string, bool) {
	value, ok := c.Get(contextUserEmailKey)
	if !ok {
		return "", false
	}
	email, ok := value.(string)
	return email, ok
}
