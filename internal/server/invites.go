package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	organizationdomain "github.com/smallbiznis/orgboard/internal/organization/domain"
)

type createInviteRequest struct {
	OrgID string `json:"org_id" binding:"required"`
	Email string `json:"email" binding:"required"`
	Role  string `json:"role"`
}

func (s *Server) CreateInvite(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Role == "" {
		req.Role = organizationdomain.RoleMember
	}

	if s.inviteLimiter.Enabled() {
		result, err := s.inviteLimiter.AllowOrg(c.Request.Context(), req.OrgID)
		if err == nil && !result.Allowed {
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), req.OrgID, "invites", "org")
			c.Header("Retry-After", formatSeconds(result.RetryAfter))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
	}

	invite, err := s.organizationSvc.CreateInvite(c.Request.Context(), userID, req.OrgID, organizationdomain.InviteRequest{
		Email: req.Email,
		Role:  req.Role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, invite)
}

func (s *Server) ListPendingInvites(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	invites, err := s.organizationSvc.ListPendingInvites(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invites": invites})
}

func (s *Server) RedeemInvite(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	email, ok := currentUserEmail(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.organizationSvc.RedeemInvite(c.Request.Context(), userID, email, c.Param("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
