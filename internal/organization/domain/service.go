package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ValidRole reports whether role is one of the assignable roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleMember
}

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateOrganizationRequest) (*OrganizationResponse, error)
	Get(ctx context.Context, userID snowflake.ID, orgID string) (*OrganizationResponse, error)
	Update(ctx context.Context, userID snowflake.ID, orgID string, req UpdateOrganizationRequest) (*OrganizationResponse, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)

	ListMembers(ctx context.Context, userID snowflake.ID, orgID string) ([]MemberResponse, error)
	SetMemberRole(ctx context.Context, actorID snowflake.ID, orgID string, targetUserID string, role string) (*MemberResponse, error)

	CreateInvite(ctx context.Context, actorID snowflake.ID, orgID string, req InviteRequest) (*InviteResponse, error)
	ListPendingInvites(ctx context.Context, actorID snowflake.ID, orgID string) ([]InviteResponse, error)
	RedeemInvite(ctx context.Context, userID snowflake.ID, userEmail string, token string) (*RedeemResult, error)
}

type CreateOrganizationRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url"`
}

type UpdateOrganizationRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	LogoURL     *string `json:"logo_url"`
}

type InviteRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

type OrganizationResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	LogoURL     string    `json:"logo_url"`
	CreatedAt   time.Time `json:"created_at"`
}

type OrganizationListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type MemberResponse struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// InviteResponse describes an issued invite. JoinURL is only populated
// on issuance; listings omit it so tokens never leave the issuing call.
type InviteResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	JoinURL   string    `json:"join_url,omitempty"`
	InvitedBy string    `json:"invited_by"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RedeemResult describes the membership that resulted from redeeming an
// invite.
type RedeemResult struct {
	OrgID   string `json:"org_id"`
	OrgName string `json:"org_name"`
	Slug    string `json:"slug"`
	Role    string `json:"role"`
}

var (
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidEmail         = errors.New("invalid_email")
	ErrInvalidRole          = errors.New("invalid_role")
	ErrForbidden            = errors.New("forbidden")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrMemberNotFound       = errors.New("member_not_found")
	ErrLastAdmin            = errors.New("last_admin")
	ErrInviteNotFound       = errors.New("invite_not_found")
	ErrInviteExpired        = errors.New("invite_expired")
	ErrInviteAlreadyUsed    = errors.New("invite_already_used")
	ErrEmailMismatch        = errors.New("invite_email_mismatch")
)
